package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/TrackBridge/config"
	"github.com/BearBump/TrackBridge/internal/services/poller"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type bridgeHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	poller   *poller.Poller
	cfg      *config.Config
	gatherer prometheus.Gatherer
}

func newBridgeRouter(opts bridgeHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.poller == nil {
			_, _ = w.Write([]byte(`{"error":"poller not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// no token, no passwords
		out := map[string]any{
			"trackerUrl":          opts.cfg.Tracker.BaseURL,
			"trackerVerifyTls":    opts.cfg.Tracker.VerifyTLS,
			"sinkPort":            opts.cfg.Sink.Port,
			"sinkVerifyTls":       opts.cfg.Sink.VerifyTLS,
			"pollIntervalSeconds": int(opts.cfg.PollInterval().Seconds()),
			"historyMode":         opts.cfg.History.Mode,
			"sessionStore":        opts.cfg.History.StoreBackend,
			"rateLimitPerMinute":  opts.cfg.History.RateLimitPerMinute,
			"journalEnabled":      opts.cfg.Database.Host != "",
			"kafkaEnabled":        opts.cfg.Kafka.Host != "",
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.poller == nil {
			_, _ = w.Write([]byte(`{"error":"poller not wired"}`))
			return
		}
		opts.poller.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	if opts.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func runBridgeHTTPServer(ctx context.Context, opts bridgeHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8090"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newBridgeRouter(opts), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
