package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/TrackBridge/config"
	"github.com/BearBump/TrackBridge/internal/broker/kafka"
	"github.com/BearBump/TrackBridge/internal/cache/rediscache"
	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/integrations/history/fake"
	"github.com/BearBump/TrackBridge/internal/integrations/history/httphelper"
	"github.com/BearBump/TrackBridge/internal/integrations/osmand"
	"github.com/BearBump/TrackBridge/internal/integrations/traccar"
	"github.com/BearBump/TrackBridge/internal/metrics"
	"github.com/BearBump/TrackBridge/internal/services/poller"
	"github.com/BearBump/TrackBridge/internal/sessionstore"
	"github.com/BearBump/TrackBridge/internal/storage/pgrunlog"
	"github.com/prometheus/client_golang/prometheus"
)

type bridgeFactories struct {
	newJournal         func(cfg *config.Config) (j poller.Journal, closeFn func(), err error)
	newProducer        func(cfg *config.Config) poller.Producer
	newRateLimiter     func(cfg *config.Config) poller.RateLimiter
	newSessionStore    func(cfg *config.Config) sessionstore.Store
	newHistoryProvider func(cfg *config.Config) history.Provider
}

func defaultBridgeFactories() bridgeFactories {
	return bridgeFactories{
		newJournal: func(cfg *config.Config) (poller.Journal, func(), error) {
			if cfg.Database.Host == "" {
				return nil, nil, nil
			}
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgrunlog.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			if cfg.Redis.Host == "" || cfg.History.RateLimitPerMinute <= 0 {
				return nil
			}
			return rediscache.NewRateLimiter(redisAddr(cfg))
		},
		newSessionStore: func(cfg *config.Config) sessionstore.Store {
			if cfg.History.StoreBackend == "redis" {
				return sessionstore.NewCacheStore(rediscache.New(redisAddr(cfg)), cfg.History.StoreRedisKey)
			}
			return sessionstore.NewFileStore(cfg.History.StorePath)
		},
		newHistoryProvider: func(cfg *config.Config) history.Provider {
			if cfg.History.Mode == "fake" {
				return fake.New()
			}
			return httphelper.New(cfg.History.HelperURL, cfg.History.AnisetteLibsPath)
		},
	}
}

func redisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
}

func newTrackerClient(cfg *config.Config) *traccar.Client {
	opts := []traccar.Option{traccar.WithTimeout(time.Duration(cfg.Tracker.TimeoutSeconds) * time.Second)}
	if !cfg.Tracker.VerifyTLS {
		opts = append(opts, traccar.WithInsecureTLS())
	}
	return traccar.New(cfg.Tracker.BaseURL, cfg.Tracker.Token, opts...)
}

func newSinkClient(cfg *config.Config) *osmand.Client {
	return osmand.New(cfg.Tracker.BaseURL, osmand.Settings{
		Port:      cfg.Sink.Port,
		Timeout:   time.Duration(cfg.Sink.TimeoutSeconds) * time.Second,
		VerifyTLS: cfg.Sink.VerifyTLS,
		BodyLimit: cfg.Sink.BodyLimit,
	})
}

// buildPoller wires the orchestrator; the returned close func releases
// optional backends.
func buildPoller(cfg *config.Config, f bridgeFactories, reg prometheus.Registerer) (*poller.Poller, func(), error) {
	journal, closeFn, err := f.newJournal(cfg)
	if err != nil {
		return nil, nil, err
	}
	if closeFn == nil {
		closeFn = func() {}
	}

	p := poller.New(newTrackerClient(cfg), f.newHistoryProvider(cfg), f.newSessionStore(cfg), newSinkClient(cfg)).
		WithSettings(cfg.PollInterval(), int64(cfg.History.RateLimitPerMinute)).
		WithMetrics(metrics.New(reg))

	if journal != nil {
		p = p.WithJournal(journal)
	}
	if producer := f.newProducer(cfg); producer != nil {
		p = p.WithProducer(producer, cfg.Kafka.PushTopicName)
	}
	if rl := f.newRateLimiter(cfg); rl != nil {
		p = p.WithRateLimiter(rl)
	}
	return p, closeFn, nil
}

// RunBridge runs the poll loop (and the ops server when an address is set)
// until ctx is done. With once set it performs a single run instead.
func RunBridge(ctx context.Context, cfg *config.Config, f bridgeFactories, once bool) error {
	reg := prometheus.NewRegistry()
	p, closeFn, err := buildPoller(cfg, f, reg)
	if err != nil {
		return err
	}
	defer closeFn()

	if once {
		_, err := p.RunOnce(ctx)
		return err
	}

	if cfg.Worker.HTTPAddr != "" {
		go func() {
			err := runBridgeHTTPServer(ctx, bridgeHTTPOpts{
				httpAddr: cfg.Worker.HTTPAddr,
				poller:   p,
				cfg:      cfg,
				gatherer: reg,
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("ops http server", "error", err.Error())
			}
		}()
	}

	slog.Info("bridge started", "tracker", cfg.Tracker.BaseURL, "period", p.PollInterval().String())
	return p.Run(ctx)
}
