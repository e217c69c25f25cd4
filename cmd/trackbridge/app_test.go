package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BearBump/TrackBridge/config"
	"github.com/BearBump/TrackBridge/internal/cache/rediscache"
	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/integrations/history/fake"
	"github.com/BearBump/TrackBridge/internal/integrations/history/httphelper"
	"github.com/BearBump/TrackBridge/internal/services/poller"
	"github.com/BearBump/TrackBridge/internal/sessionstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func testFactories(closeFn func()) bridgeFactories {
	return bridgeFactories{
		newJournal: func(cfg *config.Config) (poller.Journal, func(), error) {
			return nil, closeFn, nil
		},
		newProducer:    func(cfg *config.Config) poller.Producer { return nil },
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter { return nil },
		newSessionStore: func(cfg *config.Config) sessionstore.Store {
			return sessionstore.NewFileStore(cfg.History.StorePath)
		},
		newHistoryProvider: func(cfg *config.Config) history.Provider { return fake.New() },
	}
}

func TestDefaultBridgeFactories_SelectProviderAndStore(t *testing.T) {
	f := defaultBridgeFactories()

	cfg := config.Default()
	_, ok := f.newHistoryProvider(cfg).(*httphelper.Provider)
	require.True(t, ok)
	_, ok = f.newSessionStore(cfg).(*sessionstore.FileStore)
	require.True(t, ok)

	cfg.History.Mode = "fake"
	cfg.History.StoreBackend = "redis"
	cfg.Redis = config.RedisConfig{Host: "localhost", Port: 6379}
	_, ok = f.newHistoryProvider(cfg).(*fake.Provider)
	require.True(t, ok)
	_, ok = f.newSessionStore(cfg).(*sessionstore.CacheStore)
	require.True(t, ok)
}

func TestDefaultBridgeFactories_OptionalBackends(t *testing.T) {
	f := defaultBridgeFactories()

	cfg := config.Default()
	require.Nil(t, f.newProducer(cfg))
	require.Nil(t, f.newRateLimiter(cfg))
	j, closeFn, err := f.newJournal(cfg)
	require.NoError(t, err)
	require.Nil(t, j)
	require.Nil(t, closeFn)

	cfg.Kafka = config.KafkaConfig{Host: "localhost", Port: 9092}
	cfg.Redis = config.RedisConfig{Host: "localhost", Port: 6379}
	cfg.History.RateLimitPerMinute = 30
	require.NotNil(t, f.newProducer(cfg))
	rl, ok := f.newRateLimiter(cfg).(*rediscache.RateLimiter)
	require.True(t, ok)
	require.NoError(t, rl.Close())
}

func TestRunBridge_ContextCanceled(t *testing.T) {
	calledClose := false
	cfg := config.Default()
	cfg.Tracker.Token = "tok"
	cfg.History.StorePath = filepath.Join(t.TempDir(), "account.json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunBridge(ctx, cfg, testFactories(func() { calledClose = true }), false)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestRunBridge_OnceReturnsRunError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Tracker.BaseURL = srv.URL
	cfg.Tracker.Token = "bad"
	cfg.History.StorePath = filepath.Join(t.TempDir(), "account.json")

	err := RunBridge(context.Background(), cfg, testFactories(nil), true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestResolveConfig_FlagsOverrideFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracker:\n  base_url: https://file.example\n  token: from-file\nhistory:\n  mode: fake\nworker:\n  poll_interval_seconds: 60\n"), 0o600))

	t.Setenv("TRACCAR_TOKEN", "from-env")

	f, err := parseFlags([]string{"--config", path, "--period", "120", "--once"})
	require.NoError(t, err)
	require.True(t, f.once)

	cfg, err := resolveConfig(f)
	require.NoError(t, err)
	require.Equal(t, "https://file.example", cfg.Tracker.BaseURL)
	require.Equal(t, "from-file", cfg.Tracker.Token)
	require.Equal(t, 120, cfg.Worker.PollIntervalSeconds)

	f, err = parseFlags([]string{"--config", path, "--url", "https://flag.example", "--token", "from-flag"})
	require.NoError(t, err)
	cfg, err = resolveConfig(f)
	require.NoError(t, err)
	require.Equal(t, "https://flag.example", cfg.Tracker.BaseURL)
	require.Equal(t, "from-flag", cfg.Tracker.Token)
	require.Equal(t, 60, cfg.Worker.PollIntervalSeconds)
}

func TestResolveConfig_TokenFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history:\n  helper_url: http://localhost:6176\n"), 0o600))
	t.Setenv("configPath", path)
	t.Setenv("TRACCAR_TOKEN", "from-env")

	f, err := parseFlags(nil)
	require.NoError(t, err)
	cfg, err := resolveConfig(f)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Tracker.Token)
	require.Equal(t, "http://localhost:8082", cfg.Tracker.BaseURL)
	require.Equal(t, 3600, cfg.Worker.PollIntervalSeconds)
	require.Equal(t, "http://localhost:5055", newSinkClient(cfg).Endpoint())
}

func TestResolveConfig_HelperURLRequired(t *testing.T) {
	t.Setenv("configPath", "")
	t.Setenv("TRACCAR_TOKEN", "tok")

	f, err := parseFlags(nil)
	require.NoError(t, err)
	_, err = resolveConfig(f)
	require.Error(t, err)
	require.Contains(t, err.Error(), "helper_url")
}

func TestResolveConfig_MissingToken(t *testing.T) {
	t.Setenv("configPath", "")
	t.Setenv("TRACCAR_TOKEN", "")

	f, err := parseFlags(nil)
	require.NoError(t, err)
	_, err = resolveConfig(f)
	require.Error(t, err)
	require.Contains(t, err.Error(), "token")
}

func TestBridgeRouter(t *testing.T) {
	cfg := config.Default()
	cfg.Tracker.Token = "secret-token"
	reg := prometheus.NewRegistry()
	p, _, err := buildPoller(cfg, testFactories(nil), reg)
	require.NoError(t, err)

	srv := httptest.NewServer(newBridgeRouter(bridgeHTTPOpts{poller: p, cfg: cfg, gatherer: reg}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/config")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	_ = resp.Body.Close()
	require.Equal(t, "http://localhost:8082", out["trackerUrl"])
	for _, v := range out {
		if s, ok := v.(string); ok {
			require.NotContains(t, s, "secret")
		}
	}

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var st poller.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	require.Zero(t, st.TotalRuns)

	resp, err = http.Post(srv.URL+"/trigger", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, p.Stats().LastTriggerAt)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}
