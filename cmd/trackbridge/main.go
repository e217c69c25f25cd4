package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BearBump/TrackBridge/config"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

type cliFlags struct {
	url       string
	token     string
	period    int
	config    string
	httpAddr  string
	once      bool
	logFormat string
	logLevel  string
}

func parseFlags(args []string) (*cliFlags, error) {
	fs := pflag.NewFlagSet("trackbridge", pflag.ContinueOnError)
	f := &cliFlags{}
	fs.StringVar(&f.url, "url", "", "Traccar base URL (default http://localhost:8082)")
	fs.StringVar(&f.token, "token", "", "Traccar API token (env TRACCAR_TOKEN)")
	fs.IntVar(&f.period, "period", 0, "seconds between runs (default 3600)")
	fs.StringVar(&f.config, "config", os.Getenv("configPath"), "path to YAML config")
	fs.StringVar(&f.httpAddr, "http-addr", "", "ops HTTP listen address, empty disables it")
	fs.BoolVar(&f.once, "once", false, "perform a single run and exit")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text|json")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// resolveConfig layers flags and env over the YAML file over defaults.
func resolveConfig(f *cliFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.config)
	if err != nil {
		return nil, err
	}
	if f.url != "" {
		cfg.Tracker.BaseURL = f.url
	}
	switch {
	case f.token != "":
		cfg.Tracker.Token = f.token
	case cfg.Tracker.Token == "":
		cfg.Tracker.Token = os.Getenv("TRACCAR_TOKEN")
	}
	if f.period > 0 {
		cfg.Worker.PollIntervalSeconds = f.period
	}
	if f.httpAddr != "" {
		cfg.Worker.HTTPAddr = f.httpAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(format, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	setupLogger(f.logFormat, f.logLevel)

	cfg, err := resolveConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trackbridge: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunBridge(ctx, cfg, defaultBridgeFactories(), f.once); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("bridge stopped", "error", err.Error())
		cancel()
		os.Exit(1)
	}
}
