package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bizdash/internal/api"
	"bizdash/internal/config"
	"bizdash/internal/ingest"
	"bizdash/internal/logging"
	"bizdash/internal/metrics"
	"bizdash/internal/publish"
	"bizdash/internal/refresh"
	"bizdash/internal/source"
	"bizdash/internal/state"
	"bizdash/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides CONFIG_PATH)")
	flag.Parse()
	if *configPath != "" {
		_ = os.Setenv(config.ConfigPathEnvVar, *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("dashboard failed")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := metrics.NewRegistry()

	st, err := state.New(cfg.State.Backend)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	defer st.Close()

	src, err := source.FromConfig(cfg, reg)
	if err != nil {
		return fmt.Errorf("init source: %w", err)
	}

	pub, err := publish.FromConfig(ctx, cfg.Publish)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer pub.Close()

	parser := ingest.NewParser(ingest.WithLocation(cfg.Location()))
	refresher := refresh.New(refresh.Config{
		Dataset:      cfg.Refresh.Dataset,
		Interval:     cfg.Refresh.Interval,
		FetchTimeout: cfg.Source.Timeout,
		OnStart:      cfg.Refresh.OnStart,
	}, src, parser, st, refresh.WithPublisher(pub), refresh.WithMetrics(reg))

	var handlerOpts []api.HandlerOption
	if sheets, ok := src.(*source.SheetsSource); ok {
		handlerOpts = append(handlerOpts, api.WithBreakerState(func() string { return sheets.State().String() }))
	}
	router := api.NewRouter(api.NewHandler(st, refresher, handlerOpts...), api.RouterConfig{
		RefreshPerMinute: cfg.Server.RefreshRateLimit,
		Metrics:          reg.Handler(),
	})
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddPipelineService(refresher)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("source", src.Name()).
		Str("state", cfg.State.Backend).
		Strs("sinks", cfg.Publish.Sinks).
		Dur("interval", cfg.Refresh.Interval).
		Msg("starting dashboard")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	logging.Info().Msg("dashboard stopped")
	return nil
}
