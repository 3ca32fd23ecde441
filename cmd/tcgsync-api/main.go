package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mappy4ever/tcgsync/internal/api"
	"github.com/mappy4ever/tcgsync/internal/auth"
	"github.com/mappy4ever/tcgsync/internal/bootstrap"
	"github.com/mappy4ever/tcgsync/internal/config"
	"github.com/mappy4ever/tcgsync/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "Config file (default $TCGSYNC_CONFIG or ./tcgsync.yaml)")
	bindAddr := flag.String("bind", "", "Bind address (overrides server.bind_addr)")
	logLevel := flag.String("log-level", "", "Log level (overrides log.level)")
	workers := flag.Int("workers", 0, "Queue consumers (overrides sync.workers)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		bootstrap.NewLogger(config.Defaults().Log).Errorw("startup.failed", map[string]any{"error": err.Error(), "stage": "config"})
		os.Exit(1)
	}
	if *bindAddr != "" {
		cfg.Server.BindAddr = *bindAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *workers > 0 {
		cfg.Sync.Workers = *workers
	}

	logger := bootstrap.NewLogger(cfg.Log)
	mainLog := logger.WithComponent("api_main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		mainLog.Errorw("startup.failed", map[string]any{"error": err.Error(), "stage": "bootstrap"})
		os.Exit(1)
	}
	defer stack.Close()

	// runs abandoned by a previous process would otherwise block full and delta syncs
	if cfg.Sync.StaleAfter > 0 {
		closed, err := stack.Service.ReconcileStale(ctx, cfg.Sync.StaleAfter)
		if err != nil {
			mainLog.Warnw("startup.reconcile_failed", map[string]any{"error": err.Error()})
		} else if len(closed) > 0 {
			mainLog.Warnw("startup.reconciled", map[string]any{"runs": len(closed)})
		}
	}

	authenticator := auth.New(cfg.Auth)
	if !authenticator.Configured() {
		mainLog.Warnw("startup.auth_missing", map[string]any{"detail": "no admin credential configured; every sync request will be rejected"})
	}

	handler := api.NewHandler(stack.Service, authenticator, stack.DB, logger)
	srv := &http.Server{
		Addr:              cfg.Server.BindAddr,
		Handler:           api.NewRouter(handler, api.RouterConfig{TriggerRatePerMinute: cfg.Server.TriggerRatePerMinute}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout))
	for _, w := range stack.Workers(cfg.Sync.Workers, logger) {
		tree.AddWorker(w)
	}

	mainLog.Infow("startup.listening", map[string]any{"bind": cfg.Server.BindAddr, "workers": cfg.Sync.Workers})
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		mainLog.Errorw("shutdown.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if unstopped := tree.Unstopped(); len(unstopped) > 0 {
		mainLog.Warnw("shutdown.unstopped", map[string]any{"services": unstopped})
	}
	mainLog.Infow("shutdown.complete", nil)
}
