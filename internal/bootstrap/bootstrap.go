// Package bootstrap wires the sync pipeline from a loaded configuration. Both
// binaries build on it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/mappy4ever/tcgsync/internal/app"
	"github.com/mappy4ever/tcgsync/internal/config"
	"github.com/mappy4ever/tcgsync/internal/infra/catalog"
	"github.com/mappy4ever/tcgsync/internal/infra/queue"
	"github.com/mappy4ever/tcgsync/internal/infra/repos/runs"
	"github.com/mappy4ever/tcgsync/internal/infra/store"
	"github.com/mappy4ever/tcgsync/internal/logging"
	"github.com/mappy4ever/tcgsync/internal/ratelimit"
	"github.com/mappy4ever/tcgsync/internal/upstream"
)

// NewLogger returns the file-rotating logger when log.file is set.
func NewLogger(cfg config.LogConfig) *logging.Logger {
	if cfg.File == "" {
		return logging.NewLogger(cfg.Level)
	}
	return logging.NewFileLogger(cfg.Level, logging.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}

type Stack struct {
	DB           *store.DB
	Runs         runs.Repository
	Catalog      *catalog.Store
	Client       *upstream.Client
	Tracker      *app.Tracker
	Orchestrator *app.Orchestrator
	Queue        queue.Queue
	Service      *app.SyncService
}

// Build opens the store, applies migrations and assembles the pipeline. The
// caller owns the returned stack and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Stack, error) {
	db, err := store.Open(cfg.Store.Kind, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	repo := runs.New(db)
	if err := repo.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store %s: %w", db.RedactedDSN(), err)
	}

	client, err := upstream.NewClient(
		upstream.WithBaseURL(cfg.Upstream.BaseURL),
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithRetry(cfg.Upstream.RetryAttempts, cfg.Upstream.RetryBaseDelay),
		upstream.WithLimiter(ratelimit.New(cfg.Upstream.RateInterval, cfg.Upstream.RateBurst)),
		upstream.WithBreaker(cfg.Upstream.BreakerThreshold, cfg.Upstream.BreakerCooldown),
		upstream.WithLogger(logger),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	q, err := openQueue(ctx, cfg.Queue, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	cat := catalog.New(db)
	tracker := app.NewTracker(repo, logger)
	orch := app.NewOrchestrator(client, cat, tracker, app.OrchestratorConfig{
		BatchSize:    cfg.Sync.BatchSize,
		RecordPrices: cfg.Sync.RecordPrices,
	}, logger)

	logger.Infow("bootstrap.ready", map[string]any{
		"store":    string(db.Kind),
		"dsn":      db.RedactedDSN(),
		"queue":    cfg.Queue.Kind,
		"upstream": cfg.Upstream.BaseURL,
	})
	return &Stack{
		DB:           db,
		Runs:         repo,
		Catalog:      cat,
		Client:       client,
		Tracker:      tracker,
		Orchestrator: orch,
		Queue:        q,
		Service:      app.NewSyncService(orch, tracker, repo, q, logger),
	}, nil
}

func openQueue(ctx context.Context, cfg config.QueueConfig, db *store.DB) (queue.Queue, error) {
	switch cfg.Kind {
	case "redis":
		q, err := queue.DialRedisQueue(ctx, cfg.RedisAddr, cfg.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("redis queue: %w", err)
		}
		return q, nil
	default:
		return queue.NewSQLQueue(db, cfg.PollInterval), nil
	}
}

// Workers returns n queue consumers named worker-1..worker-n.
func (s *Stack) Workers(n int, logger *logging.Logger) []*app.Worker {
	out := make([]*app.Worker, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, app.NewWorker(fmt.Sprintf("worker-%d", i), s.Queue, s.Runs, s.Orchestrator, logger))
	}
	return out
}

func (s *Stack) Close() error {
	return errors.Join(s.Queue.Close(), s.DB.Close())
}
