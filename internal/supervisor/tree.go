// Package supervisor hosts the long-running services of tcgsync-api (HTTP
// server and queue workers) under a suture tree.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/mappy4ever/tcgsync/internal/logging"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: api (the HTTP server) and workers.
type Tree struct {
	root    *suture.Supervisor
	api     *suture.Supervisor
	workers *suture.Supervisor
}

func NewTree(logger *logging.Logger, cfg TreeConfig) *Tree {
	d := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = d.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = d.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(logger.WithComponent("supervisor"))

	root := suture.New("tcgsync", rootSpec)
	api := suture.New("api", spec)
	workers := suture.New("workers", spec)
	root.Add(api)
	root.Add(workers)
	return &Tree{root: root, api: api, workers: workers}
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken {
	return t.workers.Add(svc)
}

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// Unstopped names the services that did not stop within the shutdown
// timeout. Only meaningful after Serve has returned.
func (t *Tree) Unstopped() []string {
	report, err := t.root.UnstoppedServiceReport()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(report))
	for _, u := range report {
		names = append(names, u.Name)
	}
	return names
}

// EventHook logs supervisor events through logger.
func EventHook(logger *logging.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := e.Map()
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			logger.Errorw("supervisor.service.failed", fields)
		case suture.EventTypeBackoff:
			logger.Warnw("supervisor.backoff", fields)
		case suture.EventTypeResume:
			logger.Infow("supervisor.resume", fields)
		default:
			logger.Warnw("supervisor.event", fields)
		}
	}
}

// HTTPServer is the part of *http.Server the service needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until its context is cancelled, then shuts
// it down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server"
}
