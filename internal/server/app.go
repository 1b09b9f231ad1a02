// Package server assembles the mock backend: stores, progress hub and sinks,
// task runner, and HTTP server, and runs them until the context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/research-admin/internal/clock/system"
	"github.com/JakeFAU/research-admin/internal/config"
	"github.com/JakeFAU/research-admin/internal/id/uuid"
	"github.com/JakeFAU/research-admin/internal/mockbackend"
	"github.com/JakeFAU/research-admin/internal/progress"
	progresssinks "github.com/JakeFAU/research-admin/internal/progress/sinks"
	"github.com/JakeFAU/research-admin/internal/storage/memory"
)

const shutdownTimeout = 10 * time.Second

// App contains the mock backend's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	progressHub *progress.Hub
	runner      *mockbackend.Runner
	apiServer   *mockbackend.Server
}

// Build wires every component. The registerer receives the progress sink
// collectors; nil means the Prometheus default registry.
func Build(cfg config.Config, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}

	clock := system.New()
	tasks := memory.NewTaskStore(clock.Now)
	chats := memory.NewChatStore()
	broker := mockbackend.NewBroker()

	hub, err := setupProgress(app, broker, reg)
	if err != nil {
		return nil, err
	}
	app.progressHub = hub

	app.runner = mockbackend.NewRunner(mockbackend.RunnerConfig{
		Workers:      cfg.Mock.Workers,
		QueueDepth:   cfg.Mock.QueueDepth,
		ItemDelay:    cfg.Mock.ItemDelay(),
		FailingItems: cfg.Mock.FailingItems,
	}, tasks, hub, logger.Named("runner"))
	logger.Info("runner config",
		zap.Int("workers", cfg.Mock.Workers),
		zap.Int("queue_depth", cfg.Mock.QueueDepth),
		zap.Duration("item_delay", cfg.Mock.ItemDelay()),
		zap.Strings("failing_items", cfg.Mock.FailingItems),
	)

	app.apiServer = mockbackend.NewServer(
		mockbackend.Config{
			TotalItems: cfg.Mock.TotalItems,
			Heartbeat:  cfg.Mock.Heartbeat(),
			WriteRPS:   cfg.Mock.WriteRPS,
			WriteBurst: cfg.Mock.WriteBurst,
		},
		tasks,
		chats,
		app.runner,
		broker,
		uuid.WithPrefix("task"),
		uuid.New(),
		clock,
		logger.Named("http"),
	)
	return app, nil
}

func setupProgress(app *App, broker *mockbackend.Broker, reg prometheus.Registerer) (*progress.Hub, error) {
	sinkList := []progress.Sink{broker}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   app.cfg.Progress.Batch.MaxWait(),
		Logger:         app.logger.Named("progress_hub"),
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return hub, nil
}

// Handler exposes the HTTP handler, e.g. for httptest servers.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves on addr and processes tasks until ctx is canceled or the
// listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		a.logger.Info("runner started")
		a.runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close flushes the progress hub and its sinks.
func (a *App) Close(ctx context.Context) error {
	if err := a.progressHub.Close(ctx); err != nil {
		return fmt.Errorf("close progress hub: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}
