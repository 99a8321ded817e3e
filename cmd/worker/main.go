package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/file-organiser/internal/adapters/http"
	"github.com/kirillkom/file-organiser/internal/bootstrap"
	"github.com/kirillkom/file-organiser/internal/config"
	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/watch"
	"github.com/kirillkom/file-organiser/internal/observability/logging"
	"github.com/kirillkom/file-organiser/internal/observability/metrics"
)

const service = "organizer-worker"

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg := config.Load()
	logger, logCloser := logging.New(service, logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: service, Logger: logger, Processing: true})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(app.Scheduler, app.Scheduler, httpadapter.Options{
		Service:        service,
		Logger:         logger,
		Metrics:        metrics.NewHTTPServerMetrics(service, app.Metrics.Registry()),
		MetricsHandler: app.Metrics.Handler(),
	}).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("trigger api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.SchedulerEnabled {
		group.Go(func() error {
			return app.Scheduler.Run(groupCtx)
		})
	}

	if app.Bus != nil {
		group.Go(func() error {
			logger.Info("trigger bus subscribed", "subject", cfg.NATSTriggerSubject)
			return app.Bus.SubscribeTenantTriggers(groupCtx, func(tenant domain.Tenant) error {
				return app.Scheduler.TriggerAsync(tenant)
			})
		})
	}

	if cfg.WatchQueues {
		watcher, err := watch.New(app.Store.Root(), app.Scheduler, watch.Options{Logger: logger})
		if err != nil {
			stop()
			_ = group.Wait()
			return fmt.Errorf("queue watcher: %w", err)
		}
		group.Go(func() error {
			logger.Info("queue watcher started", "root", app.Store.Root())
			return watcher.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
