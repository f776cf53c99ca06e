package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/poiesic/ragify"
	"github.com/poiesic/ragify/ingestion/kafka"
	"github.com/poiesic/ragify/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Process queued ingestion jobs and reconcile the index until interrupted",
		Action: workerAction,
	}
}

func workerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var opts []ragify.Option
	if cfg.Metrics.Addr != "" {
		opts = append(opts, ragify.WithMetrics(prometheus.DefaultRegisterer))
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := ragify.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	logger := slog.Default().With("component", "worker")
	recovered, err := e.Queue().Recover(ctx)
	if err != nil {
		return err
	}
	logger.Info("worker started", "recovered_jobs", recovered,
		"kafka", len(cfg.Kafka.Brokers) > 0, "metrics", cfg.Metrics.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Reconciler().Run(gctx, cfg.Ingestion.ReconcileInterval)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{cfg.Kafka.Topic}, e.Queue())
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("worker stopping", "pending_jobs", e.Queue().Pending())
	return err
}
