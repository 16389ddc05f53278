package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/bus/mqtt"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/sqlstore"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/health"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/obs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the access engine",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := obs.NewLogger(cfg.Env, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := obs.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(ctx, cfg.Store())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	writer := db.NewWorker(sqlDB)
	defer writer.Close()

	client := mqtt.New(mqtt.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	}, logger.With("component", "mqtt"))

	dispatcher := service.NewDispatcher(client, service.DispatcherConfig{
		QueueSize:  cfg.Dispatch.QueueSize,
		QoS:        byte(cfg.Dispatch.QoS),
		MaxRetries: cfg.Dispatch.MaxRetries,
		RetryBase:  cfg.Dispatch.RetryBase,
		RetryMax:   cfg.Dispatch.RetryMax,
	}, logger.With("component", "dispatcher"), metrics)

	pipeline := service.NewPipeline(
		sqlstore.NewEventStore(writer),
		service.NewReaderRegistry(cfg.Ingest.TopicPrefix),
		dispatcher,
		service.PipelineConfig{
			Encoding: cfg.Encoding(),
			Location: loc,
			Timeout:  cfg.DB.Timeout,
		},
		logger.With("component", "pipeline"),
		metrics,
	)

	loop := service.NewIngestLoop(client, pipeline, service.IngestConfig{
		Filter:        cfg.Ingest.Filter,
		QoS:           byte(cfg.Ingest.QoS),
		Workers:       cfg.Ingest.Workers,
		ReconnectBase: cfg.Ingest.ReconnectBase,
		ReconnectMax:  cfg.Ingest.ReconnectMax,
	}, logger.With("component", "ingest"), metrics)

	reporter := health.NewReporter()
	loop.OnStateChange(reporter.Observe)

	var opsSrv *httpapi.Server
	if cfg.Ops.HTTPAddr != "" {
		opsSrv = httpapi.NewServer(httpapi.Dependencies{
			Logger:  logger.With("component", "http"),
			Addr:    cfg.Ops.HTTPAddr,
			Loop:    loop,
			DB:      sqlDB,
			Metrics: metrics.Handler(),
		})
		go func() {
			logger.Info("ops http listening", "addr", cfg.Ops.HTTPAddr)
			if err := opsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops http server error", "err", err)
				stop()
			}
		}()
	}

	var healthSrv *health.Server
	if cfg.Ops.GRPCAddr != "" {
		healthSrv = health.NewServer(cfg.Ops.GRPCAddr, reporter)
		go func() {
			logger.Info("grpc health listening", "addr", cfg.Ops.GRPCAddr)
			if err := healthSrv.Start(); err != nil {
				logger.Error("grpc health server error", "err", err)
				stop()
			}
		}()
	}

	// Publishes keep going after the signal so queued decisions drain.
	dispatcher.Start(context.Background())

	if err := loop.Run(ctx); err != nil {
		logger.Error("ingest loop error", "err", err)
	}

	logger.Info("shutting down")
	dispatcher.Stop()
	client.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if opsSrv != nil {
		_ = opsSrv.Shutdown(shutdownCtx)
	}
	if healthSrv != nil {
		healthSrv.Stop()
	}
	return nil
}
