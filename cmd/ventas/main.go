package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ventas/internal/amqp"
	"ventas/internal/backend"
	"ventas/internal/cache"
	"ventas/internal/cli"
	"ventas/internal/core"
	apphttp "ventas/internal/http"
	"ventas/internal/log"
	"ventas/internal/services"
	"ventas/internal/telemetry"
	"ventas/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger("info", "text")
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting ventas", log.FieldOperation, log.OpStartup, "backend", cfg.DataBackend)

	table, err := cli.LoadMonths(cfg.MonthsFile)
	if err != nil {
		logger.Error("Failed to load month table", log.FieldError, err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	source, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).
		CreateSource(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize row source", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	rowCache := cache.NewLRUCache[[]core.Row](cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	cacheManager.Register(rowCache)
	cacheManager.StartCleanup(time.Minute)

	metrics := telemetry.New()

	opts := []services.Option{
		services.WithCache(rowCache),
		services.WithMetrics(metrics),
		services.WithLogger(logger.WithComponent(log.ComponentDashboard).Logger),
		services.WithDefaultBudget(cfg.DefaultBudget),
		services.WithFetchTimeout(cfg.FetchTimeout),
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		opts = append(opts, services.WithPublisher(amqpClient))
		logger.Info("Refresh broadcast enabled", "exchange", cfg.AMQPExchange, "instance", amqpClient.InstanceID())
	}

	svc := services.NewDashboardService(source, table, opts...)

	refreshTimeout := time.Duration(len(table.Available())+1) * cfg.FetchTimeout
	refreshWorker := worker.NewRefreshWorker(svc, cfg.RefreshSchedule, refreshTimeout,
		logger.WithComponent(log.ComponentWorker).Logger)
	if err := refreshWorker.Start(); err != nil {
		logger.Error("Failed to start refresh worker", log.FieldError, err)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            metrics,
		Logger:             logger,
		Ready: func(ctx context.Context) error {
			m := table.Default()
			if !m.Available {
				return nil
			}
			_, err := svc.Load(ctx, m.Key, svc.DefaultBudget())
			return err
		},
	}, svc)
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		refreshWorker.Stop()
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
	})

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeRefresh(ctx, func(msg *amqp.RefreshMessage) error {
				return refreshWorker.HandleRefreshMessage(ctx, msg)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Refresh consumer stopped", log.FieldError, err)
			}
		}()
	}

	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if err := svc.WarmAll(warmCtx); err != nil {
			logger.Warn("Initial load incomplete", log.FieldError, err)
			return
		}
		logger.Info("Initial load completed", "months", len(table.Available()))
	}()

	logger.Info("Starting HTTP server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
