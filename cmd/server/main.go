package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/logger"
	"github.com/isdmx/scriptbox/mcpserver"
	"github.com/isdmx/scriptbox/metrics"
	"github.com/isdmx/scriptbox/sandbox"
	"github.com/isdmx/scriptbox/testscript"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Metrics
			newRegistry,
			newCollector,

			// Isolates and engine based on config
			newIsolateManager,
			sandbox.NewEngineFromConfig,

			// Test script runner
			newRunner,

			// MCP Server
			mcpserver.New,
		),

		// Expose metrics when a port is configured
		fx.Invoke(registerMetricsServer),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newCollector(reg *prometheus.Registry) *metrics.Collector {
	return metrics.New(reg)
}

func newIsolateManager(log *zap.Logger, cfg *config.Config, m *metrics.Collector) sandbox.Manager {
	return m.InstrumentIsolates(sandbox.NewManagerFromConfig(log, cfg))
}

func newRunner(log *zap.Logger, engine *sandbox.Engine, m *metrics.Collector) mcpserver.TestRunner {
	return testscript.NewRunner(log, engine, testscript.WithObserver(m))
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, log *zap.Logger) {
	if cfg.Server.MetricsPort == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
