// Package main is the entry point for the autonomous trading laboratory:
// it assembles the Price Source, Advisor Client, Version Store, Event Bus,
// Agent Loop and HTTP Surface, then runs until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hhlabs/trading-agent/internal/advisor"
	"github.com/hhlabs/trading-agent/internal/agent"
	"github.com/hhlabs/trading-agent/internal/api"
	"github.com/hhlabs/trading-agent/internal/config"
	"github.com/hhlabs/trading-agent/internal/events"
	"github.com/hhlabs/trading-agent/internal/metrics"
	"github.com/hhlabs/trading-agent/internal/versionstore"
	"github.com/hhlabs/trading-agent/pkg/types"
)

// Exit codes per the external-interfaces contract: 0 clean shutdown, 1
// configuration error, 2 unrecoverable runtime error.
const (
	exitOK            = 0
	exitConfiguration = 1
	exitRuntime       = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfiguration
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting trading laboratory",
		zap.String("symbol", cfg.Agent.Symbol),
		zap.String("initialCapital", cfg.Agent.InitialCapital),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	bus := events.New(logger, cfg.Agent.EventBusCapacity)
	store := versionstore.New(versionstore.NoopSink{}, logger)
	advisorClient := advisor.New(cfg.Advisor, logger)
	runtime := agent.New(cfg.Agent, cfg.Price, bus, store, advisorClient, logger)

	bus.Subscribe(func(ev types.Event) { metricsReg.Observe(ev.Type, ev.Data) })

	server := api.NewServer(logger, &cfg.Server, runtime, promReg)

	go pollMetrics(ctx, runtime, bus, metricsReg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	logger.Info("laboratory ready",
		zap.String("http", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)),
	)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		logger.Error("server error", zap.Error(err))
		cancel()
		return exitRuntime
	}

	cancel()
	if err := runtime.Stop(); err != nil {
		logger.Warn("agent was not running at shutdown", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
		return exitRuntime
	}

	logger.Info("laboratory stopped")
	return exitOK
}

// pollMetrics snapshots the agent's status onto the Prometheus gauges every
// few seconds; it is a passive observer, never on the agent's hot path.
func pollMetrics(ctx context.Context, runtime *agent.Runtime, bus *events.Bus, reg *metrics.Registry) {
	allStates := []string{
		"IDLE", "RUNNING_INITIAL", "RUNNING_SHORT", "EVALUATING",
		"OPTIMIZING", "SEARCHING_HISTORY", "LIVE_TRADING", "PAUSED", "ERROR",
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := runtime.Status()
			equity, _ := status.Stats.CurrentCapital.Float64()
			reg.ObserveStatus(string(status.State), equity, status.Stats.MaxDrawdownPct, allStates)

			if dropped := bus.Stats().Dropped; dropped > lastDropped {
				for i := uint64(0); i < dropped-lastDropped; i++ {
					reg.ObserveDrop()
				}
				lastDropped = dropped
			}
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
