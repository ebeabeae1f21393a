package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/activities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/agents"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/capabilities"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/circuitbreaker"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/config"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/db"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/httpapi"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/memory"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/metadata"
	_ "github.com/JustinWangJP/Deep-Research-Agents/internal/metrics" // collector registration
	"github.com/JustinWangJP/Deep-Research-Agents/internal/ratecontrol"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/session"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/temporal"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/tracing"
	"github.com/JustinWangJP/Deep-Research-Agents/internal/workflows"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Redis behind the circuit breaker backs both the memory store and the
	// session records.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	breakerCfg := breakerConfig(cfg.Breaker)
	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, breakerCfg, logger)
	defer redisWrapper.Close()

	memoryStore := memory.NewStore(redisWrapper, cfg.Memory.KeyPrefix, cfg.Memory.DefaultTTL, logger)
	sessions := session.NewManager(redisWrapper, cfg.Session.TTL, cfg.Session.CacheSize, logger)

	// Postgres only runs when persistence is enabled; everything else
	// degrades to Redis-only operation.
	var reports *db.Store
	if cfg.Database.Enabled {
		reports, err = db.Open(cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer reports.Close()
	}

	// Credibility rules with hot reload.
	if err := metadata.LoadCredibilityRules(cfg.Pipeline.CredibilityRules); err != nil {
		logger.Warn("Falling back to default credibility rules",
			zap.String("path", cfg.Pipeline.CredibilityRules),
			zap.Error(err),
		)
	}
	rulesWatcher, err := config.NewWatcher(logger)
	if err != nil {
		logger.Warn("Credibility rules hot reload unavailable", zap.Error(err))
	} else {
		err = rulesWatcher.Watch(cfg.Pipeline.CredibilityRules, func(path string) error {
			if err := metadata.LoadCredibilityRules(path); err != nil {
				logger.Error("Failed to reload credibility rules", zap.Error(err))
				return err
			}
			logger.Info("Credibility rules reloaded", zap.String("path", path))
			return nil
		})
		if err != nil {
			logger.Warn("Failed to watch credibility rules", zap.Error(err))
		} else {
			rulesWatcher.Start()
			defer rulesWatcher.Stop()
		}
	}

	// Capability adapters with per-capability rate limits.
	limiters := ratecontrol.NewRegistry()
	limiters.Register("text_generation", cfg.Capabilities.TextGeneration.QPS, cfg.Capabilities.TextGeneration.Burst)
	limiters.Register("document_search", cfg.Capabilities.DocumentSearch.QPS, cfg.Capabilities.DocumentSearch.Burst)

	generator := capabilities.NewHTTPTextGenerator(
		cfg.Capabilities.TextGeneration.BaseURL,
		cfg.Capabilities.TextGeneration.Timeout,
		limiters.Get("text_generation"),
		logger,
	)
	searcher := capabilities.NewHTTPDocumentSearcher(
		cfg.Capabilities.DocumentSearch.BaseURL,
		cfg.Capabilities.DocumentSearch.Timeout,
		limiters.Get("document_search"),
		logger,
	)

	researchWorker := agents.NewWorker(agents.Dependencies{
		Generator: generator,
		Searcher:  searcher,
		Memory:    memoryStore,
		Logger:    logger,
	}, cfg.Research.WorkerTimeout, cfg.Research.LowConfidenceThreshold)

	acts := activities.NewActivities(
		researchWorker,
		generator,
		memoryStore,
		sessions,
		reports,
		cfg.Research,
		logger,
	)

	// Metrics endpoint.
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Service.MetricsPort)
		logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Temporal client with dial retry, then the worker.
	temporalClient := dialTemporal(cfg.Temporal, logger)
	defer temporalClient.Close()

	wk := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Research.MaxFanout * 4,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	wk.RegisterWorkflow(workflows.ResearchSessionWorkflow)
	wk.RegisterActivity(acts)
	go func() {
		logger.Info("Temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
		if err := wk.Run(worker.InterruptCh()); err != nil {
			logger.Error("Temporal worker exited", zap.Error(err))
		}
	}()

	// HTTP API.
	api := httpapi.NewServer(sessions, memoryStore, reports, temporalClient, cfg, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP API failed", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	wk.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", zap.Error(err))
	}
}

// dialTemporal blocks until the Temporal frontend accepts a client,
// retrying with capped backoff. The service is useless without it.
func dialTemporal(cfg config.TemporalConfig, logger *zap.Logger) client.Client {
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", cfg.HostPort, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint",
			zap.String("host_port", cfg.HostPort),
			zap.Int("attempt", i),
		)
		time.Sleep(time.Second)
	}

	for attempt := 1; ; attempt++ {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.HostPort,
			Namespace: cfg.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			return tc
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		time.Sleep(delay)
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

func breakerConfig(cfg config.BreakerConfig) circuitbreaker.Config {
	out := circuitbreaker.DefaultConfig()
	if !cfg.Enabled {
		// Effectively never opens.
		out.FailureThreshold = ^uint32(0)
		return out
	}
	if cfg.MaxFailures > 0 {
		out.FailureThreshold = cfg.MaxFailures
	}
	if cfg.Cooldown > 0 {
		out.Cooldown = cfg.Cooldown
	}
	return out
}
