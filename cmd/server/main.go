package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/synthesis-gateway/internal/audio"
	"github.com/lexiqai/synthesis-gateway/internal/config"
	"github.com/lexiqai/synthesis-gateway/internal/engine"
	"github.com/lexiqai/synthesis-gateway/internal/httpapi"
	"github.com/lexiqai/synthesis-gateway/internal/materials"
	"github.com/lexiqai/synthesis-gateway/internal/objectstore"
	"github.com/lexiqai/synthesis-gateway/internal/observability"
	"github.com/lexiqai/synthesis-gateway/internal/resilience"
	"github.com/lexiqai/synthesis-gateway/internal/speakers"
	"github.com/lexiqai/synthesis-gateway/internal/synthesis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	if err := observability.InitLoggerWithDir(cfg.LogLevel, cfg.LogPretty, cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log directory: %v\n", err)
		os.Exit(1)
	}
	defer observability.CloseLogger()
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("engine_backend", cfg.EngineBackend).
		Int("workers", cfg.Workers).
		Bool("engine_serialized", cfg.EngineSerialized).
		Str("output_dir", cfg.OutputDir).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Synthesis Gateway starting")

	eng := buildEngine(cfg)

	registry, err := speakers.Load(cfg.SpeakersFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.SpeakersFile).Msg("Failed to load speaker profiles")
	}

	store, err := materials.New(cfg.MaterialDir, cfg.MaterialMaxBytes, observability.Component("materials"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to prepare voice material store")
	}

	// Optional archive of finished audio
	var archiver *objectstore.Archiver
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, archiver, err = connectArchive(cfg)
		if err != nil {
			logger.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("Failed to set up audio archive")
		}
		logger.Info().Str("bucket", cfg.NATSBucket).Str("subject", cfg.NATSSubject).Msg("Audio archive enabled")
	}

	opts := synthesis.Options{
		Workers:            cfg.Workers,
		MaxTextLength:      cfg.MaxTextLength,
		SupportedLanguages: cfg.SupportedLanguages,
		Models:             cfg.Models,
		OutputDir:          cfg.OutputDir,
		EngineSerialized:   cfg.EngineSerialized,
		DefaultSpeaker:     cfg.DefaultSpeaker,
		EngineTimeout:      cfg.EngineTimeoutDuration(),
		StartupTimeout:     cfg.StartupTimeoutDuration(),
		Prober:             audio.FileProber{},
	}
	if archiver != nil {
		opts.Publisher = archiver
	}

	service := synthesis.New(opts, eng, registry, observability.Component("synthesis"))
	if err := service.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Synthesis service failed to start")
	}

	// Callers wait for queued jobs too, so allow more than one engine call.
	waitTimeout := 2 * cfg.EngineTimeoutDuration()

	router := httpapi.NewRouter(httpapi.RouterConfig{
		PublicBaseURL:   cfg.PublicBaseURL,
		DefaultLanguage: cfg.DefaultLanguage,
		WaitTimeout:     waitTimeout,
	}, service, store, observability.Component("http"))

	// Health check endpoint
	router.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint - checks are closures to avoid import cycles
	checks := map[string]observability.HealthCheckFunc{
		"orchestrator": func(context.Context) (bool, error) {
			st := service.Status()
			if !st.Initialized {
				return false, synthesis.ErrServiceNotInitialized
			}
			if st.State != synthesis.PhaseRunning {
				return false, synthesis.ErrServiceShuttingDown
			}
			return true, nil
		},
		"engine": func(ctx context.Context) (bool, error) {
			if err := service.EngineHealthy(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}
	if archiver != nil {
		checks["archive"] = archiver.Healthy
	}
	router.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: waitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s%s", cfg.Port, httpapi.APIPrefix)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Stop taking requests first; in-flight handlers are still waiting on jobs.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeoutDuration())
	go func() {
		if err := service.Shutdown(cfg.DrainTimeoutDuration()); err != nil {
			logger.Warn().Err(err).Msg("Synthesis service did not drain cleanly")
		}
	}()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Server forced to shutdown")
	}
	cancel()

	// Shutdown is idempotent; this waits for the drain started above.
	_ = service.Shutdown(cfg.DrainTimeoutDuration())

	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			logger.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
	}

	logger.Info().Msg("Server exited gracefully")
}

func buildEngine(cfg *config.Config) engine.Engine {
	if cfg.EngineBackend == config.BackendExec {
		return engine.NewExecEngine(engine.ExecOptions{
			Binary: cfg.EngineBinary,
			Model:  cfg.EngineModel,
			Device: cfg.EngineDevice,
			Logger: observability.Component("engine"),
		})
	}

	breaker := resilience.NewCircuitBreaker("engine", cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	engineLog := observability.Component("engine")
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.SetCircuitState(name, int(state))
		engineLog.Warn().Str("circuit", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	})

	reconnect := resilience.DefaultReconnectConfig()
	reconnect.MaxAttempts = cfg.ReconnectMaxAttempts
	reconnect.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond

	return engine.NewHTTPEngine(engine.HTTPOptions{
		BaseURL:          cfg.EngineURL,
		Timeout:          cfg.EngineTimeoutDuration(),
		Temperature:      cfg.EngineTemperature,
		CloneTemperature: cfg.CloneTemperature,
		Breaker:          breaker,
		Reconnect:        reconnect,
		Logger:           engineLog,
	})
}

func connectArchive(cfg *config.Config) (*nats.Conn, *objectstore.Archiver, error) {
	logger := observability.Component("archive")

	reconnect := resilience.DefaultReconnectConfig()
	reconnect.MaxAttempts = cfg.ReconnectMaxAttempts
	reconnect.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond

	var conn *nats.Conn
	err := resilience.Reconnect(context.Background(), logger, "nats", func(context.Context) error {
		c, err := nats.Connect(cfg.NATSURL,
			nats.Name("synthesis-gateway"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
			}),
		)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, reconnect)
	if err != nil {
		return nil, nil, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	archiver, err := objectstore.NewArchiver(conn, objectstore.Options{
		Bucket:    cfg.NATSBucket,
		Subject:   cfg.NATSSubject,
		OutputDir: cfg.OutputDir,
		Retry:     retry,
		Logger:    logger,
	})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, archiver, nil
}
