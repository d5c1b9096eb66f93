package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/evaluation"
	"github.com/fluentprep/speaking-gateway/internal/gateway"
	"github.com/fluentprep/speaking-gateway/internal/observability"
	"github.com/fluentprep/speaking-gateway/internal/synthesis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("synthesis_url", cfg.SynthesisURL).
		Str("conversation_url", cfg.ConversationURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speaking Gateway Service starting")

	// Create HTTP server
	mux := http.NewServeMux()

	// Register speaking-test WebSocket handler
	mux.HandleFunc("/sessions/speaking", gateway.HandleSpeakingWS(cfg))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint - shared clients kept out of session scope so checks
	// don't consume per-attempt metrics
	synthClient := synthesis.NewClient(cfg, nil, logger)
	evalClient := evaluation.NewClient(cfg, nil, logger)

	checks := map[string]observability.HealthCheckFunc{
		"synthesis": func(ctx context.Context) (bool, error) {
			if err := synthClient.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"evaluation": func(ctx context.Context) (bool, error) {
			if err := evalClient.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"transcription": func(ctx context.Context) (bool, error) {
			// Config validation only; a live Deepgram connection per probe
			// would cost API credits
			if cfg.DeepgramAPIKey == "" {
				return false, fmt.Errorf("DEEPGRAM_API_KEY not configured")
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	endpoint := fmt.Sprintf("ws://localhost:%s/sessions/speaking", cfg.Port)
	if cfg.SpeakingGatewayURL != "" {
		endpoint = fmt.Sprintf("%s/sessions/speaking", cfg.SpeakingGatewayURL)
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
