package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/email-service/internal/bridge"
	"github.com/jwalitptl/email-service/internal/config"
	"github.com/jwalitptl/email-service/internal/deadletter"
	"github.com/jwalitptl/email-service/internal/email"
	"github.com/jwalitptl/email-service/internal/executor"
	"github.com/jwalitptl/email-service/internal/queue"
	"github.com/jwalitptl/email-service/internal/status"
	"github.com/jwalitptl/email-service/pkg/circuitbreaker"
	"github.com/jwalitptl/email-service/pkg/logger"
	"github.com/jwalitptl/email-service/pkg/metrics"
)

func setupMonitoring(cfg config.MonitoringConfig, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle(cfg.MetricsPath, promhttp.Handler())

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error(err, "monitoring server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	appLogger := logger.NewLogger(nil)
	m := metrics.NewMetrics("email_service")

	tracker, err := status.NewTracker(cfg.Redis)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to status store")
	}
	defer tracker.Close()

	renderer, err := email.NewRenderer(cfg.Templates.Dir)
	if err != nil {
		appLogger.Fatal(err, "failed to load templates")
	}
	sender := email.NewSender(cfg.SMTP)

	publisher := queue.NewPublisher(cfg.Broker)
	defer publisher.Close()

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:          "smtp",
		FailThreshold: cfg.Breaker.FailThreshold,
		ResetTimeout:  cfg.Breaker.ResetTimeout,
	})

	exec := executor.New(
		renderer,
		sender,
		breaker,
		tracker,
		deadletter.NewPublisher(publisher),
		executor.Config{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
		appLogger,
		m,
	)

	consumer := bridge.New(cfg.Broker, exec, publisher, cfg.Worker.Count, appLogger, m)

	setupMonitoring(cfg.Monitoring, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutdown signal received, finishing current messages")
		cancel()
	}()

	consumer.Run(ctx)
}
