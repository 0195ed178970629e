package executor

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/email-service/internal/model"
	"github.com/jwalitptl/email-service/pkg/circuitbreaker"
	pkgerrors "github.com/jwalitptl/email-service/pkg/errors"
	"github.com/jwalitptl/email-service/pkg/logger"
	"github.com/jwalitptl/email-service/pkg/metrics"
)

// Renderer turns a template ID and variables into an HTML body.
type Renderer interface {
	Render(templateID string, variables map[string]interface{}) (string, error)
}

// Transport performs one delivery attempt.
type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// StatusTracker records lifecycle transitions; writes are best-effort.
type StatusTracker interface {
	Set(ctx context.Context, notificationID string, status model.Status, errMsg string) error
}

// DeadLetterPublisher hands a permanently failed notification to the DLQ.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, n model.Notification, cause error) error
}

// OutcomeKind tags the result of one executor step.
type OutcomeKind int

const (
	OutcomeSent OutcomeKind = iota
	OutcomeRetryScheduled
	OutcomeDeadLettered
)

// Outcome is the tagged result of Execute. The caller interprets the tag:
// RetryScheduled means re-enqueue the notification with NextAttempt as its
// retry count after Delay; Sent and DeadLettered are final.
type Outcome struct {
	Kind        OutcomeKind
	Delay       time.Duration
	NextAttempt int
	Err         error
}

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Executor runs the per-notification delivery state machine. Every failure
// inside Execute is converted into a retry or a dead-letter outcome;
// nothing escapes to the caller as an error.
type Executor struct {
	renderer    Renderer
	transport   Transport
	breaker     *circuitbreaker.CircuitBreaker
	tracker     StatusTracker
	deadLetters DeadLetterPublisher
	cfg         Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func New(
	renderer Renderer,
	transport Transport,
	breaker *circuitbreaker.CircuitBreaker,
	tracker StatusTracker,
	deadLetters DeadLetterPublisher,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Executor {
	return &Executor{
		renderer:    renderer,
		transport:   transport,
		breaker:     breaker,
		tracker:     tracker,
		deadLetters: deadLetters,
		cfg:         cfg,
		logger:      log,
		metrics:     m,
	}
}

// Execute performs one delivery attempt for the notification. RetryCount is
// the 0-indexed attempt number; attempts past MaxRetries dead-letter.
func (e *Executor) Execute(ctx context.Context, n model.Notification) Outcome {
	timer := prometheus.NewTimer(e.metrics.DeliveryLatency)
	defer timer.ObserveDuration()

	e.setStatus(ctx, n.NotificationID, model.StatusProcessing, "")

	err := e.attempt(ctx, n)
	if err == nil {
		e.metrics.NotificationsSent.Inc()
		e.setStatus(ctx, n.NotificationID, model.StatusSent, "")
		e.logger.Info("notification sent",
			"notification_id", n.NotificationID,
			"to", n.Payload.To,
			"attempt", n.RetryCount)
		return Outcome{Kind: OutcomeSent}
	}

	if pkgerrors.IsCircuitOpen(err) {
		e.metrics.CircuitOpenRejections.Inc()
	}

	attempt := n.RetryCount
	if attempt < e.cfg.MaxRetries {
		delay := Backoff(attempt, e.cfg.BaseDelay, e.cfg.MaxDelay)
		e.metrics.NotificationsRetried.Inc()
		e.logger.Warn(err, "delivery failed, scheduling retry",
			"notification_id", n.NotificationID,
			"attempt", attempt,
			"delay", delay.String())
		return Outcome{Kind: OutcomeRetryScheduled, Delay: delay, NextAttempt: attempt + 1}
	}

	return e.DeadLetter(ctx, n, err)
}

// DeadLetter finalizes a notification: terminal failed status plus one
// dead-letter record. Also used by the caller when retry scheduling itself
// fails, so the notification is never silently dropped.
func (e *Executor) DeadLetter(ctx context.Context, n model.Notification, cause error) Outcome {
	e.metrics.NotificationsDeadLetter.Inc()
	e.logger.Error(cause, "retries exhausted, dead-lettering",
		"notification_id", n.NotificationID,
		"attempt", n.RetryCount)

	e.setStatus(ctx, n.NotificationID, model.StatusFailed, cause.Error())

	if err := e.deadLetters.Publish(ctx, n, cause); err != nil {
		e.metrics.DeadLetterWrites.WithLabelValues("error").Inc()
		e.logger.Error(err, "failed to publish dead-letter record",
			"notification_id", n.NotificationID)
	} else {
		e.metrics.DeadLetterWrites.WithLabelValues("success").Inc()
	}

	return Outcome{
		Kind: OutcomeDeadLettered,
		Err:  pkgerrors.NewRetriesExhausted(n.RetryCount+1, cause),
	}
}

// attempt renders and sends once. The breaker guards only the transport
// call; a render failure never trips it but still counts against the retry
// budget.
func (e *Executor) attempt(ctx context.Context, n model.Notification) error {
	body, err := e.renderer.Render(n.Payload.TemplateID, n.Payload.Variables)
	if err != nil {
		return err
	}

	err = e.breaker.Execute(func() error {
		return e.transport.Send(ctx, n.Payload.To, n.Payload.Subject, body)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return pkgerrors.NewCircuitOpen(err)
	}
	return err
}

func (e *Executor) setStatus(ctx context.Context, notificationID string, status model.Status, errMsg string) {
	if err := e.tracker.Set(ctx, notificationID, status, errMsg); err != nil {
		e.metrics.StatusWrites.WithLabelValues(string(status), "error").Inc()
		e.logger.Error(err, "failed to update notification status",
			"notification_id", notificationID,
			"status", string(status))
		return
	}
	e.metrics.StatusWrites.WithLabelValues(string(status), "success").Inc()
}

// Backoff returns min(base * 2^attempt, cap) for the 0-indexed attempt.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt > 30 {
		return cap
	}
	delay := base << uint(attempt)
	if delay > cap || delay <= 0 {
		return cap
	}
	return delay
}
