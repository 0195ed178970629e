package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jwalitptl/email-service/internal/config"
	"github.com/jwalitptl/email-service/internal/executor"
	"github.com/jwalitptl/email-service/internal/model"
	"github.com/jwalitptl/email-service/internal/queue"
	"github.com/jwalitptl/email-service/pkg/logger"
	"github.com/jwalitptl/email-service/pkg/metrics"
)

// Deliverer is the executor surface the bridge drives.
type Deliverer interface {
	Execute(ctx context.Context, n model.Notification) executor.Outcome
	DeadLetter(ctx context.Context, n model.Notification, cause error) executor.Outcome
}

// RetryScheduler re-enqueues a notification after the backoff delay.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, n model.Notification, delay time.Duration) error
}

// Bridge consumes raw inbound messages, normalizes them and hands each to
// the delivery executor. Acknowledgment is about successful hand-off, not
// final delivery: delivery outcome surfaces through the status tracker and
// the dead-letter queue, never through broker redelivery.
type Bridge struct {
	cfg       config.BrokerConfig
	deliverer Deliverer
	scheduler RetryScheduler
	workers   int
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func New(
	cfg config.BrokerConfig,
	deliverer Deliverer,
	scheduler RetryScheduler,
	workers int,
	log *logger.Logger,
	m *metrics.Metrics,
) *Bridge {
	if workers <= 0 {
		workers = 1
	}
	return &Bridge{
		cfg:       cfg,
		deliverer: deliverer,
		scheduler: scheduler,
		workers:   workers,
		logger:    log,
		metrics:   m,
	}
}

// Run consumes until ctx is cancelled, reconnecting with a fixed delay on
// connection loss. Shutdown is cooperative: in-flight notifications finish
// their current step before Run returns.
func (b *Bridge) Run(ctx context.Context) {
	for ctx.Err() == nil {
		client, err := queue.Connect(b.cfg)
		if err != nil {
			b.metrics.BrokerReconnects.Inc()
			b.logger.Warn(err, "broker connection failed, reconnecting",
				"delay", b.cfg.ReconnectDelay.String())
			sleepCtx(ctx, b.cfg.ReconnectDelay)
			continue
		}

		b.logger.Info("consuming inbound notifications", "queue", b.cfg.Queue)
		b.consume(ctx, client)
		client.Close()

		if ctx.Err() == nil {
			b.metrics.BrokerReconnects.Inc()
			b.logger.Info("broker connection lost, reconnecting",
				"delay", b.cfg.ReconnectDelay.String())
			sleepCtx(ctx, b.cfg.ReconnectDelay)
		}
	}
	b.logger.Info("bridge stopped")
}

// consume drains one connection's delivery stream through a bounded worker
// pool. It returns when the stream closes or ctx is cancelled, after all
// handed-off notifications complete.
func (b *Bridge) consume(ctx context.Context, client *queue.Client) {
	tag := fmt.Sprintf("email-worker-%s", uuid.NewString()[:8])
	deliveries, err := client.Consume(tag)
	if err != nil {
		b.logger.Error(err, "failed to start consuming")
		return
	}

	jobs := make(chan model.Notification)
	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(ctx, jobs)
		}()
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-deliveries:
			if !ok {
				break loop
			}
			b.handleDelivery(ctx, d, jobs)
		}
	}

	close(jobs)
	wg.Wait()
}

// handleDelivery normalizes one raw message and hands it off. Normalization
// failure nacks with requeue; a successful hand-off acks regardless of the
// eventual delivery outcome.
func (b *Bridge) handleDelivery(ctx context.Context, d amqp.Delivery, jobs chan<- model.Notification) {
	b.metrics.MessagesConsumed.Inc()

	n, err := Normalize(d.Body)
	if err != nil {
		b.metrics.MessagesNacked.Inc()
		b.logger.Error(err, "failed to process message")
		if nackErr := d.Nack(false, true); nackErr != nil {
			b.logger.Error(nackErr, "failed to nack message")
		}
		return
	}

	select {
	case jobs <- n:
	case <-ctx.Done():
		// shutting down before hand-off; requeue for another process
		b.metrics.MessagesNacked.Inc()
		if nackErr := d.Nack(false, true); nackErr != nil {
			b.logger.Error(nackErr, "failed to nack message")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		b.logger.Error(err, "failed to ack message",
			"notification_id", n.NotificationID)
		return
	}
	b.metrics.MessagesAcked.Inc()
	b.logger.Debug("queued notification for delivery",
		"notification_id", n.NotificationID)
}

// worker runs handed-off notifications through the executor and interprets
// the outcome tag. A retry that cannot be scheduled dead-letters instead of
// vanishing, since the source message is already acked.
func (b *Bridge) worker(ctx context.Context, jobs <-chan model.Notification) {
	// handed-off notifications finish their current step even during
	// shutdown; only the consume loop observes cancellation
	jobCtx := context.WithoutCancel(ctx)
	for n := range jobs {
		outcome := b.deliverer.Execute(jobCtx, n)
		if outcome.Kind != executor.OutcomeRetryScheduled {
			continue
		}

		retry := n
		retry.RetryCount = outcome.NextAttempt
		if err := b.scheduler.ScheduleRetry(jobCtx, retry, outcome.Delay); err != nil {
			b.logger.Error(err, "failed to schedule retry, dead-lettering",
				"notification_id", n.NotificationID)
			b.deliverer.DeadLetter(jobCtx, retry, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
