package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/email-service/internal/config"
	"github.com/jwalitptl/email-service/internal/executor"
	"github.com/jwalitptl/email-service/internal/model"
	"github.com/jwalitptl/email-service/pkg/logger"
	"github.com/jwalitptl/email-service/pkg/metrics"
)

type fakeAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }
func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}
func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return nil }

type fakeDeliverer struct {
	outcome     executor.Outcome
	executed    []model.Notification
	deadLetters []model.Notification
}

func (f *fakeDeliverer) Execute(ctx context.Context, n model.Notification) executor.Outcome {
	f.executed = append(f.executed, n)
	return f.outcome
}

func (f *fakeDeliverer) DeadLetter(ctx context.Context, n model.Notification, cause error) executor.Outcome {
	f.deadLetters = append(f.deadLetters, n)
	return executor.Outcome{Kind: executor.OutcomeDeadLettered, Err: cause}
}

type fakeScheduler struct {
	scheduled []scheduledRetry
	err       error
}

type scheduledRetry struct {
	n     model.Notification
	delay time.Duration
}

func (f *fakeScheduler) ScheduleRetry(ctx context.Context, n model.Notification, delay time.Duration) error {
	f.scheduled = append(f.scheduled, scheduledRetry{n: n, delay: delay})
	return f.err
}

func newTestBridge(deliverer *fakeDeliverer, scheduler *fakeScheduler) *Bridge {
	return New(config.BrokerConfig{Queue: "email.queue"}, deliverer, scheduler, 1, logger.Nop(), metrics.New("test_bridge"))
}

func TestHandleDeliveryAcksOnHandOff(t *testing.T) {
	b := newTestBridge(&fakeDeliverer{}, &fakeScheduler{})
	acker := &fakeAcker{}
	jobs := make(chan model.Notification, 1)

	d := amqp.Delivery{
		Acknowledger: acker,
		Body:         []byte(`{"notification_id":"n1","to":"a@b.com"}`),
	}
	b.handleDelivery(context.Background(), d, jobs)

	require.Len(t, jobs, 1)
	n := <-jobs
	assert.Equal(t, "n1", n.NotificationID)
	assert.True(t, acker.acked, "hand-off must ack the source message")
	assert.False(t, acker.nacked)
}

func TestHandleDeliveryNacksMalformedMessage(t *testing.T) {
	b := newTestBridge(&fakeDeliverer{}, &fakeScheduler{})
	acker := &fakeAcker{}
	jobs := make(chan model.Notification, 1)

	d := amqp.Delivery{Acknowledger: acker, Body: []byte(`{broken`)}
	b.handleDelivery(context.Background(), d, jobs)

	assert.Empty(t, jobs)
	assert.False(t, acker.acked)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue, "malformed messages are redelivered by the broker")
}

func TestHandleDeliveryNacksWhenShuttingDown(t *testing.T) {
	b := newTestBridge(&fakeDeliverer{}, &fakeScheduler{})
	acker := &fakeAcker{}
	jobs := make(chan model.Notification) // no capacity, nobody reading

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := amqp.Delivery{
		Acknowledger: acker,
		Body:         []byte(`{"notification_id":"n1"}`),
	}
	b.handleDelivery(ctx, d, jobs)

	assert.False(t, acker.acked)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
}

func TestWorkerSchedulesRetryWithIncrementedAttempt(t *testing.T) {
	deliverer := &fakeDeliverer{outcome: executor.Outcome{
		Kind:        executor.OutcomeRetryScheduled,
		Delay:       60 * time.Second,
		NextAttempt: 1,
	}}
	scheduler := &fakeScheduler{}
	b := newTestBridge(deliverer, scheduler)

	jobs := make(chan model.Notification, 1)
	jobs <- model.Notification{NotificationID: "n1", RetryCount: 0}
	close(jobs)

	b.worker(context.Background(), jobs)

	require.Len(t, scheduler.scheduled, 1)
	assert.Equal(t, 1, scheduler.scheduled[0].n.RetryCount)
	assert.Equal(t, 60*time.Second, scheduler.scheduled[0].delay)
	assert.Empty(t, deliverer.deadLetters)
}

func TestWorkerDeadLettersWhenSchedulingFails(t *testing.T) {
	deliverer := &fakeDeliverer{outcome: executor.Outcome{
		Kind:        executor.OutcomeRetryScheduled,
		Delay:       30 * time.Second,
		NextAttempt: 1,
	}}
	scheduler := &fakeScheduler{err: errors.New("broker unavailable")}
	b := newTestBridge(deliverer, scheduler)

	jobs := make(chan model.Notification, 1)
	jobs <- model.Notification{NotificationID: "n1"}
	close(jobs)

	b.worker(context.Background(), jobs)

	require.Len(t, deliverer.deadLetters, 1)
	assert.Equal(t, "n1", deliverer.deadLetters[0].NotificationID)
}

func TestWorkerFinalOutcomesNeedNoFollowUp(t *testing.T) {
	deliverer := &fakeDeliverer{outcome: executor.Outcome{Kind: executor.OutcomeSent}}
	scheduler := &fakeScheduler{}
	b := newTestBridge(deliverer, scheduler)

	jobs := make(chan model.Notification, 1)
	jobs <- model.Notification{NotificationID: "n1"}
	close(jobs)

	b.worker(context.Background(), jobs)

	assert.Len(t, deliverer.executed, 1)
	assert.Empty(t, scheduler.scheduled)
	assert.Empty(t, deliverer.deadLetters)
}
