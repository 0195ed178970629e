package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/email-service/internal/model"
	"github.com/jwalitptl/email-service/pkg/circuitbreaker"
	pkgerrors "github.com/jwalitptl/email-service/pkg/errors"
	"github.com/jwalitptl/email-service/pkg/logger"
	"github.com/jwalitptl/email-service/pkg/metrics"
)

type fakeRenderer struct {
	body string
	err  error
}

func (f *fakeRenderer) Render(templateID string, variables map[string]interface{}) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.body, nil
}

type fakeTransport struct {
	errs  []error
	calls int
}

func (f *fakeTransport) Send(ctx context.Context, to, subject, body string) error {
	i := f.calls
	f.calls++
	if i < len(f.errs) {
		return f.errs[i]
	}
	if len(f.errs) > 0 {
		return f.errs[len(f.errs)-1]
	}
	return nil
}

type statusWrite struct {
	id     string
	status model.Status
	errMsg string
}

type fakeTracker struct {
	writes []statusWrite
	err    error
}

func (f *fakeTracker) Set(ctx context.Context, id string, status model.Status, errMsg string) error {
	f.writes = append(f.writes, statusWrite{id: id, status: status, errMsg: errMsg})
	return f.err
}

type dlqWrite struct {
	n     model.Notification
	cause error
}

type fakeDLQ struct {
	records []dlqWrite
	err     error
}

func (f *fakeDLQ) Publish(ctx context.Context, n model.Notification, cause error) error {
	f.records = append(f.records, dlqWrite{n: n, cause: cause})
	return f.err
}

type fixture struct {
	exec      *Executor
	renderer  *fakeRenderer
	transport *fakeTransport
	tracker   *fakeTracker
	dlq       *fakeDLQ
}

func newFixture(t *testing.T, threshold int) *fixture {
	t.Helper()
	f := &fixture{
		renderer:  &fakeRenderer{body: "<h1>hi</h1>"},
		transport: &fakeTransport{},
		tracker:   &fakeTracker{},
		dlq:       &fakeDLQ{},
	}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:          "test",
		FailThreshold: threshold,
		ResetTimeout:  30 * time.Second,
	})
	f.exec = New(
		f.renderer, f.transport, breaker, f.tracker, f.dlq,
		Config{MaxRetries: 4, BaseDelay: 30 * time.Second, MaxDelay: 600 * time.Second},
		logger.Nop(), metrics.New("test"),
	)
	return f
}

func testNotification(retryCount int) model.Notification {
	return model.Notification{
		NotificationID: "n1",
		Type:           model.ChannelEmail,
		Payload: model.DeliveryPayload{
			TemplateID: "welcome.html",
			To:         "a@b.com",
			Subject:    "Welcome",
			Variables:  map[string]interface{}{"name": "X"},
		},
		Priority:   model.PriorityNormal,
		RetryCount: retryCount,
	}
}

// drive runs the executor the way the bridge does, re-invoking with the
// incremented retry count until a final outcome, and returns every outcome.
func drive(t *testing.T, f *fixture, n model.Notification) []Outcome {
	t.Helper()
	var outcomes []Outcome
	for i := 0; i < 20; i++ {
		out := f.exec.Execute(context.Background(), n)
		outcomes = append(outcomes, out)
		if out.Kind != OutcomeRetryScheduled {
			return outcomes
		}
		n.RetryCount = out.NextAttempt
	}
	t.Fatal("executor never reached a final outcome")
	return nil
}

func TestSuccessFirstAttempt(t *testing.T) {
	f := newFixture(t, 3)

	out := f.exec.Execute(context.Background(), testNotification(0))

	assert.Equal(t, OutcomeSent, out.Kind)
	assert.Equal(t, 1, f.transport.calls)
	require.Len(t, f.tracker.writes, 2)
	assert.Equal(t, model.StatusProcessing, f.tracker.writes[0].status)
	assert.Equal(t, model.StatusSent, f.tracker.writes[1].status)
	assert.Empty(t, f.dlq.records)
}

func TestAlwaysFailingTransportDeadLetters(t *testing.T) {
	// high threshold so every attempt reaches the transport
	f := newFixture(t, 100)
	f.transport.errs = []error{errors.New("smtp unavailable")}

	outcomes := drive(t, f, testNotification(0))

	require.Len(t, outcomes, 5, "attempts 0-3 retry, attempt 4 dead-letters")
	wantDelays := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second}
	for i, want := range wantDelays {
		assert.Equal(t, OutcomeRetryScheduled, outcomes[i].Kind)
		assert.Equal(t, want, outcomes[i].Delay)
		assert.Equal(t, i+1, outcomes[i].NextAttempt)
	}
	assert.Equal(t, OutcomeDeadLettered, outcomes[4].Kind)
	assert.Equal(t, 5, f.transport.calls, "no sixth attempt")

	last := f.tracker.writes[len(f.tracker.writes)-1]
	assert.Equal(t, model.StatusFailed, last.status)
	assert.NotEmpty(t, last.errMsg)

	require.Len(t, f.dlq.records, 1)
	rec := f.dlq.records[0]
	assert.Equal(t, "n1", rec.n.NotificationID)
	assert.Equal(t, 4, rec.n.RetryCount)
	assert.NotEmpty(t, rec.cause.Error())
}

func TestSuccessOnThirdAttempt(t *testing.T) {
	f := newFixture(t, 3)
	f.transport.errs = []error{errors.New("timeout"), errors.New("timeout"), nil}

	outcomes := drive(t, f, testNotification(0))

	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeRetryScheduled, outcomes[0].Kind)
	assert.Equal(t, OutcomeRetryScheduled, outcomes[1].Kind)
	assert.Equal(t, OutcomeSent, outcomes[2].Kind)

	last := f.tracker.writes[len(f.tracker.writes)-1]
	assert.Equal(t, model.StatusSent, last.status)
	assert.Empty(t, f.dlq.records)
}

func TestOpenCircuitCountsAgainstRetryBudget(t *testing.T) {
	f := newFixture(t, 3)
	f.transport.errs = []error{errors.New("smtp unavailable")}

	outcomes := drive(t, f, testNotification(0))

	require.Len(t, outcomes, 5)
	assert.Equal(t, OutcomeDeadLettered, outcomes[4].Kind)
	// attempts past the threshold are refused without reaching the transport
	assert.Equal(t, 3, f.transport.calls)

	require.Len(t, f.dlq.records, 1)
	assert.True(t, pkgerrors.IsCircuitOpen(f.dlq.records[0].cause),
		"the final failure was a circuit-open refusal")
}

func TestRenderFailureIsRetryable(t *testing.T) {
	f := newFixture(t, 3)
	f.renderer.err = pkgerrors.NewRender("missing.html", errors.New("template not found"))

	out := f.exec.Execute(context.Background(), testNotification(0))

	assert.Equal(t, OutcomeRetryScheduled, out.Kind)
	assert.Equal(t, 30*time.Second, out.Delay)
	assert.Equal(t, 0, f.transport.calls, "render failure must not reach the transport")
}

func TestStatusWriteFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, 3)
	f.tracker.err = errors.New("redis down")

	out := f.exec.Execute(context.Background(), testNotification(0))

	assert.Equal(t, OutcomeSent, out.Kind)
}

func TestDeadLetterWriteFailureStaysTerminal(t *testing.T) {
	f := newFixture(t, 3)
	f.dlq.err = errors.New("broker down")

	out := f.exec.DeadLetter(context.Background(), testNotification(4), errors.New("smtp unavailable"))

	assert.Equal(t, OutcomeDeadLettered, out.Kind)
	assert.Equal(t, pkgerrors.ErrRetriesExhausted, pkgerrors.CodeOf(out.Err))
}

func TestBackoff(t *testing.T) {
	base := 30 * time.Second
	cap := 600 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 480 * time.Second},
		{5, 600 * time.Second},
		{10, 600 * time.Second},
		{63, 600 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, base, cap), "attempt %d", tt.attempt)
	}
}
