package deadletter

import (
	"context"
	"time"

	"github.com/jwalitptl/email-service/internal/model"
)

type queuePublisher interface {
	PublishDeadLetter(ctx context.Context, rec model.DeadLetterRecord) error
}

// Publisher hands permanently failed notifications to the durable
// dead-letter destination. The destination is declared when the queue
// client connects; a lost dead-letter write is logged by the caller and
// accepted, never masked as success and never retried here.
type Publisher struct {
	queue queuePublisher
	now   func() time.Time
}

func NewPublisher(queue queuePublisher) *Publisher {
	return &Publisher{
		queue: queue,
		now:   time.Now,
	}
}

// Publish appends one dead-letter record carrying the canonical input and
// the last delivery error.
func (p *Publisher) Publish(ctx context.Context, n model.Notification, cause error) error {
	rec := model.DeadLetterRecord{
		FailedAt:        p.now().UTC(),
		NotificationID:  n.NotificationID,
		OriginalPayload: n,
		Error:           cause.Error(),
	}
	return p.queue.PublishDeadLetter(ctx, rec)
}
