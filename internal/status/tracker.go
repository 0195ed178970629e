package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/email-service/internal/config"
	"github.com/jwalitptl/email-service/internal/model"
)

const keyPrefix = "notification:status:"

// Tracker records best-effort lifecycle state in Redis. Status visibility
// is observability, not a correctness dependency: callers are expected to
// log and discard any error returned here.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewTracker(cfg config.RedisConfig) (*Tracker, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Tracker{
		client: client,
		ttl:    cfg.StatusTTL,
		now:    time.Now,
	}, nil
}

// Set overwrites the status record for a notification, refreshing the
// retention TTL. Last write wins.
func (t *Tracker) Set(ctx context.Context, notificationID string, status model.Status, errMsg string) error {
	record := t.buildRecord(notificationID, status, errMsg)

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal status record: %w", err)
	}

	if err := t.client.Set(ctx, statusKey(notificationID), value, t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write status for %s: %w", notificationID, err)
	}
	return nil
}

func (t *Tracker) Close() error {
	return t.client.Close()
}

func (t *Tracker) buildRecord(notificationID string, status model.Status, errMsg string) model.StatusRecord {
	return model.StatusRecord{
		NotificationID: notificationID,
		Status:         status,
		UpdatedAt:      t.now().UTC().Format(time.RFC3339),
		ErrorMessage:   errMsg,
	}
}

func statusKey(notificationID string) string {
	return keyPrefix + notificationID
}
