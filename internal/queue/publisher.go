package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/email-service/internal/config"
	"github.com/jwalitptl/email-service/internal/model"
)

// Publisher is a lazily reconnecting publish-side client. The consume side
// owns its own connection lifecycle; publishes (retry scheduling,
// dead-letter records) go through here so a broken publish connection heals
// on the next call instead of poisoning the consumer.
type Publisher struct {
	cfg config.BrokerConfig

	mu     sync.Mutex
	client *Client
}

func NewPublisher(cfg config.BrokerConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

func (p *Publisher) get() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && !p.client.IsClosed() {
		return p.client, nil
	}
	if p.client != nil {
		p.client.Close()
	}

	client, err := Connect(p.cfg)
	if err != nil {
		p.client = nil
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *Publisher) ScheduleRetry(ctx context.Context, n model.Notification, delay time.Duration) error {
	client, err := p.get()
	if err != nil {
		return err
	}
	return client.ScheduleRetry(ctx, n, delay)
}

func (p *Publisher) PublishDeadLetter(ctx context.Context, rec model.DeadLetterRecord) error {
	client, err := p.get()
	if err != nil {
		return err
	}
	return client.PublishDeadLetter(ctx, rec)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
