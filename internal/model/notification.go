package model

import "time"

// ChannelType identifies the delivery channel of a notification.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
)

// Priority is advisory only; it does not alter processing order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Status is the lifecycle state visible through the status tracker.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// DeliveryPayload carries everything the transport needs for one send.
type DeliveryPayload struct {
	TemplateID string                 `json:"template_id"`
	To         string                 `json:"to"`
	Subject    string                 `json:"subject"`
	Variables  map[string]interface{} `json:"variables"`
}

// Notification is the canonical post-normalization representation, the
// internal boundary between the queue bridge and the delivery executor.
// NotificationID is immutable once assigned; RetryCount only grows across
// one notification's processing lifetime.
type Notification struct {
	NotificationID string          `json:"notification_id"`
	Type           ChannelType     `json:"type"`
	UserID         string          `json:"user_id"`
	Payload        DeliveryPayload `json:"payload"`
	Priority       Priority        `json:"priority"`
	Timestamp      string          `json:"timestamp"`
	RetryCount     int             `json:"retry_count"`
}

// StatusRecord is the value stored under notification:status:<id>.
type StatusRecord struct {
	NotificationID string `json:"notification_id"`
	Status         Status `json:"status"`
	UpdatedAt      string `json:"updated_at"`
	ErrorMessage   string `json:"error_message"`
}

// DeadLetterRecord is published once per notification that exhausts its
// retries. OriginalPayload keeps the canonical input for forensic replay.
type DeadLetterRecord struct {
	FailedAt        time.Time    `json:"failed_at"`
	NotificationID  string       `json:"notification_id"`
	OriginalPayload Notification `json:"original_payload"`
	Error           string       `json:"error"`
}
