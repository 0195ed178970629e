package bridge

import (
	"encoding/json"

	"github.com/jwalitptl/email-service/internal/model"
	pkgerrors "github.com/jwalitptl/email-service/pkg/errors"
)

// Defaults applied when a producer omits a field. A missing recipient never
// blocks execution; it falls back to a fixed literal so the outcome stays
// deterministic.
const (
	DefaultNotificationID = "unknown"
	DefaultTemplateID     = "welcome.html"
	DefaultSubject        = "Notification"
	DefaultRecipient      = "default@example.com"
)

// inboundMessage covers the recognized fields of both producer shapes:
// a nested payload object matching the canonical delivery payload, or a
// flat message with template/recipient fields at the top level.
// Unrecognized fields are ignored.
type inboundMessage struct {
	NotificationID string                 `json:"notification_id"`
	Type           string                 `json:"type"`
	UserID         string                 `json:"user_id"`
	Payload        *inboundPayload        `json:"payload"`
	TemplateID     string                 `json:"template_id"`
	To             string                 `json:"to"`
	Subject        string                 `json:"subject"`
	Variables      map[string]interface{} `json:"variables"`
	Priority       string                 `json:"priority"`
	Metadata       inboundMetadata        `json:"metadata"`
	Timestamp      json.RawMessage        `json:"timestamp"`
	RetryCount     int                    `json:"retry_count"`
}

type inboundPayload struct {
	TemplateID string                 `json:"template_id"`
	To         string                 `json:"to"`
	Subject    string                 `json:"subject"`
	Variables  map[string]interface{} `json:"variables"`
}

type inboundMetadata struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// Normalize converts a raw inbound message into the canonical notification.
// It is a pure function: the same raw bytes always produce the same
// canonical record. Field extraction follows a fixed precedence per field;
// only malformed JSON fails normalization.
func Normalize(raw []byte) (model.Notification, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.Notification{}, pkgerrors.NewNormalization("malformed inbound message", err)
	}

	variables := msg.Variables
	templateID := msg.TemplateID
	to := msg.To
	subject := msg.Subject
	if msg.Payload != nil {
		// shape (a): nested payload wins over any flat duplicates
		if msg.Payload.Variables != nil {
			variables = msg.Payload.Variables
		}
		if msg.Payload.TemplateID != "" {
			templateID = msg.Payload.TemplateID
		}
		if msg.Payload.To != "" {
			to = msg.Payload.To
		}
		if msg.Payload.Subject != "" {
			subject = msg.Payload.Subject
		}
	}
	if variables == nil {
		variables = map[string]interface{}{}
	}

	return model.Notification{
		NotificationID: firstNonEmpty(msg.NotificationID, DefaultNotificationID),
		Type:           channelType(msg.Type),
		UserID:         msg.UserID,
		Payload: model.DeliveryPayload{
			TemplateID: firstNonEmpty(templateID, DefaultTemplateID),
			To:         resolveRecipient(to, variables),
			Subject:    firstNonEmpty(subject, DefaultSubject),
			Variables:  variables,
		},
		Priority:   priority(msg.Priority),
		Timestamp:  firstNonEmpty(timestampString(msg.Metadata.Timestamp), timestampString(msg.Timestamp)),
		RetryCount: msg.RetryCount,
	}, nil
}

// resolveRecipient applies the recipient precedence: explicit to field,
// then variables.email, then variables.user_email, then the fixed fallback.
func resolveRecipient(to string, variables map[string]interface{}) string {
	if to != "" {
		return to
	}
	for _, key := range []string{"email", "user_email"} {
		if v, ok := variables[key].(string); ok && v != "" {
			return v
		}
	}
	return DefaultRecipient
}

func channelType(t string) model.ChannelType {
	if t == "" {
		return model.ChannelEmail
	}
	return model.ChannelType(t)
}

func priority(p string) model.Priority {
	switch model.Priority(p) {
	case model.PriorityLow, model.PriorityNormal, model.PriorityHigh:
		return model.Priority(p)
	default:
		return model.PriorityNormal
	}
}

// timestampString tolerates producers that send timestamps as strings or
// numbers; anything else is dropped.
func timestampString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
