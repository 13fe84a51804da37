package telemetry

import (
	"context"
	"log"
	"time"
)

// Publisher is the slice of the notifier the audit emitter needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, event string, payload any) error
}

// AuditEmitter publishes audit log events for sensitive operations
// such as deletes and role changes.
type AuditEmitter struct {
	publisher   Publisher
	channel     string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, channel, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		channel:     channel,
		service:     service,
		environment: environment,
	}
}

// Emit is best-effort: a nil emitter or publish failure never affects
// the operation being audited.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: level=%s request_id=%s user_id=%v text=%q", level, requestID, userID, text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := e.publisher.Publish(ctx, e.channel, "audit_log", envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
