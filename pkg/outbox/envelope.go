package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	TenantID   uuid.UUID       `json:"tenantId"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope builds a v1 envelope with a fresh event id.
func NewEnvelope(tenantID uuid.UUID, occurredAt time.Time, data json.RawMessage) PayloadEnvelope {
	return PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		TenantID:   tenantID,
		Data:       data,
	}
}
