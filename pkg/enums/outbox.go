package enums

import "fmt"

// OutboxEventType maps to the event_type_enum enum in Postgres.
type OutboxEventType string

const (
	EventInvoiceIssued    OutboxEventType = "invoice_issued"
	EventInvoiceCancelled OutboxEventType = "invoice_cancelled"
	EventQuotaCycleReset  OutboxEventType = "quota_cycle_reset"
)

var validOutboxEventTypes = []OutboxEventType{
	EventInvoiceIssued,
	EventInvoiceCancelled,
	EventQuotaCycleReset,
}

// IsValid reports whether the value matches the canonical event type enum.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
