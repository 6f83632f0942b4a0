package enums

import "fmt"

// EntryStatus maps to the entry_status_enum enum in Postgres. Only issued
// entries transition, and only once: valid -> cancelled.
type EntryStatus string

const (
	EntryStatusValid     EntryStatus = "valid"
	EntryStatusCancelled EntryStatus = "cancelled"
)

var validEntryStatuses = []EntryStatus{
	EntryStatusValid,
	EntryStatusCancelled,
}

// IsValid reports whether the value matches the canonical entry status enum.
func (s EntryStatus) IsValid() bool {
	for _, candidate := range validEntryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEntryStatus converts raw input into EntryStatus.
func ParseEntryStatus(value string) (EntryStatus, error) {
	for _, candidate := range validEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entry status %q", value)
}
