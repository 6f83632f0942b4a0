package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/enums"
)

// AuditEvent is one append-only bitácora record. Events are never edited or
// deleted; ordering is creation order.
type AuditEvent struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID    *uuid.UUID          `gorm:"column:tenant_id;type:uuid;index:idx_audit_events_tenant_occurred,priority:1"`
	OccurredAt  time.Time           `gorm:"column:occurred_at;not null;index:idx_audit_events_tenant_occurred,priority:2"`
	Category    enums.AuditCategory `gorm:"column:category;type:audit_category_enum;not null"`
	Description string              `gorm:"column:description;not null"`
	Severity    enums.AuditSeverity `gorm:"column:severity;type:audit_severity_enum;not null;default:'info'"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (a *AuditEvent) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
