package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/enums"
)

// QuotaCounter tracks issued-invoice consumption for one tenant within one
// billing cycle. The counter is reset explicitly by the cycle rollover job,
// never recomputed lazily.
type QuotaCounter struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID     uuid.UUID      `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_quota_counters_tenant_cycle,priority:1"`
	BillingCycle string         `gorm:"column:billing_cycle;not null;uniqueIndex:ux_quota_counters_tenant_cycle,priority:2"`
	Plan         enums.PlanTier `gorm:"column:plan;type:plan_tier_enum;not null"`
	IssuedCount  int            `gorm:"column:issued_count;not null;default:0"`
	InvoiceLimit int            `gorm:"column:invoice_limit;not null"`
	CycleStart   time.Time      `gorm:"column:cycle_start;not null"`
	ResetDate    time.Time      `gorm:"column:reset_date;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (q *QuotaCounter) BeforeCreate(*gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

// Percentage returns consumption as a whole-number percentage capped at 100.
func (q QuotaCounter) Percentage() int {
	if q.InvoiceLimit <= 0 {
		return 100
	}
	pct := q.IssuedCount * 100 / q.InvoiceLimit
	if pct > 100 {
		return 100
	}
	return pct
}
