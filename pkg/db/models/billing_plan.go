package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/inalterahq/inaltera-backend/pkg/enums"
)

// BillingPlan defines a subscription tier and the monthly invoice quota it
// grants. Plans are seeded by migration and edited by operators, not tenants.
type BillingPlan struct {
	ID                  enums.PlanTier  `gorm:"column:id;type:plan_tier_enum;primaryKey"`
	Name                string          `gorm:"column:name;not null"`
	MonthlyInvoiceLimit int             `gorm:"column:monthly_invoice_limit;not null"`
	PriceAmount         decimal.Decimal `gorm:"column:price_amount;type:numeric(10,2);not null;default:0"`
	Features            pq.StringArray  `gorm:"column:features;type:text[]"`
	IsDefault           bool            `gorm:"column:is_default;not null;default:false"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
