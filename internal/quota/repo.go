package quota

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
)

// Repository manages persistence for quota counters and billing plans.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindCounter(ctx context.Context, tenantID uuid.UUID, cycle string) (*models.QuotaCounter, error)
	CreateCounter(ctx context.Context, counter *models.QuotaCounter) error
	ReserveSlot(ctx context.Context, tenantID uuid.UUID, cycle string) (bool, error)
	ReleaseSlot(ctx context.Context, tenantID uuid.UUID, cycle string) error
	ListByCycle(ctx context.Context, cycle string) ([]models.QuotaCounter, error)
	FindPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error)
	ListPlans(ctx context.Context) ([]models.BillingPlan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a quota repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindCounter(ctx context.Context, tenantID uuid.UUID, cycle string) (*models.QuotaCounter, error) {
	var counter models.QuotaCounter
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND billing_cycle = ?", tenantID, cycle).
		First(&counter).Error; err != nil {
		return nil, err
	}
	return &counter, nil
}

func (r *repository) CreateCounter(ctx context.Context, counter *models.QuotaCounter) error {
	return r.db.WithContext(ctx).Create(counter).Error
}

// ReserveSlot increments the counter only while it is below its limit. The
// conditional update keeps concurrent issuers from ever exceeding the quota.
func (r *repository) ReserveSlot(ctx context.Context, tenantID uuid.UUID, cycle string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.QuotaCounter{}).
		Where("tenant_id = ? AND billing_cycle = ? AND issued_count < invoice_limit", tenantID, cycle).
		Update("issued_count", gorm.Expr("issued_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ReleaseSlot(ctx context.Context, tenantID uuid.UUID, cycle string) error {
	return r.db.WithContext(ctx).
		Model(&models.QuotaCounter{}).
		Where("tenant_id = ? AND billing_cycle = ? AND issued_count > 0", tenantID, cycle).
		Update("issued_count", gorm.Expr("issued_count - 1")).Error
}

func (r *repository) ListByCycle(ctx context.Context, cycle string) ([]models.QuotaCounter, error) {
	var counters []models.QuotaCounter
	if err := r.db.WithContext(ctx).
		Where("billing_cycle = ?", cycle).
		Order("tenant_id ASC").
		Find(&counters).Error; err != nil {
		return nil, err
	}
	return counters, nil
}

func (r *repository) FindPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("id = ?", tier).
		First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	if err := r.db.WithContext(ctx).
		Order("monthly_invoice_limit ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}
