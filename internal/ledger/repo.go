package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/pagination"
)

// Repository manages persistence for ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	FindTail(ctx context.Context, tenantID uuid.UUID) (*models.LedgerEntry, error)
	FindByID(ctx context.Context, tenantID, entryID uuid.UUID) (*models.LedgerEntry, error)
	FindByChainHash(ctx context.Context, chainHash string) (*models.LedgerEntry, error)
	List(ctx context.Context, params ListQuery) ([]models.LedgerEntry, *pagination.Cursor, error)
	ListBySequence(ctx context.Context, tenantID uuid.UUID) ([]models.LedgerEntry, error)
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
	MarkCancelled(ctx context.Context, tenantID, entryID, rectificationID uuid.UUID) (bool, error)
}

// ListQuery filters a tenant's entries, newest first.
type ListQuery struct {
	TenantID uuid.UUID
	Limit    int
	Cursor   *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindTail(ctx context.Context, tenantID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence_no DESC").
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByID(ctx context.Context, tenantID, entryID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, entryID).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindByChainHash is tenant-agnostic: verification is a public lookup.
func (r *repository) FindByChainHash(ctx context.Context, chainHash string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("chain_hash = ?", chainHash).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.LedgerEntry, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("tenant_id = ?", params.TenantID)
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var entries []models.LedgerEntry
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	if len(entries) > limit {
		entries = entries[:limit]
		// resume strictly after the last row we hand back, so the row the
		// buffer peeked at opens the next page
		last := entries[limit-1]
		return entries, &pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		}, nil
	}

	return entries, nil, nil
}

func (r *repository) ListBySequence(ctx context.Context, tenantID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence_no ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// MarkCancelled flips a Valid entry to Cancelled and records its
// rectification. The status guard makes the transition one-shot under
// concurrent cancel attempts; false means the entry was not Valid anymore.
func (r *repository) MarkCancelled(ctx context.Context, tenantID, entryID, rectificationID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, entryID, enums.EntryStatusValid).
		Updates(map[string]any{
			"status":          enums.EntryStatusCancelled,
			"linked_entry_id": rectificationID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
