// Package rectification voids issued invoices by appending a negative
// counter-entry to the tenant's chain. Nothing is ever deleted.
package rectification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/internal/ledger"
	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service cancels issued invoices.
type Service interface {
	Cancel(ctx context.Context, input CancelInput) (*models.LedgerEntry, error)
}

// CancelInput identifies the entry to void and the stated reason.
type CancelInput struct {
	TenantID uuid.UUID
	EntryID  uuid.UUID
	Reason   string
}

// ServiceParams groups dependencies for the rectification service.
type ServiceParams struct {
	Ledger  ledger.Service
	Repo    ledger.Repository
	Tx      txRunner
	Audit   audit.Service
	Metrics *metrics.LedgerMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	ledger  ledger.Service
	repo    ledger.Repository
	tx      txRunner
	audit   audit.Service
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a rectification service.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &service{
		ledger:  params.Ledger,
		repo:    params.Repo,
		tx:      params.Tx,
		audit:   params.Audit,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     params.Now,
	}, nil
}

// Cancel voids an Issued entry: the original flips Valid→Cancelled exactly
// once, and a Rectification entry with the negated total extends the same
// chain through the ledger's normal sequencing path. Quota is neither
// consumed nor refunded.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.LedgerEntry, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.EntryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason required")
	}

	release, err := s.ledger.Lock(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release chain lock", relErr)
		}
	}()

	var rectification *models.LedgerEntry
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		target, err := repo.FindByID(ctx, input.TenantID, input.EntryID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "entry not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load target entry")
		}
		if target.Kind != enums.EntryKindIssued {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "only issued entries can be cancelled")
		}
		if target.Status == enums.EntryStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeAlreadyCancelled, "entry already cancelled")
		}

		items, err := ledger.ParseLineItems(target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode target line items")
		}

		rectification, err = s.ledger.Append(ctx, tx, ledger.EntryDraft{
			TenantID:      input.TenantID,
			Kind:          enums.EntryKindRectification,
			ClientRef:     target.ClientRef,
			ClientNIF:     target.ClientNIF,
			InvoiceNumber: target.InvoiceNumber,
			LineItems:     items,
			Total:         target.Total.Neg(),
			Notes:         fmt.Sprintf("anulación de %s", target.InvoiceNumber),
			LinkedEntryID: &target.ID,
			CancelReason:  &reason,
		})
		if err != nil {
			return err
		}

		flipped, err := repo.MarkCancelled(ctx, input.TenantID, target.ID, rectification.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark entry cancelled")
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeAlreadyCancelled, "entry already cancelled")
		}

		if _, err := s.audit.Append(ctx, tx, audit.AppendInput{
			TenantID:    &input.TenantID,
			Category:    enums.AuditCategoryCancellation,
			Description: fmt.Sprintf("factura %s anulada: %s", target.InvoiceNumber, reason),
			Severity:    enums.AuditSeverityWarning,
			OccurredAt:  s.now(),
		}); err != nil {
			return err
		}

		return s.ledger.Emit(tx, enums.EventInvoiceCancelled, rectification)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncEntry(string(enums.EntryKindRectification))

	ctx = s.logg.WithTenantID(ctx, input.TenantID.String())
	ctx = s.logg.WithEntryID(ctx, input.EntryID.String())
	s.logg.Info(ctx, "ledger entry cancelled")
	return rectification, nil
}
