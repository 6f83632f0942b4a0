package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/db"
	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service tracks monthly invoice consumption against plan limits.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, plan enums.PlanTier, now time.Time) (*models.QuotaCounter, error)
	Release(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, now time.Time) error
	Status(ctx context.Context, tenantID uuid.UUID, plan enums.PlanTier, now time.Time) (*Status, error)
	ResetCycle(ctx context.Context, now time.Time) (int, error)
	Plans(ctx context.Context) ([]models.BillingPlan, error)
}

// Status is the consumption snapshot returned to tenants.
type Status struct {
	Plan       enums.PlanTier
	Consumed   int
	Limit      int
	Percentage int
	ResetDate  time.Time
}

// ServiceParams groups dependencies for the quota service.
type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	DefaultPlan enums.PlanTier
}

type service struct {
	repo        Repository
	tx          txRunner
	defaultPlan enums.PlanTier
}

// NewService builds a quota service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("quota repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.DefaultPlan == "" {
		params.DefaultPlan = enums.PlanTierFree
	}
	if !params.DefaultPlan.IsValid() {
		return nil, fmt.Errorf("invalid default plan %q", params.DefaultPlan)
	}
	return &service{
		repo:        params.Repo,
		tx:          params.Tx,
		defaultPlan: params.DefaultPlan,
	}, nil
}

// CycleFor names the billing cycle containing the given instant.
func CycleFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NextReset returns the first instant of the following billing cycle.
func NextReset(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// Reserve consumes one quota slot inside the caller's transaction. It fails
// with CodeQuotaExceeded when the cycle limit is exhausted, leaving the
// counter untouched.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, plan enums.PlanTier, now time.Time) (*models.QuotaCounter, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	repo := s.repo.WithTx(tx)
	cycle := CycleFor(now)

	counter, err := s.ensureCounter(ctx, repo, tenantID, plan, now)
	if err != nil {
		return nil, err
	}

	reserved, err := repo.ReserveSlot(ctx, tenantID, cycle)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve quota slot")
	}
	if !reserved {
		return nil, pkgerrors.New(pkgerrors.CodeQuotaExceeded,
			fmt.Sprintf("monthly invoice quota exhausted (%d of %d used)", counter.IssuedCount, counter.InvoiceLimit))
	}
	// ReserveSlot incremented the stored count; reload so the snapshot we
	// hand back reflects it
	counter, err = repo.FindCounter(ctx, tenantID, cycle)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload quota counter")
	}
	return counter, nil
}

// Release returns one previously reserved slot. Cancellations do not call
// this; it exists for compensating failed issue transactions that already
// committed a reservation out of band.
func (s *service) Release(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, now time.Time) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	repo := s.repo.WithTx(tx)
	if err := repo.ReleaseSlot(ctx, tenantID, CycleFor(now)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release quota slot")
	}
	return nil
}

func (s *service) Status(ctx context.Context, tenantID uuid.UUID, plan enums.PlanTier, now time.Time) (*Status, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	var counter *models.QuotaCounter
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var inner error
		counter, inner = s.ensureCounter(ctx, s.repo.WithTx(tx), tenantID, plan, now)
		return inner
	})
	if err != nil {
		return nil, err
	}

	return &Status{
		Plan:       counter.Plan,
		Consumed:   counter.IssuedCount,
		Limit:      counter.InvoiceLimit,
		Percentage: counter.Percentage(),
		ResetDate:  counter.ResetDate,
	}, nil
}

// ResetCycle rolls every counter from the previous cycle into the current
// one with a zeroed count. Limits are re-read from the plan catalog so plan
// changes take effect at the boundary. Returns how many tenants rolled over.
func (s *service) ResetCycle(ctx context.Context, now time.Time) (int, error) {
	prevCycle := CycleFor(now.UTC().AddDate(0, -1, 0))
	currentCycle := CycleFor(now)

	rolled := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		previous, err := repo.ListByCycle(ctx, prevCycle)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list previous cycle counters")
		}

		for _, old := range previous {
			if _, err := repo.FindCounter(ctx, old.TenantID, currentCycle); err == nil {
				continue
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check current cycle counter")
			}

			if _, err := s.createCounter(ctx, repo, old.TenantID, old.Plan, now); err != nil {
				return err
			}
			rolled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rolled, nil
}

func (s *service) Plans(ctx context.Context) ([]models.BillingPlan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing plans")
	}
	return plans, nil
}

func (s *service) ensureCounter(ctx context.Context, repo Repository, tenantID uuid.UUID, plan enums.PlanTier, now time.Time) (*models.QuotaCounter, error) {
	cycle := CycleFor(now)

	counter, err := repo.FindCounter(ctx, tenantID, cycle)
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load quota counter")
	}

	return s.createCounter(ctx, repo, tenantID, plan, now)
}

func (s *service) createCounter(ctx context.Context, repo Repository, tenantID uuid.UUID, plan enums.PlanTier, now time.Time) (*models.QuotaCounter, error) {
	if !plan.IsValid() {
		plan = s.defaultPlan
	}

	catalog, err := repo.FindPlan(ctx, plan)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing plan")
	}

	cycle := CycleFor(now)
	u := now.UTC()
	counter := &models.QuotaCounter{
		TenantID:     tenantID,
		BillingCycle: cycle,
		Plan:         plan,
		IssuedCount:  0,
		InvoiceLimit: catalog.MonthlyInvoiceLimit,
		CycleStart:   time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC),
		ResetDate:    NextReset(now),
	}
	if err := repo.CreateCounter(ctx, counter); err != nil {
		// A concurrent request may have created the row first.
		if db.IsUniqueViolation(err, "") {
			return repo.FindCounter(ctx, tenantID, cycle)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create quota counter")
	}
	return counter, nil
}
