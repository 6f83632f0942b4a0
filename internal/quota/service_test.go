package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
)

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubRepo struct {
	counters map[string]*models.QuotaCounter
	plans    map[enums.PlanTier]*models.BillingPlan
	created  []*models.QuotaCounter
	reserve  func(tenantID uuid.UUID, cycle string) (bool, error)
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		counters: map[string]*models.QuotaCounter{},
		plans: map[enums.PlanTier]*models.BillingPlan{
			enums.PlanTierFree:  {ID: enums.PlanTierFree, Name: "Free", MonthlyInvoiceLimit: 5},
			enums.PlanTierBasic: {ID: enums.PlanTierBasic, Name: "Basic", MonthlyInvoiceLimit: 20},
		},
	}
}

func counterKey(tenantID uuid.UUID, cycle string) string {
	return tenantID.String() + "|" + cycle
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) FindCounter(ctx context.Context, tenantID uuid.UUID, cycle string) (*models.QuotaCounter, error) {
	if c, ok := s.counters[counterKey(tenantID, cycle)]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepo) CreateCounter(ctx context.Context, counter *models.QuotaCounter) error {
	s.counters[counterKey(counter.TenantID, counter.BillingCycle)] = counter
	s.created = append(s.created, counter)
	return nil
}

func (s *stubRepo) ReserveSlot(ctx context.Context, tenantID uuid.UUID, cycle string) (bool, error) {
	if s.reserve != nil {
		return s.reserve(tenantID, cycle)
	}
	c, ok := s.counters[counterKey(tenantID, cycle)]
	if !ok || c.IssuedCount >= c.InvoiceLimit {
		return false, nil
	}
	c.IssuedCount++
	return true, nil
}

func (s *stubRepo) ReleaseSlot(ctx context.Context, tenantID uuid.UUID, cycle string) error {
	if c, ok := s.counters[counterKey(tenantID, cycle)]; ok && c.IssuedCount > 0 {
		c.IssuedCount--
	}
	return nil
}

func (s *stubRepo) ListByCycle(ctx context.Context, cycle string) ([]models.QuotaCounter, error) {
	var out []models.QuotaCounter
	for _, c := range s.counters {
		if c.BillingCycle == cycle {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubRepo) FindPlan(ctx context.Context, tier enums.PlanTier) (*models.BillingPlan, error) {
	if p, ok := s.plans[tier]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepo) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	var out []models.BillingPlan
	for _, p := range s.plans {
		out = append(out, *p)
	}
	return out, nil
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Repo: repo, Tx: stubTx{}, DefaultPlan: enums.PlanTierFree})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestReserveCreatesCounterOnFirstUse(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	tenantID := uuid.New()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	counter, err := svc.Reserve(context.Background(), nil, tenantID, enums.PlanTierBasic, now)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if counter.InvoiceLimit != 20 {
		t.Fatalf("limit = %d, want 20", counter.InvoiceLimit)
	}
	if counter.IssuedCount != 1 {
		t.Fatalf("count = %d, want 1", counter.IssuedCount)
	}
	if len(repo.created) != 1 {
		t.Fatalf("created counters = %d, want 1", len(repo.created))
	}
	if repo.created[0].BillingCycle != "2026-03" {
		t.Fatalf("cycle = %s, want 2026-03", repo.created[0].BillingCycle)
	}
}

func TestReserveQuotaExceededLeavesCountUntouched(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	tenantID := uuid.New()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	repo.counters[counterKey(tenantID, "2026-03")] = &models.QuotaCounter{
		TenantID:     tenantID,
		BillingCycle: "2026-03",
		Plan:         enums.PlanTierFree,
		IssuedCount:  5,
		InvoiceLimit: 5,
		ResetDate:    time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	_, err := svc.Reserve(context.Background(), nil, tenantID, enums.PlanTierFree, now)
	if !pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if got := repo.counters[counterKey(tenantID, "2026-03")].IssuedCount; got != 5 {
		t.Fatalf("count mutated to %d", got)
	}
}

func TestStatusReportsPercentageAndReset(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	tenantID := uuid.New()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	repo.counters[counterKey(tenantID, "2026-03")] = &models.QuotaCounter{
		TenantID:     tenantID,
		BillingCycle: "2026-03",
		Plan:         enums.PlanTierBasic,
		IssuedCount:  5,
		InvoiceLimit: 20,
		ResetDate:    time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	status, err := svc.Status(context.Background(), tenantID, enums.PlanTierBasic, now)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Percentage != 25 {
		t.Fatalf("percentage = %d, want 25", status.Percentage)
	}
	if status.Consumed != 5 || status.Limit != 20 {
		t.Fatalf("consumed/limit = %d/%d", status.Consumed, status.Limit)
	}
	if !status.ResetDate.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("reset date = %s", status.ResetDate)
	}
}

func TestResetCycleRollsTenantsForward(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo)
	tenantA := uuid.New()
	tenantB := uuid.New()

	repo.counters[counterKey(tenantA, "2026-02")] = &models.QuotaCounter{
		TenantID: tenantA, BillingCycle: "2026-02", Plan: enums.PlanTierBasic, IssuedCount: 20, InvoiceLimit: 20,
	}
	repo.counters[counterKey(tenantB, "2026-02")] = &models.QuotaCounter{
		TenantID: tenantB, BillingCycle: "2026-02", Plan: enums.PlanTierFree, IssuedCount: 3, InvoiceLimit: 5,
	}
	// Tenant B already has a current-cycle counter; only A should roll.
	repo.counters[counterKey(tenantB, "2026-03")] = &models.QuotaCounter{
		TenantID: tenantB, BillingCycle: "2026-03", Plan: enums.PlanTierFree, IssuedCount: 1, InvoiceLimit: 5,
	}

	rolled, err := svc.ResetCycle(context.Background(), time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ResetCycle: %v", err)
	}
	if rolled != 1 {
		t.Fatalf("rolled = %d, want 1", rolled)
	}

	fresh, ok := repo.counters[counterKey(tenantA, "2026-03")]
	if !ok {
		t.Fatal("tenant A counter not rolled")
	}
	if fresh.IssuedCount != 0 {
		t.Fatalf("rolled counter count = %d, want 0", fresh.IssuedCount)
	}
	if fresh.InvoiceLimit != 20 {
		t.Fatalf("rolled counter limit = %d, want 20", fresh.InvoiceLimit)
	}
}

func TestCycleHelpers(t *testing.T) {
	dec := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	if got := CycleFor(dec); got != "2026-12" {
		t.Fatalf("CycleFor = %s", got)
	}
	if got := NextReset(dec); !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("NextReset = %s", got)
	}
}
