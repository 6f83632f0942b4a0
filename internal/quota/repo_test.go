package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:quota_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ddl := []string{
		`CREATE TABLE quota_counters (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			billing_cycle TEXT NOT NULL,
			plan TEXT NOT NULL,
			issued_count INTEGER NOT NULL DEFAULT 0,
			invoice_limit INTEGER NOT NULL,
			cycle_start DATETIME NOT NULL,
			reset_date DATETIME NOT NULL,
			created_at DATETIME,
			updated_at DATETIME,
			UNIQUE (tenant_id, billing_cycle)
		)`,
		`CREATE TABLE billing_plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			monthly_invoice_limit INTEGER NOT NULL,
			price_amount NUMERIC NOT NULL DEFAULT 0,
			features TEXT,
			is_default BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)`,
	}
	for _, stmt := range ddl {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

func seedCounter(t *testing.T, db *gorm.DB, tenantID uuid.UUID, cycle string, count, limit int) {
	t.Helper()
	now := time.Now().UTC()
	counter := models.QuotaCounter{
		TenantID:     tenantID,
		BillingCycle: cycle,
		Plan:         enums.PlanTierFree,
		IssuedCount:  count,
		InvoiceLimit: limit,
		CycleStart:   now,
		ResetDate:    now.AddDate(0, 1, 0),
	}
	if err := db.Create(&counter).Error; err != nil {
		t.Fatalf("seed counter: %v", err)
	}
}

func TestReserveSlotStopsAtLimit(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()

	seedCounter(t, db, tenantID, "2026-03", 0, 2)

	for i := 0; i < 2; i++ {
		ok, err := repo.ReserveSlot(ctx, tenantID, "2026-03")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("reserve %d: expected success", i)
		}
	}

	ok, err := repo.ReserveSlot(ctx, tenantID, "2026-03")
	if err != nil {
		t.Fatalf("reserve over limit: %v", err)
	}
	if ok {
		t.Fatal("expected reservation to fail at limit")
	}

	counter, err := repo.FindCounter(ctx, tenantID, "2026-03")
	if err != nil {
		t.Fatalf("find counter: %v", err)
	}
	if counter.IssuedCount != 2 {
		t.Fatalf("issued count = %d, want 2", counter.IssuedCount)
	}
}

func TestReleaseSlotFloorsAtZero(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()

	seedCounter(t, db, tenantID, "2026-03", 1, 5)

	if err := repo.ReleaseSlot(ctx, tenantID, "2026-03"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := repo.ReleaseSlot(ctx, tenantID, "2026-03"); err != nil {
		t.Fatalf("release at zero: %v", err)
	}

	counter, err := repo.FindCounter(ctx, tenantID, "2026-03")
	if err != nil {
		t.Fatalf("find counter: %v", err)
	}
	if counter.IssuedCount != 0 {
		t.Fatalf("issued count = %d, want 0", counter.IssuedCount)
	}
}

func TestReserveSlotScopedToTenantAndCycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	tenantA := uuid.New()
	tenantB := uuid.New()

	seedCounter(t, db, tenantA, "2026-03", 0, 1)
	seedCounter(t, db, tenantB, "2026-03", 0, 1)
	seedCounter(t, db, tenantA, "2026-04", 0, 1)

	if ok, err := repo.ReserveSlot(ctx, tenantA, "2026-03"); err != nil || !ok {
		t.Fatalf("tenant A reserve: ok=%v err=%v", ok, err)
	}

	other, err := repo.FindCounter(ctx, tenantB, "2026-03")
	if err != nil {
		t.Fatalf("find tenant B: %v", err)
	}
	if other.IssuedCount != 0 {
		t.Fatalf("tenant B count = %d, want 0", other.IssuedCount)
	}

	next, err := repo.FindCounter(ctx, tenantA, "2026-04")
	if err != nil {
		t.Fatalf("find next cycle: %v", err)
	}
	if next.IssuedCount != 0 {
		t.Fatalf("next cycle count = %d, want 0", next.IssuedCount)
	}
}

func TestFindPlanAndList(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	plans := []models.BillingPlan{
		{ID: enums.PlanTierFree, Name: "Free", MonthlyInvoiceLimit: 5, IsDefault: true},
		{ID: enums.PlanTierBasic, Name: "Basic", MonthlyInvoiceLimit: 20},
	}
	for i := range plans {
		if err := db.Create(&plans[i]).Error; err != nil {
			t.Fatalf("seed plan: %v", err)
		}
	}

	free, err := repo.FindPlan(ctx, enums.PlanTierFree)
	if err != nil {
		t.Fatalf("find plan: %v", err)
	}
	if free.MonthlyInvoiceLimit != 5 {
		t.Fatalf("free limit = %d, want 5", free.MonthlyInvoiceLimit)
	}

	all, err := repo.ListPlans(ctx)
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("plans = %d, want 2", len(all))
	}
	if all[0].ID != enums.PlanTierFree {
		t.Fatalf("plans not ordered by limit: %v", all[0].ID)
	}
}
