package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/pagination"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:audit_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ddl := `CREATE TABLE audit_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		occurred_at DATETIME NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'info',
		created_at DATETIME
	)`
	if err := conn.Exec(ddl).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return conn
}

func seedEvents(t *testing.T, db *gorm.DB, tenantID uuid.UUID, n int, category enums.AuditCategory) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		event := models.AuditEvent{
			TenantID:    &tenantID,
			OccurredAt:  base.Add(time.Duration(i) * time.Minute),
			Category:    category,
			Description: fmt.Sprintf("event %d", i),
			Severity:    enums.AuditSeverityInfo,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&event).Error; err != nil {
			t.Fatalf("seed event %d: %v", i, err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	tenantID := uuid.New()
	seedEvents(t, db, tenantID, 3, enums.AuditCategoryInvoicing)

	events, next, err := repo.List(context.Background(), ListQuery{TenantID: tenantID, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if next != nil {
		t.Fatal("unexpected next cursor")
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Description != "event 2" {
		t.Fatalf("first event = %q, want newest", events[0].Description)
	}
}

func TestListPaginatesWithCursor(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	tenantID := uuid.New()
	seedEvents(t, db, tenantID, 5, enums.AuditCategoryInvoicing)

	// walking every page must yield all 5 events exactly once, newest first
	seen := []string{}
	var cursor *pagination.Cursor
	for page := 0; page < 3; page++ {
		events, next, err := repo.List(context.Background(), ListQuery{TenantID: tenantID, Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		for _, e := range events {
			seen = append(seen, e.Description)
		}
		cursor = next
	}
	if cursor != nil {
		t.Fatal("expected nil cursor after the final page")
	}
	want := []string{"event 4", "event 3", "event 2", "event 1", "event 0"}
	if len(seen) != len(want) {
		t.Fatalf("walked %d events, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("position %d = %q, want %q (page boundary lost a row?)", i, seen[i], want[i])
		}
	}
}

func TestListFiltersByCategoryAndTenant(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	tenantA := uuid.New()
	tenantB := uuid.New()
	seedEvents(t, db, tenantA, 2, enums.AuditCategoryInvoicing)
	seedEvents(t, db, tenantA, 1, enums.AuditCategoryLogin)
	seedEvents(t, db, tenantB, 4, enums.AuditCategoryInvoicing)

	category := enums.AuditCategoryInvoicing
	events, _, err := repo.List(context.Background(), ListQuery{TenantID: tenantA, Category: &category, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for _, e := range events {
		if e.TenantID == nil || *e.TenantID != tenantA {
			t.Fatalf("leaked event for tenant %v", e.TenantID)
		}
	}
}

func TestQueryRejectsBadCursor(t *testing.T) {
	db := newTestDB(t)
	svc, err := NewService(ServiceParams{Repo: NewRepository(db)})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, _, err = svc.Query(context.Background(), QueryParams{TenantID: uuid.New(), Cursor: "not-base64!"})
	if err == nil {
		t.Fatal("expected cursor error")
	}
}
