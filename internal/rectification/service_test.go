package rectification

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/internal/hashchain"
	"github.com/inalterahq/inaltera-backend/internal/ledger"
	"github.com/inalterahq/inaltera-backend/internal/quota"
	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/outbox"
	"github.com/inalterahq/inaltera-backend/pkg/types"
)

type gormTx struct {
	db *gorm.DB
}

func (g gormTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

type mutexLocker struct {
	locks sync.Map
}

func (l *mutexLocker) Acquire(ctx context.Context, tenantID uuid.UUID) (func(context.Context) error, error) {
	value, _ := l.locks.LoadOrStore(tenantID, &sync.Mutex{})
	mtx := value.(*sync.Mutex)
	mtx.Lock()
	return func(context.Context) error {
		mtx.Unlock()
		return nil
	}, nil
}

var schema = []string{
	`CREATE TABLE ledger_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		sequence_no INTEGER NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'valid',
		issued_at DATETIME NOT NULL,
		client_ref TEXT NOT NULL,
		client_nif TEXT,
		invoice_number TEXT NOT NULL,
		line_items TEXT NOT NULL,
		total NUMERIC NOT NULL,
		notes TEXT,
		payload_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		chain_hash TEXT NOT NULL UNIQUE,
		linked_entry_id TEXT,
		cancel_reason TEXT,
		created_at DATETIME,
		UNIQUE (tenant_id, sequence_no)
	)`,
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
	`CREATE TABLE audit_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		occurred_at DATETIME NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'info',
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

type harness struct {
	db        *gorm.DB
	ledgerSvc ledger.Service
	svc       Service
	repo      ledger.Repository
	audits    audit.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := "file:rectification_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	plan := models.BillingPlan{ID: enums.PlanTierBasic, Name: "Basic", MonthlyInvoiceLimit: 20}
	if err := conn.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	tx := gormTx{db: conn}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	quotaSvc, err := quota.NewService(quota.ServiceParams{Repo: quota.NewRepository(conn), Tx: tx})
	if err != nil {
		t.Fatalf("quota service: %v", err)
	}
	auditRepo := audit.NewRepository(conn)
	auditSvc, err := audit.NewService(audit.ServiceParams{Repo: auditRepo})
	if err != nil {
		t.Fatalf("audit service: %v", err)
	}

	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:      ledgerRepo,
		Tx:        tx,
		Quota:     quotaSvc,
		Audit:     auditSvc,
		Outbox:    outbox.NewRepository(conn),
		Locker:    &mutexLocker{},
		Algorithm: hashchain.AlgorithmSHA256,
		Logger:    logg,
	})
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Ledger: ledgerSvc,
		Repo:   ledgerRepo,
		Tx:     tx,
		Audit:  auditSvc,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("rectification service: %v", err)
	}

	return &harness{
		db:        conn,
		ledgerSvc: ledgerSvc,
		svc:       svc,
		repo:      ledgerRepo,
		audits:    auditRepo,
	}
}

func issueInvoice(t *testing.T, h *harness, tenantID uuid.UUID) *models.LedgerEntry {
	t.Helper()
	entry, err := h.ledgerSvc.Issue(context.Background(), ledger.IssueInput{
		TenantID:  tenantID,
		Plan:      enums.PlanTierBasic,
		ClientRef: "Acme SL",
		ClientNIF: "B12345678",
		LineItems: []types.LineItem{
			{Product: "Licencia", Quantity: 2, UnitPrice: decimal.NewFromInt(50), TaxRate: decimal.NewFromInt(21)},
		},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return entry
}

func TestCancelAppendsNegatedRectification(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	ctx := context.Background()
	original := issueInvoice(t, h, tenantID)

	rectification, err := h.svc.Cancel(ctx, CancelInput{
		TenantID: tenantID,
		EntryID:  original.ID,
		Reason:   "importe incorrecto",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if rectification.Kind != enums.EntryKindRectification {
		t.Fatalf("kind = %s", rectification.Kind)
	}
	if rectification.SequenceNo != original.SequenceNo+1 {
		t.Fatalf("sequence = %d, want %d", rectification.SequenceNo, original.SequenceNo+1)
	}
	if rectification.PrevHash != original.ChainHash {
		t.Fatal("rectification does not link against the original")
	}
	if !rectification.Total.Equal(original.Total.Neg()) {
		t.Fatalf("total = %s, want %s", rectification.Total, original.Total.Neg())
	}
	if rectification.InvoiceNumber != original.InvoiceNumber {
		t.Fatalf("invoice number = %s, want %s", rectification.InvoiceNumber, original.InvoiceNumber)
	}
	if rectification.LinkedEntryID == nil || *rectification.LinkedEntryID != original.ID {
		t.Fatal("rectification not linked to original")
	}

	updated, err := h.repo.FindByID(ctx, tenantID, original.ID)
	if err != nil {
		t.Fatalf("reload original: %v", err)
	}
	if updated.Status != enums.EntryStatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}
	if updated.LinkedEntryID == nil || *updated.LinkedEntryID != rectification.ID {
		t.Fatal("original not linked to rectification")
	}
}

func TestCancelPreservesOriginalHashes(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	ctx := context.Background()
	original := issueInvoice(t, h, tenantID)

	if _, err := h.svc.Cancel(ctx, CancelInput{TenantID: tenantID, EntryID: original.ID, Reason: "duplicado"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	updated, err := h.repo.FindByID(ctx, tenantID, original.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if updated.PayloadHash != original.PayloadHash ||
		updated.PrevHash != original.PrevHash ||
		updated.ChainHash != original.ChainHash {
		t.Fatal("cancellation mutated the original entry's hashes")
	}
	if updated.SequenceNo != original.SequenceNo {
		t.Fatal("cancellation mutated the original entry's sequence")
	}
}

func TestCancelTwiceFails(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	ctx := context.Background()
	original := issueInvoice(t, h, tenantID)

	if _, err := h.svc.Cancel(ctx, CancelInput{TenantID: tenantID, EntryID: original.ID, Reason: "error"}); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	_, err := h.svc.Cancel(ctx, CancelInput{TenantID: tenantID, EntryID: original.ID, Reason: "otra vez"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeAlreadyCancelled) {
		t.Fatalf("expected already cancelled, got %v", err)
	}

	entries, err := h.repo.ListBySequence(ctx, tenantID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (failed cancel must not append)", len(entries))
	}
}

func TestCancelRejectsRectificationEntries(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	ctx := context.Background()
	original := issueInvoice(t, h, tenantID)

	rectification, err := h.svc.Cancel(ctx, CancelInput{TenantID: tenantID, EntryID: original.ID, Reason: "error"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, err = h.svc.Cancel(ctx, CancelInput{TenantID: tenantID, EntryID: rectification.ID, Reason: "no"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestCancelUnknownEntry(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Cancel(context.Background(), CancelInput{
		TenantID: uuid.New(),
		EntryID:  uuid.New(),
		Reason:   "no existe",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelRequiresReason(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	original := issueInvoice(t, h, tenantID)

	_, err := h.svc.Cancel(context.Background(), CancelInput{
		TenantID: tenantID,
		EntryID:  original.ID,
		Reason:   "   ",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelDoesNotRefundQuota(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	ctx := context.Background()
	original := issueInvoice(t, h, tenantID)

	if _, err := h.svc.Cancel(ctx, CancelInput{TenantID: tenantID, EntryID: original.ID, Reason: "error"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	var counter models.QuotaCounter
	if err := h.db.Where("tenant_id = ?", tenantID).First(&counter).Error; err != nil {
		t.Fatalf("load counter: %v", err)
	}
	if counter.IssuedCount != 1 {
		t.Fatalf("issued count = %d, want 1 (cancellation must not refund)", counter.IssuedCount)
	}
}

func TestCancelWritesAuditAndOutbox(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	ctx := context.Background()
	original := issueInvoice(t, h, tenantID)

	rectification, err := h.svc.Cancel(ctx, CancelInput{TenantID: tenantID, EntryID: original.ID, Reason: "error"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	category := enums.AuditCategoryCancellation
	events, _, err := h.audits.List(ctx, audit.ListQuery{TenantID: tenantID, Category: &category, Limit: 10})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("cancellation audit events = %d, want 1", len(events))
	}
	if events[0].Severity != enums.AuditSeverityWarning {
		t.Fatalf("severity = %s, want warning", events[0].Severity)
	}

	var count int64
	if err := h.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", rectification.ID, enums.EventInvoiceCancelled).
		Count(&count).Error; err != nil {
		t.Fatalf("outbox count: %v", err)
	}
	if count != 1 {
		t.Fatalf("outbox rows = %d, want 1", count)
	}
}
