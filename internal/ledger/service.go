package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/internal/hashchain"
	"github.com/inalterahq/inaltera-backend/internal/quota"
	"github.com/inalterahq/inaltera-backend/pkg/db"
	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/metrics"
	"github.com/inalterahq/inaltera-backend/pkg/outbox"
	"github.com/inalterahq/inaltera-backend/pkg/pagination"
	"github.com/inalterahq/inaltera-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxInserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

// Service owns the ordered, append-only entry sequence for every tenant. It
// is the only component that assigns sequence numbers and chain hashes.
type Service interface {
	Issue(ctx context.Context, input IssueInput) (*models.LedgerEntry, error)
	Append(ctx context.Context, tx *gorm.DB, draft EntryDraft) (*models.LedgerEntry, error)
	Emit(tx *gorm.DB, eventType enums.OutboxEventType, entry *models.LedgerEntry) error
	GetTail(ctx context.Context, tenantID uuid.UUID) (string, error)
	Lookup(ctx context.Context, chainHash string) (*models.LedgerEntry, error)
	Get(ctx context.Context, tenantID, entryID uuid.UUID) (*models.LedgerEntry, error)
	List(ctx context.Context, params ListParams) ([]models.LedgerEntry, *pagination.Cursor, error)
	Export(ctx context.Context, tenantID, entryID uuid.UUID) (*TraceabilityExport, error)
	Lock(ctx context.Context, tenantID uuid.UUID) (func(context.Context) error, error)
	Algorithm() hashchain.Algorithm
}

// IssueInput is a validated issuance request for one tenant.
type IssueInput struct {
	TenantID  uuid.UUID
	Plan      enums.PlanTier
	ClientRef string
	ClientNIF string
	LineItems []types.LineItem
	Notes     string
}

// EntryDraft is an internal request to append one already-shaped entry to a
// tenant's chain. Callers must hold the tenant chain lock and run inside the
// provided transaction.
type EntryDraft struct {
	TenantID      uuid.UUID
	Kind          enums.EntryKind
	ClientRef     string
	ClientNIF     string
	InvoiceNumber string
	LineItems     []types.LineItem
	Total         decimal.Decimal
	Notes         string
	LinkedEntryID *uuid.UUID
	CancelReason  *string
}

// ListParams pages through a tenant's entries, newest first.
type ListParams struct {
	TenantID uuid.UUID
	Limit    int
	Cursor   string
}

// TraceabilityExport is the downloadable integrity record for one entry.
type TraceabilityExport struct {
	EntryID       uuid.UUID         `json:"entry_id"`
	InvoiceNumber string            `json:"numero_factura"`
	SequenceNo    uint64            `json:"sequence_no"`
	Kind          enums.EntryKind   `json:"kind"`
	Status        enums.EntryStatus `json:"status"`
	IssuedAt      time.Time         `json:"fecha_registro"`
	ClientRef     string            `json:"cliente"`
	Total         decimal.Decimal   `json:"total"`
	Algorithm     string            `json:"algoritmo"`
	PayloadHash   string            `json:"payload_hash"`
	PrevHash      string            `json:"prev_hash"`
	ChainHash     string            `json:"hash"`
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Quota     quota.Service
	Audit     audit.Service
	Outbox    outboxInserter
	Locker    ChainLocker
	Algorithm hashchain.Algorithm
	Metrics   *metrics.LedgerMetrics
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	quota   quota.Service
	audit   audit.Service
	outbox  outboxInserter
	locker  ChainLocker
	alg     hashchain.Algorithm
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Quota == nil {
		return nil, fmt.Errorf("quota service required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("chain locker required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Algorithm == "" {
		params.Algorithm = hashchain.AlgorithmSHA256
	}
	if params.Now == nil {
		// microsecond precision matches what timestamptz can store, so the
		// hashed issued_at survives a database round trip
		params.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		quota:   params.Quota,
		audit:   params.Audit,
		outbox:  params.Outbox,
		locker:  params.Locker,
		alg:     params.Algorithm,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     params.Now,
	}, nil
}

func (s *service) Algorithm() hashchain.Algorithm { return s.alg }

// Lock exposes the per-tenant chain lock so cancellation can serialize with
// issuance on the same chain.
func (s *service) Lock(ctx context.Context, tenantID uuid.UUID) (func(context.Context) error, error) {
	return s.locker.Acquire(ctx, tenantID)
}

// Issue appends a new Issued entry: reserve quota, assign the next sequence
// number, link against the tail and commit atomically with the audit record
// and the outbox event.
func (s *service) Issue(ctx context.Context, input IssueInput) (*models.LedgerEntry, error) {
	if err := validateIssueInput(input); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, input.TenantID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConcurrencyTimeout) {
			s.metrics.IncLockTimeout()
		}
		return nil, err
	}
	defer func() {
		if relErr := release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release chain lock", relErr)
		}
	}()

	start := s.now()
	var entry *models.LedgerEntry
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		if _, err := s.quota.Reserve(ctx, tx, input.TenantID, input.Plan, now); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded) {
				s.metrics.IncQuotaRejected()
			}
			return err
		}

		total := decimal.Zero
		for _, li := range input.LineItems {
			total = total.Add(li.Amount())
		}

		var inner error
		entry, inner = s.append(ctx, tx, EntryDraft{
			TenantID:  input.TenantID,
			Kind:      enums.EntryKindIssued,
			ClientRef: input.ClientRef,
			ClientNIF: input.ClientNIF,
			LineItems: input.LineItems,
			Total:     total,
			Notes:     input.Notes,
		}, now)
		if inner != nil {
			return inner
		}

		if _, inner = s.audit.Append(ctx, tx, audit.AppendInput{
			TenantID:    &input.TenantID,
			Category:    enums.AuditCategoryInvoicing,
			Description: fmt.Sprintf("factura %s emitida (total %s)", entry.InvoiceNumber, entry.Total.StringFixed(2)),
			OccurredAt:  now,
		}); inner != nil {
			return inner
		}

		return s.emit(tx, enums.EventInvoiceIssued, entry, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncEntry(string(enums.EntryKindIssued))
	s.metrics.ObserveIssueDuration(s.now().Sub(start))

	ctx = s.logg.WithTenantID(ctx, entry.TenantID.String())
	ctx = s.logg.WithEntryID(ctx, entry.ID.String())
	s.logg.Info(ctx, "ledger entry issued")
	return entry, nil
}

// Append extends the chain inside an existing transaction. The caller holds
// the tenant chain lock; rectification uses this to share Issue's sequencing
// and hashing path.
func (s *service) Append(ctx context.Context, tx *gorm.DB, draft EntryDraft) (*models.LedgerEntry, error) {
	return s.append(ctx, tx, draft, s.now())
}

func (s *service) append(ctx context.Context, tx *gorm.DB, draft EntryDraft, now time.Time) (*models.LedgerEntry, error) {
	repo := s.repo.WithTx(tx)

	prevHash := s.alg.Genesis()
	var seq uint64 = 1
	tail, err := repo.FindTail(ctx, draft.TenantID)
	if err == nil {
		prevHash = tail.ChainHash
		seq = tail.SequenceNo + 1
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chain tail")
	}

	invoiceNumber := draft.InvoiceNumber
	if invoiceNumber == "" {
		invoiceNumber = fmt.Sprintf("FAC-%d-%04d", now.Year(), seq)
	}

	payloadHash, chainHash, err := s.alg.Recompute(hashchain.Payload{
		TenantID:      draft.TenantID,
		SequenceNo:    seq,
		Kind:          draft.Kind,
		IssuedAt:      now,
		ClientRef:     draft.ClientRef,
		ClientNIF:     draft.ClientNIF,
		InvoiceNumber: invoiceNumber,
		LineItems:     draft.LineItems,
		Total:         draft.Total,
		Notes:         draft.Notes,
	}, prevHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "hash entry payload")
	}

	items, err := json.Marshal(draft.LineItems)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode line items")
	}

	entry := &models.LedgerEntry{
		TenantID:      draft.TenantID,
		SequenceNo:    seq,
		Kind:          draft.Kind,
		Status:        enums.EntryStatusValid,
		IssuedAt:      now,
		ClientRef:     draft.ClientRef,
		ClientNIF:     draft.ClientNIF,
		InvoiceNumber: invoiceNumber,
		LineItems:     items,
		Total:         draft.Total,
		Notes:         draft.Notes,
		PayloadHash:   payloadHash,
		PrevHash:      prevHash,
		ChainHash:     chainHash,
		LinkedEntryID: draft.LinkedEntryID,
		CancelReason:  draft.CancelReason,
	}
	if err := repo.Create(ctx, entry); err != nil {
		// The unique (tenant_id, sequence_no) index backs up the chain lock:
		// a concurrent writer that slipped past it surfaces here.
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrencyTimeout, err, "concurrent chain append detected")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist ledger entry")
	}
	return entry, nil
}

// GetTail returns the tenant's latest chain hash, or the genesis constant
// for an empty ledger.
func (s *service) GetTail(ctx context.Context, tenantID uuid.UUID) (string, error) {
	if tenantID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	tail, err := s.repo.FindTail(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.alg.Genesis(), nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chain tail")
	}
	return tail.ChainHash, nil
}

// Lookup resolves a chain hash to its entry. Tenant-agnostic by design:
// verification is a public integrity check.
func (s *service) Lookup(ctx context.Context, chainHash string) (*models.LedgerEntry, error) {
	if strings.TrimSpace(chainHash) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "chain hash required")
	}
	entry, err := s.repo.FindByChainHash(ctx, chainHash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup chain hash")
	}
	return entry, nil
}

func (s *service) Get(ctx context.Context, tenantID, entryID uuid.UUID) (*models.LedgerEntry, error) {
	if tenantID == uuid.Nil || entryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and entry id required")
	}
	entry, err := s.repo.FindByID(ctx, tenantID, entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return entry, nil
}

func (s *service) List(ctx context.Context, params ListParams) ([]models.LedgerEntry, *pagination.Cursor, error) {
	if params.TenantID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	entries, next, err := s.repo.List(ctx, ListQuery{
		TenantID: params.TenantID,
		Limit:    params.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, next, nil
}

// Export builds the downloadable traceability record for one entry and logs
// the download in the bitácora.
func (s *service) Export(ctx context.Context, tenantID, entryID uuid.UUID) (*TraceabilityExport, error) {
	entry, err := s.Get(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}

	export := &TraceabilityExport{
		EntryID:       entry.ID,
		InvoiceNumber: entry.InvoiceNumber,
		SequenceNo:    entry.SequenceNo,
		Kind:          entry.Kind,
		Status:        entry.Status,
		IssuedAt:      entry.IssuedAt,
		ClientRef:     entry.ClientRef,
		Total:         entry.Total,
		Algorithm:     string(s.alg),
		PayloadHash:   entry.PayloadHash,
		PrevHash:      entry.PrevHash,
		ChainHash:     entry.ChainHash,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, inner := s.audit.Append(ctx, tx, audit.AppendInput{
			TenantID:    &tenantID,
			Category:    enums.AuditCategoryDownload,
			Description: fmt.Sprintf("trazabilidad de %s descargada", entry.InvoiceNumber),
		})
		return inner
	})
	if err != nil {
		return nil, err
	}
	return export, nil
}

// Emit writes the integration event for an appended entry in the same
// transaction. Exposed to rectification via the shared emit helper.
func (s *service) emit(tx *gorm.DB, eventType enums.OutboxEventType, entry *models.LedgerEntry, now time.Time) error {
	data, err := json.Marshal(map[string]any{
		"entry_id":       entry.ID,
		"invoice_number": entry.InvoiceNumber,
		"sequence_no":    entry.SequenceNo,
		"total":          entry.Total.StringFixed(2),
		"hash":           entry.ChainHash,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode outbox payload")
	}
	envelope := outbox.NewEnvelope(entry.TenantID, now, data)
	payload, err := json.Marshal(envelope)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode outbox envelope")
	}
	if err := s.outbox.Insert(tx, models.OutboxEvent{
		EventType:   eventType,
		TenantID:    entry.TenantID,
		AggregateID: entry.ID,
		Payload:     payload,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert outbox event")
	}
	return nil
}

// Emit is the transactional outbox hook shared with rectification.
func (s *service) Emit(tx *gorm.DB, eventType enums.OutboxEventType, entry *models.LedgerEntry) error {
	return s.emit(tx, eventType, entry, s.now())
}

func validateIssueInput(input IssueInput) error {
	if input.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if strings.TrimSpace(input.ClientRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "client ref required")
	}
	if len(input.LineItems) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line item required")
	}
	for i, li := range input.LineItems {
		if strings.TrimSpace(li.Product) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line item %d: product required", i))
		}
		if li.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line item %d: quantity must be positive", i))
		}
		if !li.UnitPrice.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line item %d: unit price must be positive", i))
		}
		if li.TaxRate.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line item %d: tax rate cannot be negative", i))
		}
	}
	return nil
}

// ParseLineItems decodes an entry's stored line items.
func ParseLineItems(entry *models.LedgerEntry) ([]types.LineItem, error) {
	var items []types.LineItem
	if err := json.Unmarshal(entry.LineItems, &items); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	return items, nil
}
