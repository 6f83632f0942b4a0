// Package verification answers public integrity lookups by chain hash. It is
// read-only and tenant-agnostic: anyone holding a hash may check it.
package verification

import (
	"context"
	"fmt"

	"github.com/inalterahq/inaltera-backend/internal/hashchain"
	"github.com/inalterahq/inaltera-backend/internal/ledger"
	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/metrics"
)

// Unknown hashes and tampered entries share one message so a forger learns
// nothing from the distinction.
const invalidMessage = "Documento no auténtico o no encontrado"

const validMessage = "Factura verificada correctamente"

// Service verifies chain hashes against the committed ledger.
type Service interface {
	Verify(ctx context.Context, chainHash string) (*Result, error)
}

// Result reports the outcome of a verification lookup. Entry is populated
// only when the hash verified successfully.
type Result struct {
	Valid   bool
	Entry   *models.LedgerEntry
	Message string
}

// ServiceParams groups dependencies for the verification service.
type ServiceParams struct {
	Ledger  ledger.Service
	Metrics *metrics.LedgerMetrics
	Logger  *logger.Logger
}

type service struct {
	ledger  ledger.Service
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
}

// NewService builds a verification service.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		ledger:  params.Ledger,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// Verify resolves the hash and recomputes both the payload hash from the
// stored content and the chain link from the stored hashes. Any mismatch is
// an integrity violation: surfaced to operators, never auto-corrected, and
// reported to the caller with the generic message.
func (s *service) Verify(ctx context.Context, chainHash string) (*Result, error) {
	entry, err := s.ledger.Lookup(ctx, chainHash)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			s.metrics.IncVerification("unknown")
			return &Result{Valid: false, Message: invalidMessage}, nil
		}
		return nil, err
	}

	alg := s.ledger.Algorithm()

	linked, err := alg.Link(entry.PrevHash, entry.PayloadHash)
	if err != nil || linked != entry.ChainHash {
		return s.integrityViolation(ctx, entry, "stored chain hash does not reproduce"), nil
	}

	items, err := ledger.ParseLineItems(entry)
	if err != nil {
		return s.integrityViolation(ctx, entry, "stored line items unreadable"), nil
	}
	payloadHash, err := alg.HashPayload(hashchain.Payload{
		TenantID:      entry.TenantID,
		SequenceNo:    entry.SequenceNo,
		Kind:          entry.Kind,
		IssuedAt:      entry.IssuedAt,
		ClientRef:     entry.ClientRef,
		ClientNIF:     entry.ClientNIF,
		InvoiceNumber: entry.InvoiceNumber,
		LineItems:     items,
		Total:         entry.Total,
		Notes:         entry.Notes,
	})
	if err != nil || payloadHash != entry.PayloadHash {
		return s.integrityViolation(ctx, entry, "stored payload hash does not reproduce"), nil
	}

	s.metrics.IncVerification("valid")
	return &Result{Valid: true, Entry: entry, Message: validMessage}, nil
}

func (s *service) integrityViolation(ctx context.Context, entry *models.LedgerEntry, detail string) *Result {
	s.metrics.IncVerification("integrity_violation")
	ctx = s.logg.WithTenantID(ctx, entry.TenantID.String())
	ctx = s.logg.WithEntryID(ctx, entry.ID.String())
	s.logg.Error(ctx, "ledger integrity violation detected",
		pkgerrors.New(pkgerrors.CodeIntegrityViolation, detail))
	return &Result{Valid: false, Message: invalidMessage}
}
