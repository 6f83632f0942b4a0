package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inalterahq/inaltera-backend/api/middleware"
	"github.com/inalterahq/inaltera-backend/api/responses"
	"github.com/inalterahq/inaltera-backend/api/validators"
	"github.com/inalterahq/inaltera-backend/internal/ledger"
	"github.com/inalterahq/inaltera-backend/internal/rectification"
	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/pagination"
	"github.com/inalterahq/inaltera-backend/pkg/types"
)

type issueInvoiceRequest struct {
	ClientRef string           `json:"client_ref" validate:"required,max=255"`
	ClientNIF string           `json:"nif" validate:"max=32"`
	Items     []types.LineItem `json:"items" validate:"required,min=1,dive"`
	Notes     string           `json:"notas" validate:"max=1000"`
}

type cancelInvoiceRequest struct {
	Reason string `json:"motivo" validate:"required,max=500"`
}

type traceabilityData struct {
	Hash        string `json:"hash"`
	PrevHash    string `json:"prev_hash"`
	PayloadHash string `json:"payload_hash"`
	SequenceNo  uint64 `json:"sequence_no"`
}

type invoiceResponse struct {
	ID            uuid.UUID         `json:"id"`
	InvoiceNumber string            `json:"numero_factura"`
	Kind          enums.EntryKind   `json:"kind"`
	Status        enums.EntryStatus `json:"status"`
	IssuedAt      time.Time         `json:"fecha_registro"`
	ClientRef     string            `json:"cliente"`
	ClientNIF     string            `json:"nif,omitempty"`
	Total         decimal.Decimal   `json:"total"`
	Notes         string            `json:"notas,omitempty"`
	LinkedEntryID *uuid.UUID        `json:"linked_entry_id,omitempty"`
	CancelReason  *string           `json:"motivo,omitempty"`
	Traceability  traceabilityData  `json:"datos_trazabilidad"`
}

func newInvoiceResponse(entry *models.LedgerEntry) invoiceResponse {
	return invoiceResponse{
		ID:            entry.ID,
		InvoiceNumber: entry.InvoiceNumber,
		Kind:          entry.Kind,
		Status:        entry.Status,
		IssuedAt:      entry.IssuedAt,
		ClientRef:     entry.ClientRef,
		ClientNIF:     entry.ClientNIF,
		Total:         entry.Total,
		Notes:         entry.Notes,
		LinkedEntryID: entry.LinkedEntryID,
		CancelReason:  entry.CancelReason,
		Traceability: traceabilityData{
			Hash:        entry.ChainHash,
			PrevHash:    entry.PrevHash,
			PayloadHash: entry.PayloadHash,
			SequenceNo:  entry.SequenceNo,
		},
	}
}

type invoiceListResponse struct {
	Invoices   []invoiceResponse `json:"invoices"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func tenantFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := middleware.TenantIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant context missing")
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid tenant context")
	}
	return tenantID, nil
}

func entryIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "entryId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id is required")
	}
	entryID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry id")
	}
	return entryID, nil
}

// IssueInvoice appends a new invoice to the tenant's chain. The ledger
// assigns the invoice number and sequence; the caller supplies content only.
func IssueInvoice(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req issueInvoiceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Issue(r.Context(), ledger.IssueInput{
			TenantID:  tenantID,
			Plan:      enums.PlanTier(middleware.PlanFromContext(r.Context())),
			ClientRef: validators.SanitizeString(req.ClientRef, 255),
			ClientNIF: validators.SanitizeString(req.ClientNIF, 32),
			LineItems: req.Items,
			Notes:     validators.SanitizeString(req.Notes, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newInvoiceResponse(entry))
	}
}

// CancelInvoice voids an issued invoice with a rectification entry.
func CancelInvoice(svc rectification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := entryIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelInvoiceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Cancel(r.Context(), rectification.CancelInput{
			TenantID: tenantID,
			EntryID:  entryID,
			Reason:   req.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newInvoiceResponse(entry))
	}
}

// ListInvoices pages through the tenant's ledger, newest first.
func ListInvoices(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		entries, next, err := svc.List(r.Context(), ledger.ListParams{
			TenantID: tenantID,
			Limit:    limit,
			Cursor:   cursor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := invoiceListResponse{Invoices: make([]invoiceResponse, 0, len(entries))}
		for i := range entries {
			resp.Invoices = append(resp.Invoices, newInvoiceResponse(&entries[i]))
		}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, resp)
	}
}

// InvoiceDetail returns a single entry owned by the tenant.
func InvoiceDetail(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := entryIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Get(r.Context(), tenantID, entryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInvoiceResponse(entry))
	}
}

// InvoiceTraceability returns the downloadable integrity record and logs the
// download in the bitácora.
func InvoiceTraceability(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := entryIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		export, err := svc.Export(r.Context(), tenantID, entryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, export)
	}
}
