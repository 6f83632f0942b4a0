package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/inalterahq/inaltera-backend/api/responses"
	"github.com/inalterahq/inaltera-backend/internal/verification"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
)

type verifyData struct {
	InvoiceNumber string          `json:"numero_factura"`
	IssuedAt      time.Time       `json:"fecha_registro"`
	Client        string          `json:"cliente"`
	Total         decimal.Decimal `json:"total"`
}

type verifyResponse struct {
	Valid   bool        `json:"valido"`
	Data    *verifyData `json:"datos,omitempty"`
	Message string      `json:"mensaje,omitempty"`
}

// PublicVerify answers an unauthenticated integrity lookup by chain hash.
// The response never distinguishes unknown hashes from tampered entries.
func PublicVerify(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := strings.TrimSpace(chi.URLParam(r, "hash"))
		if hash == "" {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "hash is required"))
			return
		}

		result, err := svc.Verify(r.Context(), hash)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := verifyResponse{Valid: result.Valid, Message: result.Message}
		if result.Valid && result.Entry != nil {
			resp.Data = &verifyData{
				InvoiceNumber: result.Entry.InvoiceNumber,
				IssuedAt:      result.Entry.IssuedAt,
				Client:        result.Entry.ClientRef,
				Total:         result.Entry.Total,
			}
		}
		responses.WriteSuccess(w, resp)
	}
}
