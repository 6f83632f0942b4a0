package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inalterahq/inaltera-backend/api/responses"
	"github.com/inalterahq/inaltera-backend/api/validators"
	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/pagination"
)

type auditEventResponse struct {
	ID          uuid.UUID           `json:"id"`
	OccurredAt  time.Time           `json:"fecha"`
	Category    enums.AuditCategory `json:"categoria"`
	Description string              `json:"descripcion"`
	Severity    enums.AuditSeverity `json:"nivel"`
}

type auditListResponse struct {
	Events     []auditEventResponse `json:"events"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// AuditList pages through the tenant's bitácora, newest first. Supports
// category and date-range filters.
func AuditList(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
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

		params := audit.QueryParams{
			TenantID: tenantID,
			Limit:    limit,
			Cursor:   strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("categoria")); raw != "" {
			category := enums.AuditCategory(raw)
			if !category.IsValid() {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "unknown audit category").WithDetails(map[string]any{"categoria": raw}))
				return
			}
			params.Category = &category
		}

		from, err := parseDateParam(r, "desde")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.From = from

		to, err := parseDateParam(r, "hasta")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.To = to

		events, next, err := svc.Query(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := auditListResponse{Events: make([]auditEventResponse, 0, len(events))}
		for _, event := range events {
			resp.Events = append(resp.Events, auditEventResponse{
				ID:          event.ID,
				OccurredAt:  event.OccurredAt,
				Category:    event.Category,
				Description: event.Description,
				Severity:    event.Severity,
			})
		}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, resp)
	}
}

func parseDateParam(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if t, err = time.Parse("2006-01-02", raw); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid date").WithDetails(map[string]any{"field": key})
		}
	}
	return &t, nil
}
