package controllers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/inalterahq/inaltera-backend/api/middleware"
	"github.com/inalterahq/inaltera-backend/api/responses"
	"github.com/inalterahq/inaltera-backend/internal/quota"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
)

type quotaStatusResponse struct {
	Plan       enums.PlanTier `json:"plan"`
	Consumed   int            `json:"consumo"`
	Limit      int            `json:"limite"`
	Percentage int            `json:"porcentaje"`
	ResetDate  time.Time      `json:"reset_date"`
}

type planResponse struct {
	ID                  enums.PlanTier  `json:"id"`
	Name                string          `json:"name"`
	MonthlyInvoiceLimit int             `json:"limite_mensual"`
	PriceAmount         decimal.Decimal `json:"precio"`
	Features            []string        `json:"features"`
}

// QuotaStatus reports the tenant's consumption for the current cycle.
func QuotaStatus(svc quota.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.Status(r.Context(), tenantID,
			enums.PlanTier(middleware.PlanFromContext(r.Context())), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, quotaStatusResponse{
			Plan:       status.Plan,
			Consumed:   status.Consumed,
			Limit:      status.Limit,
			Percentage: status.Percentage,
			ResetDate:  status.ResetDate,
		})
	}
}

// Plans returns the billing plan catalog.
func Plans(svc quota.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.Plans(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := make([]planResponse, 0, len(plans))
		for _, plan := range plans {
			resp = append(resp, planResponse{
				ID:                  plan.ID,
				Name:                plan.Name,
				MonthlyInvoiceLimit: plan.MonthlyInvoiceLimit,
				PriceAmount:         plan.PriceAmount,
				Features:            plan.Features,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}
