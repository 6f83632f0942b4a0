package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
)

type quotaResetter interface {
	ResetCycle(ctx context.Context, now time.Time) (int, error)
}

type QuotaResetJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Quota  quotaResetter
	Audit  audit.Service
}

// NewQuotaResetJob builds the monthly quota rollover job. Running it twice in
// a cycle is harmless: counters that already exist are skipped.
func NewQuotaResetJob(params QuotaResetJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Quota == nil {
		return nil, fmt.Errorf("quota service required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	return &quotaResetJob{
		logg:  params.Logger,
		db:    params.DB,
		quota: params.Quota,
		audit: params.Audit,
		now:   time.Now,
	}, nil
}

type quotaResetJob struct {
	logg  *logger.Logger
	db    txRunner
	quota quotaResetter
	audit audit.Service
	now   func() time.Time
}

func (j *quotaResetJob) Name() string { return "quota-reset" }

func (j *quotaResetJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rolled, err := j.quota.ResetCycle(ctx, now)
	if err != nil {
		return fmt.Errorf("quota reset: %w", err)
	}
	if rolled > 0 {
		err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
			_, inner := j.audit.Append(ctx, tx, audit.AppendInput{
				Category:    enums.AuditCategorySystem,
				Description: fmt.Sprintf("ciclo de cuota reiniciado para %d inquilinos", rolled),
				OccurredAt:  now,
			})
			return inner
		})
		if err != nil {
			return fmt.Errorf("quota reset audit: %w", err)
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cycle":          now.Format("2006-01"),
		"tenants_rolled": rolled,
	})
	j.logg.Info(logCtx, "quota cycle reset complete")
	return nil
}
