package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inalterahq/inaltera-backend/internal/hashchain"
	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
)

type chainReader interface {
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
	ListBySequence(ctx context.Context, tenantID uuid.UUID) ([]models.LedgerEntry, error)
}

type ChainVerifyJobParams struct {
	Logger    *logger.Logger
	Repo      chainReader
	Algorithm hashchain.Algorithm
}

// NewChainVerifyJob builds the background integrity sweep. It walks every
// tenant's chain from genesis and reports breaks; it never repairs them.
func NewChainVerifyJob(params ChainVerifyJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Algorithm == "" {
		params.Algorithm = hashchain.AlgorithmSHA256
	}
	return &chainVerifyJob{
		logg: params.Logger,
		repo: params.Repo,
		alg:  params.Algorithm,
	}, nil
}

type chainVerifyJob struct {
	logg *logger.Logger
	repo chainReader
	alg  hashchain.Algorithm
}

func (j *chainVerifyJob) Name() string { return "chain-verify" }

func (j *chainVerifyJob) Run(ctx context.Context) error {
	tenants, err := j.repo.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	broken := 0
	for _, tenantID := range tenants {
		ok, err := j.verifyTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if !ok {
			broken++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"tenants_checked": len(tenants),
		"chains_broken":   broken,
	})
	if broken > 0 {
		j.logg.Error(logCtx, "integrity sweep found broken chains",
			fmt.Errorf("%d of %d tenant chains failed verification", broken, len(tenants)))
		return nil
	}
	j.logg.Info(logCtx, "integrity sweep complete")
	return nil
}

func (j *chainVerifyJob) verifyTenant(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	entries, err := j.repo.ListBySequence(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("list entries for %s: %w", tenantID, err)
	}

	prev := j.alg.Genesis()
	for i, entry := range entries {
		if entry.SequenceNo != uint64(i+1) {
			j.reportBreak(ctx, tenantID, entry, "sequence gap")
			return false, nil
		}
		if entry.PrevHash != prev {
			j.reportBreak(ctx, tenantID, entry, "prev hash mismatch")
			return false, nil
		}
		linked, err := j.alg.Link(entry.PrevHash, entry.PayloadHash)
		if err != nil || linked != entry.ChainHash {
			j.reportBreak(ctx, tenantID, entry, "chain hash does not reproduce")
			return false, nil
		}
		prev = entry.ChainHash
	}
	return true, nil
}

func (j *chainVerifyJob) reportBreak(ctx context.Context, tenantID uuid.UUID, entry models.LedgerEntry, detail string) {
	logCtx := j.logg.WithTenantID(ctx, tenantID.String())
	logCtx = j.logg.WithEntryID(logCtx, entry.ID.String())
	logCtx = j.logg.WithField(logCtx, "sequence_no", entry.SequenceNo)
	j.logg.Error(logCtx, "chain break detected", fmt.Errorf("%s", detail))
}
