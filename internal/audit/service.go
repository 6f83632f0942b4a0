package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/pkg/db/models"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/pagination"
)

// Service records and queries bitácora events. Append is the only write;
// events are never updated or removed.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.AuditEvent, error)
	Query(ctx context.Context, params QueryParams) ([]models.AuditEvent, *pagination.Cursor, error)
}

// AppendInput captures one audit record. TenantID is nil for system events.
type AppendInput struct {
	TenantID    *uuid.UUID
	Category    enums.AuditCategory
	Description string
	Severity    enums.AuditSeverity
	OccurredAt  time.Time
}

// QueryParams filters a tenant's audit trail.
type QueryParams struct {
	TenantID uuid.UUID
	Category *enums.AuditCategory
	From     *time.Time
	To       *time.Time
	Limit    int
	Cursor   string
}

type service struct {
	repo Repository
}

// ServiceParams groups dependencies for the audit service.
type ServiceParams struct {
	Repo Repository
}

// NewService builds an audit service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: params.Repo}, nil
}

func (s *service) Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.AuditEvent, error) {
	if !input.Category.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid audit category %q", input.Category))
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit description required")
	}
	severity := input.Severity
	if severity == "" {
		severity = enums.AuditSeverityInfo
	}
	if !severity.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid audit severity %q", severity))
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := &models.AuditEvent{
		TenantID:    input.TenantID,
		OccurredAt:  occurredAt,
		Category:    input.Category,
		Description: input.Description,
		Severity:    severity,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append audit event")
	}
	return event, nil
}

func (s *service) Query(ctx context.Context, params QueryParams) ([]models.AuditEvent, *pagination.Cursor, error) {
	if params.TenantID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if params.Category != nil && !params.Category.IsValid() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid audit category %q", *params.Category))
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}

	events, next, err := s.repo.List(ctx, ListQuery{
		TenantID: params.TenantID,
		Category: params.Category,
		From:     params.From,
		To:       params.To,
		Limit:    params.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit events")
	}
	return events, next, nil
}
