package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/inalterahq/inaltera-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	TenantID uuid.UUID
	Email    string
	Plan     enums.PlanTier
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued to tenants.
type AccessTokenClaims struct {
	TenantID uuid.UUID      `json:"tenant_id"`
	Email    string         `json:"email,omitempty"`
	Plan     enums.PlanTier `json:"plan"`
	jwt.RegisteredClaims
}
