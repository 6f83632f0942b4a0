package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/inalterahq/inaltera-backend/api/responses"
	pkgAuth "github.com/inalterahq/inaltera-backend/pkg/auth"
	"github.com/inalterahq/inaltera-backend/pkg/config"
	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// tenant claims. Every private route is tenant-scoped through this context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxTenantID, claims.TenantID.String())
			ctx = context.WithValue(ctx, ctxPlan, string(claims.Plan))
			if claims.Email != "" {
				ctx = context.WithValue(ctx, ctxEmail, claims.Email)
			}

			if logg != nil {
				ctx = logg.WithTenantID(ctx, claims.TenantID.String())
				ctx = logg.WithField(ctx, "plan", string(claims.Plan))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
