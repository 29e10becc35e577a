package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/infrastructure/auth"
	"github.com/iho/schoolbilling/internal/infrastructure/metrics"
)

// Trusted headers read when authentication is disabled.
const (
	SchoolIDHeader = "X-School-ID"
	UserIDHeader   = "X-User-ID"
	RoleHeader     = "X-Role"
)

// Authenticator resolves the tenant of every request and stores it in the
// context as a domain.Actor.
type Authenticator struct {
	jwt     *auth.JWTManager
	metrics *metrics.Metrics
}

// NewAuthenticator creates an Authenticator. With a nil jwtManager the actor
// is taken from the X-School-ID, X-User-ID and X-Role headers, which is only
// safe behind a gateway that sets them.
func NewAuthenticator(jwtManager *auth.JWTManager, m *metrics.Metrics) *Authenticator {
	return &Authenticator{jwt: jwtManager, metrics: m}
}

// Wrap rejects requests without a tenant.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, reason := a.resolve(r)
		if reason != "" {
			if a.metrics != nil {
				a.metrics.AuthFailures.WithLabelValues(reason).Inc()
			}
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", reason)
			return
		}

		noteActor(r.Context(), actor)
		ctx := domain.ContextWithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(r *http.Request) (domain.Actor, string) {
	if a.jwt == nil {
		actor := domain.Actor{
			SchoolID: strings.TrimSpace(r.Header.Get(SchoolIDHeader)),
			UserID:   strings.TrimSpace(r.Header.Get(UserIDHeader)),
			Role:     domain.ParseRole(r.Header.Get(RoleHeader)),
		}
		if actor.SchoolID == "" {
			return actor, "missing_tenant"
		}
		if actor.UserID == "" {
			actor.UserID = "anonymous"
		}
		if actor.Role == "" {
			actor.Role = domain.RoleBursar
		}
		if !actor.Role.IsValid() {
			return actor, "invalid_role"
		}
		return actor, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return domain.Actor{}, "missing_token"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return domain.Actor{}, "malformed_header"
	}

	claims, err := a.jwt.Verify(parts[1])
	if err != nil {
		if errors.Is(err, domain.ErrExpiredToken) {
			return domain.Actor{}, "expired_token"
		}
		return domain.Actor{}, "invalid_token"
	}

	return claims.Actor(), ""
}

// RequirePaymentRole lets through only actors allowed to record payments.
func RequirePaymentRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := domain.ActorFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		if !actor.Role.CanRecordPayments() {
			writeJSONError(w, http.StatusForbidden, "forbidden", domain.ErrInsufficientRole.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
