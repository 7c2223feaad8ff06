package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"poscore/internal/entitlement"
	apierrors "poscore/internal/errors"
)

type actorContextKey struct{}

// WithActor returns a context carrying the acting principal.
func WithActor(ctx context.Context, actor entitlement.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting principal. Requests that passed no
// authentication act as an anonymous client installation; the
// authorization policy grants that role the client-facing operations
// and nothing else.
func ActorFromContext(ctx context.Context) entitlement.Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(entitlement.Actor); ok {
		return actor
	}
	return entitlement.Actor{Role: entitlement.RoleClient}
}

// AdminClaims is the JWT payload for administrative tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminToken mints a signed admin token. Used by the admin CLI and
// by tests.
func NewAdminToken(secret, adminID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := AdminClaims{
		Role: string(entitlement.RoleMasterAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AdminAuth authenticates Bearer tokens on admin routes and stores the
// resulting actor in the request context. Invalid or absent tokens get
// a 401 before any handler runs.
func AdminAuth(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeJSONError(w, apierrors.ErrUnauthorized)
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "admin token rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				writeJSONError(w, apierrors.ErrUnauthorized)
				return
			}

			actor := entitlement.Actor{
				ID:   claims.Subject,
				Role: entitlement.Role(claims.Role),
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ClientIdentity tags client requests with their self-reported instance
// ID so logs and the notification hub can address them. The value is
// advisory; entitlement decisions key on device identity, not on it.
func ClientIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if instanceID := r.Header.Get("X-Client-Instance-ID"); instanceID != "" {
			actor := entitlement.Actor{ID: instanceID, Role: entitlement.RoleClient}
			r = r.WithContext(WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
