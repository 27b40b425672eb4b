// Package auth validates admin bearer tokens and gates routes by role.
// Token issuance and permission evaluation live upstream; this package only
// checks that a request carries a valid token and one of the allowed roles.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Canonical role names carried in the token's roles claim.
const (
	RoleSuperAdmin = "SuperAdmin"
	RoleAdmin      = "Admin"
	RoleAuditor    = "Auditor"
	RoleSupport    = "Support"
)

type ctxKey string

const ctxKeyAuthInfo ctxKey = "audittrail.authInfo"

// AuthInfo holds the validated identity for the request.
type AuthInfo struct {
	Subject string
	Roles   []string
}

// FromContext returns the AuthInfo stored in the request context, or nil.
func FromContext(ctx context.Context) *AuthInfo {
	if ai, ok := ctx.Value(ctxKeyAuthInfo).(*AuthInfo); ok {
		return ai
	}
	return nil
}

// HasRole reports whether ai carries the given role.
func HasRole(ai *AuthInfo, role string) bool {
	if ai == nil {
		return false
	}
	for _, r := range ai.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Middleware validates the Authorization bearer token (HMAC) and stores the
// resulting AuthInfo in the request context. Requests without a valid token
// are rejected; role checks happen per-route via RequireAnyRole.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			var c claims
			tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !tok.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ai := &AuthInfo{Subject: c.Subject, Roles: c.Roles}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyAuthInfo, ai)))
		})
	}
}

// RequireAnyRole allows the request through if the context's AuthInfo has
// any one of the given roles; otherwise 403.
func RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ai := FromContext(r.Context())
			if ai != nil {
				for _, have := range ai.Roles {
					if _, ok := roleSet[have]; ok {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
