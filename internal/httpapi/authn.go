package httpapi

import (
	"fmt"
	"net/http"

	"payvault.org/internal/audit"
	"payvault.org/internal/auth"
	"payvault.org/internal/token"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/password-reset",
	"/v1/auth/password-reset/confirm",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/metrics",
	"/",
}

// withAuth verifies the bearer token on every non-public request and
// attaches the claims to the context. Verification is stateless: a token
// that parses, is signed by us and is not expired passes, anything else
// is a 401 with no further detail.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw := token.ExtractBearer(r.Header.Get(authHeader))
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := a.auth.Authorize(raw)
		if claims == nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns the verified claims when the caller holds one of
// the given roles. A role mismatch writes the 403 itself and leaves an
// unauthorized_access event behind.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (*token.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	for _, role := range roles {
		if claims.Role == role {
			return claims, true
		}
	}
	if a.recorder != nil {
		a.recorder.Record(r.Context(), audit.Event{
			Type:         audit.TypeUnauthorizedAccess,
			IdentityType: claims.Role,
			IPAddress:    clientIP(r),
			UserAgent:    r.UserAgent(),
			Message:      fmt.Sprintf("identity %s denied %s %s", claims.Subject, r.Method, r.URL.Path),
		})
	}
	writeError(w, r, http.StatusForbidden, "insufficient role")
	return nil, false
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
