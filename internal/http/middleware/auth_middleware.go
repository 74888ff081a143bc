package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/throttlecove/throttlecove/internal/domain"
	"github.com/throttlecove/throttlecove/internal/http/response"
	"github.com/throttlecove/throttlecove/internal/observability"
	"github.com/throttlecove/throttlecove/internal/security"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// Authenticate verifies the bearer token on every request. A missing token
// is 401 (no credentials); a token that fails signature, expiry or shape
// checks is 403 (credentials supplied, but no good). Route logic never runs
// on either path.
func Authenticate(issuer *security.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := issuer.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid")
				response.Error(w, r, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired access token", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid")
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MaybeAuthenticate attaches identity when a valid token is present and
// proceeds anonymously otherwise. Endpoints behind it decide for themselves
// what anonymous callers may see.
func MaybeAuthenticate(issuer *security.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw != "" {
				if claims, err := issuer.ParseAccessToken(raw); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole gates a route on the caller's role. It composes on top of
// Authenticate: no attached identity is 401, a role outside the allowed set
// is 403.
func RequireRole(allowed ...domain.Role) func(http.Handler) http.Handler {
	set := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		set[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			if _, allowed := set[claims.Role]; !allowed {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.AccessClaims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*security.AccessClaims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
