package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/domain"
	"taskline/internal/repo"
	"taskline/internal/token"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, principalKey{}, u)
}

func principalFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(principalKey{}).(domain.User)
	return u, ok
}

// currentUser returns the authenticated caller or an unauthorized error for
// routes that demand identity.
func currentUser(ctx context.Context) (domain.User, huma.StatusError) {
	if u, ok := principalFromContext(ctx); ok {
		return u, nil
	}
	return domain.User{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requireRole is the coarse per-route gate; fine-grained field checks live
// in the engine.
func requireRole(ctx context.Context, role domain.Role) (domain.User, huma.StatusError) {
	u, authErr := currentUser(ctx)
	if authErr != nil {
		return domain.User{}, authErr
	}
	if u.Role != role {
		return domain.User{}, newAPIError(http.StatusForbidden, "forbidden", "insufficient role", map[string]any{"required": string(role)})
	}
	return u, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware runs once per request. A missing, malformed, expired or
// otherwise invalid token leaves the request anonymous; route gates decide
// whether anonymous is acceptable. The principal is bound to the request
// context only, never shared across requests.
func newAuthMiddleware(tokens token.Service, r repo.Repo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				next.ServeHTTP(w, req)
				return
			}
			raw, ok := bearerToken(authz)
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			claims, err := tokens.ExtractClaims(raw)
			if err != nil {
				next.ServeHTTP(w, req)
				return
			}
			subject := strings.TrimSpace(claims.Subject)
			if _, established := principalFromContext(req.Context()); subject != "" && !established {
				u, err := r.GetUserByUsername(req.Context(), subject)
				if err == nil && tokens.IsCurrentlyValid(raw, u.Username) {
					req = req.WithContext(withPrincipal(req.Context(), u))
				}
			}
			next.ServeHTTP(w, req)
		})
	}
}
