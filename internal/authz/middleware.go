// Package authz is the authorization gate: token-backed authentication
// middleware plus role and package-tier checks. The admin-supersedes-all
// rule lives here, evaluated once per gate, instead of being re-implemented
// by each handler.
package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/223-Media/223media-website/internal/httpx"
	"github.com/223-Media/223media-website/internal/identity"
	"github.com/223-Media/223media-website/internal/token"
)

// AccessCookie is the fallback credential location when no Authorization
// header is present.
const AccessCookie = "223media_token"

type tokenContextKey struct{}

// TokenFromContext returns the raw access token the request authenticated
// with; logout uses it to blacklist the token.
func TokenFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(tokenContextKey{}).(string)
	return value, ok
}

// Middleware verifies bearer tokens and resolves the current identity.
type Middleware struct {
	tokens  *token.Service
	store   identity.Store
	devMode bool
}

func New(tokens *token.Service, store identity.Store, devMode bool) *Middleware {
	return &Middleware{tokens: tokens, store: store, devMode: devMode}
}

// Authenticate requires a valid access token and an active user, attaching
// both identity and raw token to the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
				Error: "Access denied. No token provided.",
				Code:  "NO_TOKEN",
			})
			return
		}

		user, ok := m.resolve(w, r, tokenStr)
		if !ok {
			return
		}

		ctx := identity.WithUser(r.Context(), user)
		ctx = context.WithValue(ctx, tokenContextKey{}, tokenStr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth resolves an identity when a credential is presented but
// never rejects the request; downstream sees no identity rather than an
// error.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, ok := m.resolve(w, r, tokenStr)
		if !ok {
			return
		}

		ctx := identity.WithUser(r.Context(), user)
		ctx = context.WithValue(ctx, tokenContextKey{}, tokenStr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve verifies the token and re-resolves the user, writing the
// rejection itself when verification fails.
func (m *Middleware) resolve(w http.ResponseWriter, r *http.Request, tokenStr string) (identity.User, bool) {
	claims, err := m.tokens.Verify(tokenStr)
	if err != nil {
		body := httpx.ErrorResponse{Error: "Invalid token.", Code: "INVALID_TOKEN"}
		if m.devMode {
			body.Details = err.Error()
		}
		httpx.WriteError(w, http.StatusUnauthorized, body)
		return identity.User{}, false
	}
	if claims.TokenType != token.KindAccess {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
			Error: "Invalid token type.",
			Code:  "INVALID_TOKEN",
		})
		return identity.User{}, false
	}

	user, found, err := m.store.Lookup(r.Context(), claims.Email)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error: "Failed to resolve user.",
			Code:  "INTERNAL_ERROR",
		})
		return identity.User{}, false
	}
	if !found || !user.Active {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
			Error: "User not found or inactive.",
			Code:  "INVALID_USER",
		})
		return identity.User{}, false
	}

	return user, true
}

// Authorize requires the identity's role to be in the allowed set. Admins
// pass every role gate.
func Authorize(allowedRoles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := identity.FromContext(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
					Error: "Authentication required.",
					Code:  "AUTH_REQUIRED",
				})
				return
			}

			if user.Role == identity.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}

			if len(allowedRoles) > 0 && !containsRole(allowedRoles, user.Role) {
				httpx.WriteError(w, http.StatusForbidden, httpx.ErrorResponse{
					Error:    "Insufficient permissions.",
					Code:     "FORBIDDEN",
					Required: roleStrings(allowedRoles),
					Current:  string(user.Role),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePackage requires the identity's package tier to be in the allowed
// set. Admins bypass package restrictions.
func RequirePackage(allowedPackages ...identity.Package) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := identity.FromContext(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
					Error: "Authentication required.",
					Code:  "AUTH_REQUIRED",
				})
				return
			}

			if user.Role == identity.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}

			if len(allowedPackages) > 0 && !containsPackage(allowedPackages, user.Package) {
				httpx.WriteError(w, http.StatusForbidden, httpx.ErrorResponse{
					Error:    "Package upgrade required for this feature.",
					Code:     "PACKAGE_REQUIRED",
					Required: packageStrings(allowedPackages),
					Current:  string(user.Package),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie(AccessCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}

	return ""
}

func containsRole(roles []identity.Role, role identity.Role) bool {
	for _, allowed := range roles {
		if allowed == role {
			return true
		}
	}
	return false
}

func containsPackage(packages []identity.Package, pkg identity.Package) bool {
	for _, allowed := range packages {
		if allowed == pkg {
			return true
		}
	}
	return false
}

func roleStrings(roles []identity.Role) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}

func packageStrings(packages []identity.Package) []string {
	out := make([]string, len(packages))
	for i, pkg := range packages {
		out[i] = string(pkg)
	}
	return out
}
