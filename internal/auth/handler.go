// Package auth exposes the session endpoints: login, refresh, logout, and
// current-user. Lockout is enforced against both the account email and the
// source address, and only for requests that make it past admission.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/223-Media/223media-website/internal/authz"
	"github.com/223-Media/223media-website/internal/httpx"
	"github.com/223-Media/223media-website/internal/identity"
	"github.com/223-Media/223media-website/internal/lockout"
	"github.com/223-Media/223media-website/internal/token"
)

const (
	// RefreshCookie mirrors authz.AccessCookie for the longer-lived token.
	RefreshCookie = "223media_refresh"

	maxJSONBodyBytes = 1 << 20
)

type Handler struct {
	store         identity.Store
	tokens        *token.Service
	locks         *lockout.Tracker
	secureCookies bool
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewHandler(store identity.Store, tokens *token.Service, locks *lockout.Tracker, secureCookies bool, accessTTL, refreshTTL time.Duration) *Handler {
	return &Handler{
		store:         store,
		tokens:        tokens,
		locks:         locks,
		secureCookies: secureCookies,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	User         identity.User `json:"user"`
	Token        string        `json:"token"`
	RefreshToken string        `json:"refreshToken,omitempty"`
	ExpiresIn    int64         `json:"expiresIn"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
			Error: "Email and password are required.",
			Code:  "MISSING_CREDENTIALS",
		})
		return
	}

	email := identity.NormalizeEmail(body.Email)
	password := strings.TrimSpace(body.Password)
	if email == "" || password == "" || !strings.Contains(email, "@") {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
			Error: "Email and password are required.",
			Code:  "MISSING_CREDENTIALS",
		})
		return
	}

	ip := httpx.ClientIP(r)

	if locked, retryAfter := h.lockedOut(email, ip); locked {
		httpx.WriteError(w, http.StatusTooManyRequests, httpx.ErrorResponse{
			Error:      "Account temporarily locked due to too many failed attempts.",
			Code:       "ACCOUNT_LOCKED",
			RetryAfter: ceilSeconds(retryAfter),
		})
		return
	}

	user, ok, err := h.store.VerifyCredentials(r.Context(), email, password)
	if err != nil {
		sentry.CaptureException(err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error: "Internal server error during login.",
			Code:  "LOGIN_ERROR",
		})
		return
	}
	if !ok {
		h.locks.RecordFailure(email)
		h.locks.RecordFailure(ip)
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
			Error: "Invalid email or password.",
			Code:  "INVALID_CREDENTIALS",
		})
		return
	}

	h.locks.Reset(email)
	h.locks.Reset(ip)

	access, expiresIn, err := h.tokens.IssueAccess(user)
	if err != nil {
		sentry.CaptureException(err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error: "Internal server error during login.",
			Code:  "LOGIN_ERROR",
		})
		return
	}
	refresh, err := h.tokens.IssueRefresh(user)
	if err != nil {
		sentry.CaptureException(err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error: "Internal server error during login.",
			Code:  "LOGIN_ERROR",
		})
		return
	}

	h.setCookie(w, authz.AccessCookie, access, h.accessTTL)
	h.setCookie(w, RefreshCookie, refresh, h.refreshTTL)

	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		Success:      true,
		Message:      "Login successful",
		User:         user,
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	refreshToken := h.refreshTokenFrom(r)
	if refreshToken == "" {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
			Error: "Refresh token required.",
			Code:  "NO_REFRESH_TOKEN",
		})
		return
	}

	access, expiresIn, user, err := h.tokens.Refresh(r.Context(), refreshToken)
	if err != nil {
		if isRefreshRejection(err) {
			httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
				Error: "Invalid or expired refresh token.",
				Code:  "INVALID_REFRESH_TOKEN",
			})
			return
		}
		sentry.CaptureException(err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error: "Failed to refresh token.",
			Code:  "REFRESH_ERROR",
		})
		return
	}

	h.setCookie(w, authz.AccessCookie, access, h.accessTTL)

	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Message:   "Token refreshed successfully",
		User:      user,
		Token:     access,
		ExpiresIn: expiresIn,
	})
}

// Logout blacklists the access token the request authenticated with and
// revokes the presented refresh token. Runs behind Authenticate.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if accessToken, ok := authz.TokenFromContext(r.Context()); ok {
		h.tokens.BlacklistAccess(accessToken)
	}

	if refreshToken := h.refreshTokenFrom(r); refreshToken != "" {
		h.tokens.RevokeRefresh(refreshToken)
	}

	h.clearCookie(w, authz.AccessCookie)
	h.clearCookie(w, RefreshCookie)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logout successful",
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
			Error: "Authentication required.",
			Code:  "AUTH_REQUIRED",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

func (h *Handler) lockedOut(email, ip string) (bool, time.Duration) {
	lockedEmail, retryEmail := h.locks.IsLocked(email)
	lockedIP, retryIP := h.locks.IsLocked(ip)
	if !lockedEmail && !lockedIP {
		return false, 0
	}
	retryAfter := retryEmail
	if retryIP > retryAfter {
		retryAfter = retryIP
	}
	return true, retryAfter
}

// refreshTokenFrom checks the request body first, then the cookie.
func (h *Handler) refreshTokenFrom(r *http.Request) string {
	var body refreshRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err == nil {
		if value := strings.TrimSpace(body.RefreshToken); value != "" {
			return value
		}
	}

	if cookie, err := r.Cookie(RefreshCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}

	return ""
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func isRefreshRejection(err error) bool {
	for _, target := range []error{
		token.ErrRevoked, token.ErrExpired, token.ErrInvalid,
		token.ErrNotFound, token.ErrWrongKind,
		token.ErrUserMissing, token.ErrUserInactive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func ceilSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
