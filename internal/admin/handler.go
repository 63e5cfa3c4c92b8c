// Package admin holds the administrative endpoints: account management and
// the rate-limit security dashboard. All routes run behind the admin role
// gate.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"github.com/223-Media/223media-website/internal/admission"
	"github.com/223-Media/223media-website/internal/httpx"
	"github.com/223-Media/223media-website/internal/identity"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	store   identity.Store
	limiter *admission.Limiter
}

func NewHandler(store identity.Store, limiter *admission.Limiter) *Handler {
	return &Handler{store: store, limiter: limiter}
}

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	CompanyName string `json:"companyName"`
	Role        string `json:"role"`
	Package     string `json:"packageType"`
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createUserRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
			Error: "Invalid JSON body.",
			Code:  "INVALID_BODY",
		})
		return
	}

	if strings.TrimSpace(body.Email) == "" || strings.TrimSpace(body.Password) == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
			Error: "Email and password are required.",
			Code:  "MISSING_CREDENTIALS",
		})
		return
	}

	input := identity.NewUser{
		Email:       body.Email,
		Password:    body.Password,
		Name:        body.Name,
		CompanyName: body.CompanyName,
	}
	if body.Role != "" {
		role, ok := identity.ParseRole(body.Role)
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
				Error: "Unknown role.",
				Code:  "INVALID_ROLE",
			})
			return
		}
		input.Role = role
	}
	if body.Package != "" {
		pkg, ok := identity.ParsePackage(body.Package)
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
				Error: "Unknown package tier.",
				Code:  "INVALID_PACKAGE",
			})
			return
		}
		input.Package = pkg
	}

	user, err := h.store.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			httpx.WriteError(w, http.StatusConflict, httpx.ErrorResponse{
				Error: "A user with this email already exists.",
				Code:  "DUPLICATE_USER",
			})
			return
		}
		sentry.CaptureException(err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error: "Failed to create user.",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"user":    user,
	})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	email := chi.URLParam(r, "email")

	var body setActiveRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
			Error: "Invalid JSON body.",
			Code:  "INVALID_BODY",
		})
		return
	}

	user, err := h.store.SetActive(r.Context(), email, body.Active)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			httpx.WriteError(w, http.StatusNotFound, httpx.ErrorResponse{
				Error: "User not found.",
				Code:  "USER_NOT_FOUND",
			})
			return
		}
		sentry.CaptureException(err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error: "Failed to update user.",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

func (h *Handler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  h.limiter.Snapshot(),
	})
}

type ipRequest struct {
	IP string `json:"ip"`
}

func (h *Handler) BlockIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := h.decodeIP(w, r)
	if !ok {
		return
	}
	h.limiter.BlockIP(ip)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "ip": ip})
}

func (h *Handler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := h.decodeIP(w, r)
	if !ok {
		return
	}
	h.limiter.UnblockIP(ip)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "ip": ip})
}

func (h *Handler) decodeIP(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body ipRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil || strings.TrimSpace(body.IP) == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
			Error: "An ip field is required.",
			Code:  "INVALID_BODY",
		})
		return "", false
	}

	return strings.TrimSpace(body.IP), true
}
