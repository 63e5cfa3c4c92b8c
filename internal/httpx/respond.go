// Package httpx carries the JSON response helpers and the structured
// rejection payload shared by every middleware and handler.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// ErrorResponse is the machine-readable rejection shape returned to
// callers. Code is stable for programmatic handling; Error is the human
// message.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Type       string   `json:"type,omitempty"`
	Required   []string `json:"required,omitempty"`
	Current    string   `json:"current,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
	Details    string   `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteError(w http.ResponseWriter, status int, body ErrorResponse) {
	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	WriteJSON(w, status, body)
}

// ClientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func ClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
