package maintenance

import (
	"net/http"
	"strings"
	"time"

	"github.com/223-Media/223media-website/internal/httpx"
)

// Handler exposes the sweep as an HTTP trigger for external schedulers.
// Hidden entirely unless a cron secret is configured.
type Handler struct {
	sweeper    *Sweeper
	cronSecret string
}

func NewHandler(sweeper *Sweeper, cronSecret string) *Handler {
	return &Handler{sweeper: sweeper, cronSecret: strings.TrimSpace(cronSecret)}
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		httpx.WriteError(w, http.StatusNotFound, httpx.ErrorResponse{
			Error: "Not found.",
			Code:  "NOT_FOUND",
		})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse{
			Error: "Unauthorized.",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	results := h.sweeper.RunOnce(time.Now().UTC())

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": results,
	})
}
