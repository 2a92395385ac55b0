package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartbin/internal/auth"
	"github.com/dukerupert/smartbin/internal/claim"
	"github.com/dukerupert/smartbin/internal/points"
)

const Version = "1.0.0"

type PageHandler struct {
	claims   *claim.Service
	policy   points.Policy
	renderer *Renderer
	logger   *slog.Logger
}

func NewPageHandler(claims *claim.Service, policy points.Policy, renderer *Renderer, logger *slog.Logger) *PageHandler {
	return &PageHandler{claims: claims, policy: policy, renderer: renderer, logger: logger}
}

// Index sends signed-in users to the scanner and everyone else to the landing page.
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	if auth.Authenticated(r.Context()) {
		http.Redirect(w, r, "/scan", http.StatusFound)
		return
	}
	h.Landing(w, r)
}

func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	h.renderer.render(w, r, "landing.html", pageData{Policy: h.policy})
}

func (h *PageHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "SmartBin app is running",
		"version": Version,
	})
}

// Scan renders the scanner with the user's current totals. A failed
// lookup shows a notice rather than zeros.
func (h *PageHandler) Scan(w http.ResponseWriter, r *http.Request) {
	data := pageData{Policy: h.policy}

	stats, err := h.claims.Stats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("load stats", "user_id", auth.UserID(r.Context()), "error", err)
		data.StatsError = "Could not load your statistics. Please try again later."
	} else {
		data.Stats = &stats
	}
	h.renderer.render(w, r, "scan.html", data)
}
