package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartbin/internal/auth"
	"github.com/dukerupert/smartbin/internal/claim"
	"github.com/dukerupert/smartbin/internal/metrics"
	"github.com/dukerupert/smartbin/internal/model"
)

const maxScanBody = 4 << 10

type ScanHandler struct {
	claims  *claim.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewScanHandler(claims *claim.Service, m *metrics.Metrics, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{claims: claims, metrics: m, logger: logger}
}

type scanRequest struct {
	QRData string `json:"qr_data"`
}

type scanResponse struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	SessionID     string            `json:"session_id,omitempty"`
	WasteStats    *model.WasteStats `json:"waste_stats,omitempty"`
	SessionPoints *int              `json:"session_points,omitempty"`
}

func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody)).Decode(&req); err != nil {
		req.QRData = ""
	}

	userID := auth.UserID(r.Context())
	res, err := h.claims.Scan(r.Context(), userID, req.QRData)
	if err != nil {
		status, outcome, msg := scanError(err)
		h.metrics.RecordClaim(outcome)
		if status >= http.StatusInternalServerError {
			h.logger.Error("scan", "user_id", userID, "error", err)
		} else {
			h.logger.Debug("scan rejected", "user_id", userID, "error", err)
		}
		writeJSON(w, status, scanResponse{Success: false, Message: msg})
		return
	}

	h.metrics.RecordClaim("claimed")
	h.logger.Info("session claimed", "user_id", userID, "session_id", res.SessionID, "points", res.SessionPoints)
	resp := scanResponse{
		Success:       true,
		Message:       "QR code scanned and processed successfully",
		SessionID:     res.SessionID,
		WasteStats:    &res.Stats,
		SessionPoints: &res.SessionPoints,
	}
	if res.StatsErr != nil {
		h.logger.Error("load stats after claim", "user_id", userID, "error", res.StatsErr)
		resp.Message = "QR code scanned and processed successfully. Statistics are temporarily unavailable"
		resp.WasteStats = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func scanError(err error) (status int, outcome, message string) {
	switch {
	case errors.Is(err, claim.ErrNoData):
		return http.StatusBadRequest, "invalid", "No QR data received"
	case errors.Is(err, claim.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid", "Invalid QR code format"
	case errors.Is(err, claim.ErrMissingSessionID):
		return http.StatusBadRequest, "invalid", "No session ID found in QR code"
	case errors.Is(err, claim.ErrAlreadyClaimed):
		return http.StatusBadRequest, "already_claimed", "Reward Already Claimed"
	case errors.Is(err, claim.ErrClaimFailed):
		return http.StatusInternalServerError, "failed", "Failed to update waste input claim"
	default:
		return http.StatusInternalServerError, "error", "Error processing QR code"
	}
}

func (h *ScanHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	stats, err := h.claims.Stats(r.Context(), userID)
	if err != nil {
		h.logger.Error("load stats", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Error loading statistics",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"waste_stats": stats,
	})
}
