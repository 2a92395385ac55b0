// Package claim attaches bin sessions to users and prices the result.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/points"
	"github.com/dukerupert/smartbin/internal/store"
)

var (
	ErrNoData           = errors.New("no QR data received")
	ErrInvalidFormat    = errors.New("invalid QR code format")
	ErrMissingSessionID = errors.New("no session ID found in QR code")
	ErrAlreadyClaimed   = errors.New("reward already claimed")
	ErrClaimFailed      = errors.New("failed to update waste input claim")
)

// Notifier is told about a user's new totals after a successful claim.
type Notifier interface {
	NotifyStats(userID string, stats model.WasteStats)
}

// Result describes a successful claim. The claim is committed even when
// StatsErr is set; Stats is then zero and must not be shown.
type Result struct {
	SessionID     string           `json:"session_id"`
	SessionPoints int              `json:"session_points"`
	Stats         model.WasteStats `json:"waste_stats"`
	StatsErr      error            `json:"-"`
}

type Service struct {
	claims   store.Claims
	policy   points.Policy
	notifier Notifier
	logger   *slog.Logger
}

// NewService returns a Service. notifier may be nil.
func NewService(claims store.Claims, policy points.Policy, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{claims: claims, policy: policy, notifier: notifier, logger: logger}
}

// Scan claims the session named by qrData for userID.
func (s *Service) Scan(ctx context.Context, userID, qrData string) (*Result, error) {
	sessionID, err := ParsePayload(qrData)
	if err != nil {
		return nil, err
	}

	existing, err := s.claims.GetClaimBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("look up session %s: %w", sessionID, err)
	}
	if existing != nil && existing.Claimed() {
		return nil, ErrAlreadyClaimed
	}

	sessionPoints := 0
	if existing != nil {
		sessionPoints = s.policy.Points(existing.Influx)
	}

	ok, err := s.claims.ClaimSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("claim session %s: %w", sessionID, err)
	}
	if !ok {
		// Either another scan won the race or the row does not exist.
		after, err := s.claims.GetClaimBySession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("re-read session %s: %w", sessionID, err)
		}
		if after != nil && after.Claimed() {
			return nil, ErrAlreadyClaimed
		}
		return nil, ErrClaimFailed
	}

	res := &Result{SessionID: sessionID, SessionPoints: sessionPoints}
	s.logger.Info("session claimed", "session_id", sessionID, "user_id", userID, "points", sessionPoints)

	stats, err := s.Stats(ctx, userID)
	if err != nil {
		s.logger.Warn("stats after claim", "session_id", sessionID, "user_id", userID, "error", err)
		res.StatsErr = err
		return res, nil
	}
	res.Stats = stats

	if s.notifier != nil {
		s.notifier.NotifyStats(userID, stats)
	}

	return res, nil
}

// Stats recomputes the user's totals from every claimed row.
func (s *Service) Stats(ctx context.Context, userID string) (model.WasteStats, error) {
	influxes, err := s.claims.ListInfluxByUser(ctx, userID)
	if err != nil {
		return model.WasteStats{}, fmt.Errorf("load waste statistics: %w", err)
	}
	return s.policy.Stats(influxes), nil
}
