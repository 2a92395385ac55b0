package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/smartbin/internal/model"
)

type ClaimStore struct {
	db *sql.DB
}

func NewClaimStore(db *sql.DB) *ClaimStore {
	return &ClaimStore{db: db}
}

func scanClaim(scanner interface{ Scan(...any) error }) (*model.WasteInputClaim, error) {
	var c model.WasteInputClaim
	var influx string
	var userID sql.NullString
	if err := scanner.Scan(&c.SessionID, &c.BinID, &influx, &userID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(influx), &c.Influx); err != nil {
		return nil, fmt.Errorf("decode influx: %w", err)
	}
	if userID.Valid {
		c.UserID = &userID.String
	}
	return &c, nil
}

const claimCols = `session_id, bin_id, influx, user_id`

func (s *ClaimStore) CreateClaim(ctx context.Context, binID int64, sessionID string, influx model.Influx) (*model.WasteInputClaim, error) {
	if influx == nil {
		influx = model.Influx{}
	}
	data, err := json.Marshal(influx)
	if err != nil {
		return nil, fmt.Errorf("encode influx: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO waste_input_claim (session_id, bin_id, influx) VALUES (?, ?, ?)`,
		sessionID, binID, string(data),
	)
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	return s.GetClaimBySession(ctx, sessionID)
}

func (s *ClaimStore) GetClaimBySession(ctx context.Context, sessionID string) (*model.WasteInputClaim, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+claimCols+` FROM waste_input_claim WHERE session_id = ?`, sessionID)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim by session: %w", err)
	}
	return c, nil
}

func (s *ClaimStore) ClaimSession(ctx context.Context, sessionID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE waste_input_claim SET user_id = ?, claimed_at = CURRENT_TIMESTAMP WHERE session_id = ? AND user_id IS NULL`,
		userID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *ClaimStore) ListInfluxByUser(ctx context.Context, userID string) ([]model.Influx, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT influx FROM waste_input_claim WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list influx by user: %w", err)
	}
	defer rows.Close()

	influxes := []model.Influx{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan influx: %w", err)
		}
		var in model.Influx
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			return nil, fmt.Errorf("decode influx: %w", err)
		}
		influxes = append(influxes, in)
	}
	return influxes, rows.Err()
}
