package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/store"
)

const (
	usersTable  = "user_data"
	claimsTable = "waste_input_claim"

	preferRepresentation = "return=representation"
)

var _ store.Backend = (*Client)(nil)

type userRow struct {
	UserID       opaqueID   `json:"user_id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Password     *string    `json:"password"`
	AuthProvider *string    `json:"auth_provider"`
	CreatedAt    *time.Time `json:"created_at"`
}

func (r userRow) toModel() *model.User {
	u := &model.User{
		ID:           string(r.UserID),
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		PasswordHash: r.Password,
		AuthProvider: r.AuthProvider,
	}
	if r.CreatedAt != nil {
		u.CreatedAt = *r.CreatedAt
	}
	return u
}

type newUserRow struct {
	Email        string  `json:"email"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Password     *string `json:"password,omitempty"`
	AuthProvider *string `json:"auth_provider,omitempty"`
}

type claimRow struct {
	SessionID string       `json:"session_id"`
	BinID     int64        `json:"bin_id"`
	Influx    model.Influx `json:"influx"`
	UserID    *opaqueID    `json:"user_id"`
}

func (r claimRow) toModel() *model.WasteInputClaim {
	c := &model.WasteInputClaim{
		SessionID: r.SessionID,
		BinID:     r.BinID,
		Influx:    r.Influx,
	}
	if r.UserID != nil {
		id := string(*r.UserID)
		c.UserID = &id
	}
	if c.Influx == nil {
		c.Influx = model.Influx{}
	}
	return c
}

func eq(v string) string { return "eq." + v }

func (c *Client) findUser(ctx context.Context, column, value string) (*model.User, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set(column, eq(value))
	q.Set("limit", "1")

	var rows []userRow
	if err := c.get(ctx, usersTable, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel(), nil
}

func (c *Client) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := c.findUser(ctx, "user_id", id)
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := c.findUser(ctx, "email", email)
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// CreateUser lets the project assign user_id.
func (c *Client) CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error) {
	var rows []userRow
	err := c.do(ctx, request{
		method: http.MethodPost,
		table:  usersTable,
		body: newUserRow{
			Email:        nu.Email,
			FirstName:    nu.FirstName,
			LastName:     nu.LastName,
			Password:     nu.PasswordHash,
			AuthProvider: nu.AuthProvider,
		},
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == uniqueViolation {
			return nil, store.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("insert user: empty representation")
	}
	return rows[0].toModel(), nil
}

func (c *Client) GetClaimBySession(ctx context.Context, sessionID string) (*model.WasteInputClaim, error) {
	q := url.Values{}
	q.Set("select", "session_id,bin_id,influx,user_id")
	q.Set("session_id", eq(sessionID))
	q.Set("limit", "1")

	var rows []claimRow
	if err := c.get(ctx, claimsTable, q, &rows); err != nil {
		return nil, fmt.Errorf("get claim by session: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel(), nil
}

// ClaimSession issues one conditional PATCH; the row filter on a null
// owner makes it atomic on the database side.
func (c *Client) ClaimSession(ctx context.Context, sessionID, userID string) (bool, error) {
	q := url.Values{}
	q.Set("session_id", eq(sessionID))
	q.Set("user_id", "is.null")

	var rows []claimRow
	err := c.do(ctx, request{
		method: http.MethodPatch,
		table:  claimsTable,
		query:  q,
		body:   map[string]string{"user_id": userID},
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	return len(rows) > 0, nil
}

func (c *Client) ListInfluxByUser(ctx context.Context, userID string) ([]model.Influx, error) {
	q := url.Values{}
	q.Set("select", "influx")
	q.Set("user_id", eq(userID))

	var rows []struct {
		Influx model.Influx `json:"influx"`
	}
	if err := c.get(ctx, claimsTable, q, &rows); err != nil {
		return nil, fmt.Errorf("list influx by user: %w", err)
	}
	influxes := make([]model.Influx, 0, len(rows))
	for _, r := range rows {
		influxes = append(influxes, r.Influx)
	}
	return influxes, nil
}

func (c *Client) CreateClaim(ctx context.Context, binID int64, sessionID string, influx model.Influx) (*model.WasteInputClaim, error) {
	if influx == nil {
		influx = model.Influx{}
	}
	var rows []claimRow
	err := c.do(ctx, request{
		method: http.MethodPost,
		table:  claimsTable,
		body: claimRow{
			SessionID: sessionID,
			BinID:     binID,
			Influx:    influx,
		},
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("insert claim: empty representation")
	}
	return rows[0].toModel(), nil
}
