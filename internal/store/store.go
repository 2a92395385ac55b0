// Package store defines the data access contracts for users and waste input
// claims and implements them on SQLite.
package store

import (
	"context"
	"errors"

	"github.com/dukerupert/smartbin/internal/model"
)

// ErrEmailTaken is returned by CreateUser when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Users reads and provisions user records.
// Lookups return nil, nil when the user does not exist.
type Users interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, u model.NewUser) (*model.User, error)
}

// Claims reads and claims waste input rows.
type Claims interface {
	// ListInfluxByUser returns the influx of every row owned by userID.
	// An empty slice means the user has no claims; store failures are errors.
	ListInfluxByUser(ctx context.Context, userID string) ([]model.Influx, error)

	// GetClaimBySession returns nil, nil when no row has that session id.
	GetClaimBySession(ctx context.Context, sessionID string) (*model.WasteInputClaim, error)

	// ClaimSession sets the owner only if the row exists and is unclaimed.
	// It reports whether a row was updated.
	ClaimSession(ctx context.Context, sessionID, userID string) (bool, error)

	CreateClaim(ctx context.Context, binID int64, sessionID string, influx model.Influx) (*model.WasteInputClaim, error)
}

// Backend bundles both contracts; every storage backend implements it.
type Backend interface {
	Users
	Claims
}
