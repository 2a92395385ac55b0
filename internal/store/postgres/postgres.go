// Package postgres implements the store contracts on PostgreSQL, typically
// the database behind the Supabase project.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store serves users and claims from a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Backend = (*Store)(nil)

// Open connects to dsn and verifies the connection. It does not migrate.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies pending migrations over a short-lived database/sql handle.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := provider.Up(runCtx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const userCols = `user_id, email, first_name, last_name, password, auth_provider, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.AuthProvider, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error) {
	const query = `INSERT INTO user_data (user_id, email, first_name, last_name, password, auth_provider)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userCols
	row := s.pool.QueryRow(ctx, query, uuid.NewString(), nu.Email, nu.FirstName, nu.LastName, nu.PasswordHash, nu.AuthProvider)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, store.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM user_data WHERE user_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM user_data WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

const claimCols = `session_id, bin_id, influx, user_id`

func scanClaim(row pgx.Row) (*model.WasteInputClaim, error) {
	var c model.WasteInputClaim
	var influx []byte
	if err := row.Scan(&c.SessionID, &c.BinID, &influx, &c.UserID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(influx, &c.Influx); err != nil {
		return nil, fmt.Errorf("decode influx: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateClaim(ctx context.Context, binID int64, sessionID string, influx model.Influx) (*model.WasteInputClaim, error) {
	if influx == nil {
		influx = model.Influx{}
	}
	data, err := json.Marshal(influx)
	if err != nil {
		return nil, fmt.Errorf("encode influx: %w", err)
	}
	const query = `INSERT INTO waste_input_claim (session_id, bin_id, influx)
		VALUES ($1, $2, $3::jsonb)
		RETURNING ` + claimCols
	c, err := scanClaim(s.pool.QueryRow(ctx, query, sessionID, binID, string(data)))
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	return c, nil
}

func (s *Store) GetClaimBySession(ctx context.Context, sessionID string) (*model.WasteInputClaim, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx, `SELECT `+claimCols+` FROM waste_input_claim WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim by session: %w", err)
	}
	return c, nil
}

func (s *Store) ClaimSession(ctx context.Context, sessionID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE waste_input_claim SET user_id = $1, claimed_at = now() WHERE session_id = $2 AND user_id IS NULL`,
		userID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListInfluxByUser(ctx context.Context, userID string) ([]model.Influx, error) {
	rows, err := s.pool.Query(ctx, `SELECT influx FROM waste_input_claim WHERE user_id = $1 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list influx by user: %w", err)
	}
	defer rows.Close()

	influxes := []model.Influx{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan influx: %w", err)
		}
		var in model.Influx
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode influx: %w", err)
		}
		influxes = append(influxes, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate influx: %w", err)
	}
	return influxes, nil
}
