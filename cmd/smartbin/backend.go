package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/smartbin/internal/config"
	"github.com/dukerupert/smartbin/internal/database"
	"github.com/dukerupert/smartbin/internal/session"
	"github.com/dukerupert/smartbin/internal/store"
	"github.com/dukerupert/smartbin/internal/store/postgres"
	"github.com/dukerupert/smartbin/internal/supabase"
)

// resources holds every connection opened for a command.
type resources struct {
	backend  store.Backend
	sessions session.Store
	redis    *redis.Client
	closers  []func()
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// open connects the configured claim backend. Sessions are opened only when
// withSessions is set.
func open(ctx context.Context, cfg config.Config, logger *slog.Logger, withSessions bool) (*resources, error) {
	res := &resources{}
	var sqliteDB *sql.DB

	openSQLite := func() (*sql.DB, error) {
		if sqliteDB != nil {
			return sqliteDB, nil
		}
		db, err := database.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, func() { db.Close() })
		sqliteDB = db
		return db, nil
	}

	switch cfg.Store.Backend {
	case config.BackendSQLite:
		db, err := openSQLite()
		if err != nil {
			res.Close()
			return nil, err
		}
		res.backend = store.NewSQLite(db)
	case config.BackendPostgres:
		if err := postgres.Migrate(ctx, cfg.Store.PostgresDSN); err != nil {
			res.Close()
			return nil, err
		}
		pg, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.closers = append(res.closers, pg.Close)
		res.backend = pg
	case config.BackendSupabase:
		client, err := supabase.New(cfg.Supabase.URL, cfg.Supabase.Key)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.backend = client
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	logger.Info("claim store ready", "backend", cfg.Store.Backend)

	if cfg.NeedsRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			res.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		res.closers = append(res.closers, func() { rdb.Close() })
		res.redis = rdb
	}

	if !withSessions {
		return res, nil
	}
	switch cfg.Session.Backend {
	case config.BackendRedis:
		res.sessions = session.NewRedisStore(res.redis)
	default:
		db, err := openSQLite()
		if err != nil {
			res.Close()
			return nil, err
		}
		res.sessions = store.NewSessionStore(db)
	}
	logger.Info("session store ready", "backend", cfg.Session.Backend)
	return res, nil
}
