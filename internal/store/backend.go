package store

import "database/sql"

// SQLite serves both contracts from one database handle.
type SQLite struct {
	*UserStore
	*ClaimStore
}

var _ Backend = (*SQLite)(nil)

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{UserStore: NewUserStore(db), ClaimStore: NewClaimStore(db)}
}
