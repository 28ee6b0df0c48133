// Package store is the Store Gateway (spec.md §4.B): idempotent upserts and
// range queries over the externally-owned relational schema (blocks,
// transactions, wallets, validators, staking, smart_contracts, nodes,
// mempool, config). Every write here must be safe to retry — replays must
// never corrupt state (spec.md §4.B guarantee, §8 property 5).
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"chainsyncd/internal/syncerrors"
)

// Store wraps a *sql.DB with the typed DAOs chainsyncd needs. It never owns
// schema migrations — the schema is an external contract (spec.md §1).
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open establishes the database/sql connection pool using the MySQL driver,
// grounded on the pack's database/sql + blank-import driver convention
// (other_examples klingdex storage.go), adapted from SQLite to MySQL for
// the DB_HOST/PORT/DATABASE/USERNAME/PASSWORD env vars of spec.md §6.
func Open(dsn string, lg *logrus.Logger) (*Store, error) {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, syncerrors.New(syncerrors.KindFatalStore, "open database", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, syncerrors.New(syncerrors.KindFatalStore, "ping database", err)
	}
	return &Store{db: db, logger: lg}, nil
}

// New wraps an already-open *sql.DB, for callers that manage the pool
// themselves.
func New(db *sql.DB, lg *logrus.Logger) *Store {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Store{db: db, logger: lg}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.New(syncerrors.KindFatalStore, "begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
