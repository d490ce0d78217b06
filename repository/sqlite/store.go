package sqlite

import (
	"context"
	"database/sql"

	"github.com/nijaru/transcribe-pipeline/repository"
)

// Repository implements repository.Repository over an Executor, which is
// either the pooled *sql.DB or a transaction.
type Repository struct {
	db     Executor
	config DBConfig
}

// Store owns the database handle and hands out transactional repositories.
type Store struct {
	*Repository
	sqlDB *sql.DB
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sql.DB, config DBConfig) *Store {
	return &Store{
		Repository: &Repository{db: db, config: config},
		sqlDB:      db,
	}
}

// Open initialises the database at path and returns a ready Store.
func Open(path string, config DBConfig) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	if err := ConfigureDB(db, config); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db, config), nil
}

// DB exposes the handle for components sharing the database file.
func (s *Store) DB() *sql.DB {
	return s.sqlDB
}

func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// WithTx runs fn against a repository bound to a single transaction. Lock
// contention on begin or commit is retried; errors returned by fn are not.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	return withRetry(ctx, s.config, func() error {
		return WithTransaction(ctx, s.sqlDB, func(tx Executor) error {
			return fn(&Repository{db: tx, config: s.config})
		})
	})
}
