package migrations

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"go.uber.org/zap"
)

var (
	ErrMigrationFailed    = errors.New("migration failed")
	ErrDuplicateMigration = errors.New("duplicate migration")
	ErrMigrationNotFound  = errors.New("migration not found")
	ErrInvalidMigration   = errors.New("invalid migration")
	// ErrNoop is returned by a Down hook that intentionally leaves the schema untouched.
	ErrNoop = errors.New("migration: no-op")
)

// Func mutates the store inside the unit of work opened for one migration.
type Func func(ctx context.Context, tx store.Store, logger *zap.Logger) error

// Migration is a named, sequenced pair of schema changes.
// Apply order is ascending Sequence, revert order is descending.
type Migration struct {
	Name     string
	Sequence int64
	Up       Func
	// Down may be nil, which reverts by clearing the applied marker only.
	Down Func
}
