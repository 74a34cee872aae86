package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const busyTimeoutPragma = "_pragma=busy_timeout(5000)"

// Config describes how to open the SQLite store.
type Config struct {
	Path   string
	Logger *zap.Logger
	Clock  func() time.Time
}

// SQLStore implements Store on top of SQLite through GORM.
type SQLStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
	inTx   bool
}

// OpenSQLite establishes a SQLite connection and creates the store tables.
func OpenSQLite(cfg Config) (*SQLStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(withBusyTimeout(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, newStoreError("open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, newStoreError("open", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&collectionRow{}, &recordRow{}, &recordFileRow{}, &migrationRecord{}, &migrationSnapshotRow{}, &migrationLock{}); err != nil {
		return nil, newStoreError("auto_migrate", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("database initialized", zap.String("path", path))

	return &SQLStore{db: db, clock: clock, logger: log}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return newStoreError("close", err)
	}
	return sqlDB.Close()
}

// Begin opens a unit of work. Nested units of work go through Transaction instead.
func (s *SQLStore) Begin(ctx context.Context) (UnitOfWork, error) {
	if s.inTx {
		return nil, newStoreError("begin", ErrNestedUnitOfWork)
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, newStoreError("begin", tx.Error)
	}
	return &sqlUnitOfWork{SQLStore: s.withDB(tx)}, nil
}

// Transaction runs fn inside a unit of work, using a savepoint when one is already open.
func (s *SQLStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.withDB(tx))
	})
}

func (s *SQLStore) withDB(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, clock: s.clock, logger: s.logger, inTx: true}
}

func (s *SQLStore) now() time.Time {
	return s.clock().UTC()
}

type sqlUnitOfWork struct {
	*SQLStore
	finished bool
}

func (u *sqlUnitOfWork) Commit() error {
	if u.finished {
		return nil
	}
	u.finished = true
	return newStoreError("commit", u.db.Commit().Error)
}

func (u *sqlUnitOfWork) Rollback() error {
	if u.finished {
		return nil
	}
	u.finished = true
	return newStoreError("rollback", u.db.Rollback().Error)
}

func withBusyTimeout(path string) string {
	if strings.Contains(path, "_pragma=busy_timeout") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + busyTimeoutPragma
	}
	return path + "?" + busyTimeoutPragma
}
