package migrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed run can block other runners.
const DefaultLockTTL = 15 * time.Minute

// RunnerConfig describes the dependencies of a Runner.
type RunnerConfig struct {
	Store    store.Store
	Registry *Registry
	Logger   *zap.Logger
	LockTTL  time.Duration
}

// Runner applies and reverts registered migrations, recording applied markers in the store.
type Runner struct {
	store    store.Store
	registry *Registry
	logger   *zap.Logger
	lockTTL  time.Duration
	holder   string
	mu       sync.Mutex
}

// Status describes one migration known either to the registry or to the store.
type Status struct {
	Name       string
	Sequence   int64
	Applied    bool
	AppliedAt  time.Time
	Registered bool
}

// NewRunner constructs a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New("migrations: store is required")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = defaultRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Runner{
		store:    cfg.Store,
		registry: registry,
		logger:   logger,
		lockTTL:  ttl,
		holder:   uuid.NewString(),
	}, nil
}

// ApplyPending applies every migration without a marker in ascending sequence.
// The run stops at the first failure; migrations committed before it stay applied.
func (r *Runner) ApplyPending(ctx context.Context) (int, error) {
	applied := 0
	err := r.locked(ctx, func() error {
		pending, err := r.pending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			r.logger.Info("no pending migrations")
			return nil
		}
		r.logger.Info("bringing up migrations", zap.Int("pending", len(pending)))
		for _, m := range pending {
			if err := r.applyOne(ctx, m); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// RevertLast reverts the n most recently applied migrations in descending sequence.
func (r *Runner) RevertLast(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	reverted := 0
	err := r.locked(ctx, func() error {
		markers, err := r.store.AppliedMarkers(ctx)
		if err != nil {
			return err
		}
		if n > len(markers) {
			n = len(markers)
		}

		targets := make([]Migration, 0, n)
		for i := len(markers) - 1; i >= len(markers)-n; i-- {
			m, ok := r.registry.Lookup(markers[i].Name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrMigrationNotFound, markers[i].Name)
			}
			targets = append(targets, m)
		}

		for _, m := range targets {
			if err := r.revertOne(ctx, m); err != nil {
				return err
			}
			reverted++
		}
		return nil
	})
	return reverted, err
}

// Pending returns the registered migrations that have no applied marker.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	return r.pending(ctx)
}

// Applied returns the applied markers in ascending sequence.
func (r *Runner) Applied(ctx context.Context) ([]store.Marker, error) {
	return r.store.AppliedMarkers(ctx)
}

// Status merges registered migrations with applied markers, ordered by sequence.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	markers, err := r.store.AppliedMarkers(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]store.Marker, len(markers))
	for _, marker := range markers {
		byName[marker.Name] = marker
	}

	statuses := make([]Status, 0, len(markers))
	for _, m := range r.registry.Migrations() {
		status := Status{Name: m.Name, Sequence: m.Sequence, Registered: true}
		if marker, ok := byName[m.Name]; ok {
			status.Applied = true
			status.AppliedAt = marker.AppliedAt
			delete(byName, m.Name)
		}
		statuses = append(statuses, status)
	}
	for _, marker := range markers {
		if _, orphan := byName[marker.Name]; !orphan {
			continue
		}
		statuses = append(statuses, Status{
			Name:      marker.Name,
			Sequence:  marker.Sequence,
			Applied:   true,
			AppliedAt: marker.AppliedAt,
		})
	}
	sortStatuses(statuses)
	return statuses, nil
}

// SyncHistory deletes applied markers whose migration is no longer registered.
func (r *Runner) SyncHistory(ctx context.Context) (int, error) {
	removed := 0
	err := r.locked(ctx, func() error {
		markers, err := r.store.AppliedMarkers(ctx)
		if err != nil {
			return err
		}
		for _, marker := range markers {
			if _, ok := r.registry.Lookup(marker.Name); ok {
				continue
			}
			if err := r.store.DeleteMarker(ctx, marker.Name); err != nil {
				return err
			}
			r.logger.Info("orphaned migration marker removed", zap.String("migration", marker.Name))
			removed++
		}
		return nil
	})
	return removed, err
}

func (r *Runner) pending(ctx context.Context) ([]Migration, error) {
	markers, err := r.store.AppliedMarkers(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]struct{}, len(markers))
	for _, marker := range markers {
		applied[marker.Name] = struct{}{}
	}
	pending := make([]Migration, 0)
	for _, m := range r.registry.Migrations() {
		if _, ok := applied[m.Name]; !ok {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (r *Runner) applyOne(ctx context.Context, m Migration) error {
	logger := r.logger.With(zap.String("migration", m.Name), zap.Int64("sequence", m.Sequence))
	return r.inUnitOfWork(ctx, m, logger, func(uow store.UnitOfWork) error {
		if err := m.Up(ctx, uow, logger); err != nil {
			return err
		}
		return uow.SaveMarker(ctx, store.Marker{Name: m.Name, Sequence: m.Sequence})
	}, "migration applied")
}

func (r *Runner) revertOne(ctx context.Context, m Migration) error {
	logger := r.logger.With(zap.String("migration", m.Name), zap.Int64("sequence", m.Sequence))
	return r.inUnitOfWork(ctx, m, logger, func(uow store.UnitOfWork) error {
		if m.Down == nil {
			logger.Warn("migration has no down step, clearing marker only")
		} else if err := m.Down(ctx, uow, logger); err != nil {
			if !errors.Is(err, ErrNoop) {
				return err
			}
			logger.Warn("migration down step is a no-op, clearing marker only")
		}
		return uow.DeleteMarker(ctx, m.Name)
	}, "migration reverted")
}

func (r *Runner) inUnitOfWork(ctx context.Context, m Migration, logger *zap.Logger, fn func(store.UnitOfWork) error, done string) error {
	uow, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMigrationFailed, m.Name, err)
	}
	if err := fn(uow); err != nil {
		failure := fmt.Errorf("%w: %s: %w", ErrMigrationFailed, m.Name, err)
		if rollbackErr := uow.Rollback(); rollbackErr != nil {
			failure = multierr.Append(failure, rollbackErr)
		}
		logger.Error("migration failed", zap.Error(err))
		return failure
	}
	if err := uow.Commit(); err != nil {
		logger.Error("migration commit failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrMigrationFailed, m.Name, err)
	}
	logger.Info(done)
	return nil
}

// locked serializes fn within the process and across processes sharing the store.
func (r *Runner) locked(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.AcquireLock(ctx, r.holder, r.lockTTL); err != nil {
		return err
	}
	defer func() {
		if err := r.store.ReleaseLock(context.WithoutCancel(ctx), r.holder); err != nil {
			r.logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()
	return fn()
}

func sortStatuses(statuses []Status) {
	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].Sequence != statuses[j].Sequence {
			return statuses[i].Sequence < statuses[j].Sequence
		}
		return statuses[i].Name < statuses[j].Name
	})
}
