package migrations

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the known migrations keyed by name and sequence.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]Migration
	bySequence map[int64]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]Migration),
		bySequence: make(map[int64]string),
	}
}

// Register adds a migration, rejecting empty names and duplicate names or sequences.
func (r *Registry) Register(m Migration) error {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMigration)
	}
	if m.Up == nil {
		return fmt.Errorf("%w: %s: up is required", ErrInvalidMigration, name)
	}
	m.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMigration, name)
	}
	if owner, exists := r.bySequence[m.Sequence]; exists {
		return fmt.Errorf("%w: sequence %d used by %s and %s", ErrDuplicateMigration, m.Sequence, owner, name)
	}
	r.byName[name] = m
	r.bySequence[m.Sequence] = name
	return nil
}

// RegisterAll adds multiple migrations, stopping at the first failure.
func (r *Registry) RegisterAll(migrations ...Migration) error {
	for _, m := range migrations {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the migration with the provided name.
func (r *Registry) Lookup(name string) (Migration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Migrations returns every registered migration in ascending sequence.
func (r *Registry) Migrations() []Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ordered := make([]Migration, 0, len(r.byName))
	for _, m := range r.byName {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})
	return ordered
}

var defaultRegistry = NewRegistry()

// Register adds m to the package registry. It panics on invalid or duplicate
// migrations so broken registrations surface at startup.
func Register(m Migration) {
	if err := defaultRegistry.Register(m); err != nil {
		panic(err)
	}
}

// Registered returns the migrations of the package registry in ascending sequence.
func Registered() []Migration {
	return defaultRegistry.Migrations()
}
