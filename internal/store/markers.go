package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"gorm.io/gorm"
)

// Marker is the persisted proof that a migration was applied.
type Marker struct {
	Name      string
	Sequence  int64
	AppliedAt time.Time
}

// AppliedMarkers returns every applied marker ordered by ascending sequence.
func (s *SQLStore) AppliedMarkers(ctx context.Context) ([]Marker, error) {
	var rows []migrationRecord
	if err := s.db.WithContext(ctx).Order("sequence ASC").Order("name ASC").Find(&rows).Error; err != nil {
		return nil, newStoreError("markers.list", err)
	}
	markers := make([]Marker, 0, len(rows))
	for _, row := range rows {
		markers = append(markers, Marker{
			Name:      row.Name,
			Sequence:  row.Sequence,
			AppliedAt: time.Unix(row.AppliedAtSeconds, 0).UTC(),
		})
	}
	return markers, nil
}

// SaveMarker records the marker, stamping AppliedAt with the store clock when it is zero.
func (s *SQLStore) SaveMarker(ctx context.Context, marker Marker) error {
	appliedAt := marker.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = s.now()
	}
	row := migrationRecord{
		Name:             marker.Name,
		Sequence:         marker.Sequence,
		AppliedAtSeconds: appliedAt.Unix(),
	}
	return newStoreError("markers.save", s.db.WithContext(ctx).Save(&row).Error)
}

// DeleteMarker removes the marker with the provided name together with its captured snapshot.
func (s *SQLStore) DeleteMarker(ctx context.Context, name string) error {
	return newStoreError("markers.delete", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("name = ?", name).Delete(&migrationRecord{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: marker %q", ErrNotFound, name)
		}
		return tx.Where("name = ?", name).Delete(&migrationSnapshotRow{}).Error
	}))
}

// SaveMigrationSnapshot records the schema a migration started from, replacing any earlier capture.
func (s *SQLStore) SaveMigrationSnapshot(ctx context.Context, name string, collections []schema.Collection) error {
	if collections == nil {
		collections = []schema.Collection{}
	}
	encoded, err := json.Marshal(collections)
	if err != nil {
		return newStoreError("migration_snapshots.save", err)
	}
	row := migrationSnapshotRow{Name: name, SnapshotJSON: string(encoded)}
	return newStoreError("migration_snapshots.save", s.db.WithContext(ctx).Save(&row).Error)
}

// MigrationSnapshot returns the schema captured when the named migration was applied.
func (s *SQLStore) MigrationSnapshot(ctx context.Context, name string) ([]schema.Collection, error) {
	var row migrationSnapshotRow
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newStoreError("migration_snapshots.get", fmt.Errorf("%w: migration snapshot %q", ErrNotFound, name))
	}
	if err != nil {
		return nil, newStoreError("migration_snapshots.get", err)
	}
	var collections []schema.Collection
	if err := json.Unmarshal([]byte(row.SnapshotJSON), &collections); err != nil {
		return nil, newStoreError("migration_snapshots.decode", fmt.Errorf("decode migration snapshot %q: %w", name, err))
	}
	return collections, nil
}
