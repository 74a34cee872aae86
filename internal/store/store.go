package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TimestampLayout is the layout of the created/updated stamps of collections and records.
const TimestampLayout = "2006-01-02 15:04:05.000Z"

// Store is the live schema and record store that migrations mutate.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Transaction(ctx context.Context, fn func(tx Store) error) error

	Collections(ctx context.Context) ([]schema.Collection, error)
	CollectionByID(ctx context.Context, id string) (schema.Collection, error)
	CollectionByName(ctx context.Context, name string) (schema.Collection, error)
	SaveCollection(ctx context.Context, collection schema.Collection) error
	DeleteCollection(ctx context.Context, id string) error

	AppliedMarkers(ctx context.Context) ([]Marker, error)
	SaveMarker(ctx context.Context, marker Marker) error
	DeleteMarker(ctx context.Context, name string) error
	SaveMigrationSnapshot(ctx context.Context, name string, collections []schema.Collection) error
	MigrationSnapshot(ctx context.Context, name string) ([]schema.Collection, error)

	AcquireLock(ctx context.Context, holder string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, holder string) error

	CreateRecord(ctx context.Context, record Record) error
	ListRecords(ctx context.Context, collectionID string, offset, limit int) ([]Record, int64, error)
	RecordValueExists(ctx context.Context, collectionID, field string, value interface{}) (bool, error)
	DropFieldData(ctx context.Context, collectionID, fieldName string) error
	RenameFieldData(ctx context.Context, collectionID, oldName, newName string) error
}

// UnitOfWork is a Store whose writes become visible together on Commit.
type UnitOfWork interface {
	Store
	Commit() error
	Rollback() error
}

// Collections returns the live collections in creation order.
func (s *SQLStore) Collections(ctx context.Context) ([]schema.Collection, error) {
	var rows []collectionRow
	if err := s.db.WithContext(ctx).Order("ordinal ASC").Find(&rows).Error; err != nil {
		return nil, newStoreError("collections.list", err)
	}
	collections := make([]schema.Collection, 0, len(rows))
	for _, row := range rows {
		collection, err := row.collection()
		if err != nil {
			return nil, newStoreError("collections.decode", err)
		}
		collections = append(collections, collection)
	}
	return collections, nil
}

// CollectionByID returns the live collection with the provided id.
func (s *SQLStore) CollectionByID(ctx context.Context, id string) (schema.Collection, error) {
	return s.findCollection(ctx, "collections.by_id", "id = ?", id)
}

// CollectionByName returns the live collection with the provided name, compared case-insensitively.
func (s *SQLStore) CollectionByName(ctx context.Context, name string) (schema.Collection, error) {
	return s.findCollection(ctx, "collections.by_name", "name_key = ?", schema.NameKey(name))
}

func (s *SQLStore) findCollection(ctx context.Context, op, query string, arg string) (schema.Collection, error) {
	var row collectionRow
	err := s.db.WithContext(ctx).Where(query, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schema.Collection{}, newStoreError(op, fmt.Errorf("%w: collection %q", ErrNotFound, arg))
	}
	if err != nil {
		return schema.Collection{}, newStoreError(op, err)
	}
	collection, err := row.collection()
	if err != nil {
		return schema.Collection{}, newStoreError(op, err)
	}
	return collection, nil
}

// SaveCollection creates or replaces the collection keyed by its id.
// Empty created/updated stamps are filled in; an existing row keeps its creation order.
func (s *SQLStore) SaveCollection(ctx context.Context, collection schema.Collection) error {
	now := s.now()
	return newStoreError("collections.save", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing collectionRow
		err := tx.Where("id = ?", collection.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			var maxOrdinal int64
			if err := tx.Model(&collectionRow{}).Select("COALESCE(MAX(ordinal), 0)").Scan(&maxOrdinal).Error; err != nil {
				return err
			}
			existing = collectionRow{Ordinal: maxOrdinal + 1}
		case err != nil:
			return err
		default:
			if collection.Created == "" {
				previous, decodeErr := existing.collection()
				if decodeErr != nil {
					return decodeErr
				}
				collection.Created = previous.Created
			}
		}

		stamp := now.Format(TimestampLayout)
		if collection.Created == "" {
			collection.Created = stamp
		}
		if collection.Updated == "" {
			collection.Updated = stamp
		}

		document, err := json.Marshal(collection)
		if err != nil {
			return err
		}

		row := collectionRow{
			ID:               collection.ID,
			Name:             collection.Name,
			NameKey:          schema.NameKey(collection.Name),
			Kind:             string(collection.Kind),
			System:           collection.System,
			Ordinal:          existing.Ordinal,
			DocumentJSON:     string(document),
			UpdatedAtSeconds: now.Unix(),
		}
		return tx.Save(&row).Error
	}))
}

// DeleteCollection removes the collection together with its records and files.
func (s *SQLStore) DeleteCollection(ctx context.Context, id string) error {
	return newStoreError("collections.delete", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&collectionRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: collection %q", ErrNotFound, id)
		}
		if err := tx.Where("collection_id = ?", id).Delete(&recordFileRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", id).Delete(&recordRow{}).Error; err != nil {
			return err
		}
		s.logger.Debug("collection deleted", zap.String("collection_id", id))
		return nil
	}))
}

func (r collectionRow) collection() (schema.Collection, error) {
	var collection schema.Collection
	if err := json.Unmarshal([]byte(r.DocumentJSON), &collection); err != nil {
		return schema.Collection{}, fmt.Errorf("decode collection %q: %w", r.ID, err)
	}
	return collection, nil
}
