package importer

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"go.uber.org/zap"
)

// Options tune how a snapshot is reconciled with the live schema.
type Options struct {
	// DeleteMissing removes live collections and fields absent from the snapshot.
	DeleteMissing bool
	// Protect excludes matching live collections from deletion.
	Protect func(schema.Collection) bool
}

// Result lists the collection ids touched by an import.
type Result struct {
	Created   []string
	Updated   []string
	Deleted   []string
	Unchanged []string
}

// Changed reports whether the import mutated the live schema.
func (r Result) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Deleted) > 0
}

// Importer reconciles snapshots with the live schema of a store.
type Importer struct {
	logger *zap.Logger
}

// New constructs an Importer.
func New(logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{logger: logger}
}

// Import makes the live schema match the snapshot inside one unit of work.
// Nothing is mutated when any descriptor fails validation.
func (i *Importer) Import(ctx context.Context, st store.Store, snapshot schema.Snapshot, opts Options) (Result, error) {
	var result Result
	err := st.Transaction(ctx, func(tx store.Store) error {
		live, err := tx.Collections(ctx)
		if err != nil {
			return err
		}
		target := snapshot.Collections()
		if err := validateTarget(target, live, opts); err != nil {
			return err
		}

		changes := buildPlan(target, live, opts)
		result, err = i.apply(ctx, tx, changes)
		return err
	})
	if err != nil {
		i.logger.Warn("collections import rejected", zap.Error(err))
		return Result{}, err
	}

	i.logger.Info("collections imported",
		zap.Int("created", len(result.Created)),
		zap.Int("updated", len(result.Updated)),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("unchanged", len(result.Unchanged)),
		zap.Bool("delete_missing", opts.DeleteMissing))
	return result, nil
}

func (i *Importer) apply(ctx context.Context, tx store.Store, changes plan) (Result, error) {
	result := Result{Unchanged: changes.same}

	for _, collection := range changes.deletes {
		if err := tx.DeleteCollection(ctx, collection.ID); err != nil {
			return Result{}, err
		}
		i.logger.Info("collection deleted", zap.String("collection_id", collection.ID), zap.String("collection", collection.Name))
		result.Deleted = append(result.Deleted, collection.ID)
	}

	for _, parked := range changes.parks {
		if err := tx.SaveCollection(ctx, parked); err != nil {
			return Result{}, err
		}
	}

	for _, update := range changes.updates {
		if err := i.moveFieldData(ctx, tx, update); err != nil {
			return Result{}, err
		}
		if err := tx.SaveCollection(ctx, update.desired); err != nil {
			return Result{}, err
		}
		i.logger.Info("collection updated",
			zap.String("collection_id", update.desired.ID),
			zap.String("collection", update.desired.Name),
			zap.Int("fields_dropped", len(update.dropped)),
			zap.Int("fields_renamed", len(update.renamed)))
		result.Updated = append(result.Updated, update.desired.ID)
	}

	for _, collection := range changes.creates {
		if err := tx.SaveCollection(ctx, collection); err != nil {
			return Result{}, err
		}
		i.logger.Info("collection created", zap.String("collection_id", collection.ID), zap.String("collection", collection.Name))
		result.Created = append(result.Created, collection.ID)
	}
	return result, nil
}

// moveFieldData drops and renames stored values so records follow the field diff.
// Renames go through temporary keys so swapped names do not overwrite each other.
func (i *Importer) moveFieldData(ctx context.Context, tx store.Store, update collectionUpdate) error {
	collectionID := update.live.ID
	for _, field := range update.dropped {
		if err := tx.DropFieldData(ctx, collectionID, field.Name); err != nil {
			return err
		}
	}
	for _, rename := range update.renamed {
		if err := tx.RenameFieldData(ctx, collectionID, rename.from, temporaryFieldKey(rename.id)); err != nil {
			return err
		}
	}
	for _, rename := range update.renamed {
		if err := tx.RenameFieldData(ctx, collectionID, temporaryFieldKey(rename.id), rename.to); err != nil {
			return err
		}
	}
	return nil
}

// Export returns the live schema as a snapshot in creation order.
func (i *Importer) Export(ctx context.Context, st store.Store) (schema.Snapshot, error) {
	collections, err := st.Collections(ctx)
	if err != nil {
		return schema.Snapshot{}, err
	}
	return schema.NewSnapshot(collections...), nil
}

func temporaryFieldKey(fieldID string) string {
	return fmt.Sprintf("__renaming_%s", fieldID)
}
