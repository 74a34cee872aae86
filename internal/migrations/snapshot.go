package migrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/importer"
	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"go.uber.org/zap"
)

// Revert modes of snapshot migrations.
const (
	// RevertPrevious restores the schema that was live when the snapshot was applied.
	RevertPrevious = "previous"
	// RevertNone makes down a recorded no-op.
	RevertNone = "none"
)

// SnapshotFile is the on-disk form of a snapshot migration.
type SnapshotFile struct {
	Name          string          `json:"name"`
	Sequence      int64           `json:"sequence"`
	DeleteMissing bool            `json:"deleteMissing"`
	Revert        string          `json:"revert"`
	Collections   schema.Snapshot `json:"collections"`
}

// LoadSnapshots reads every *.json snapshot migration in dir of fsys and returns
// them as migrations in ascending sequence.
func LoadSnapshots(fsys fs.FS, dir string) ([]Migration, error) {
	files, err := ReadSnapshots(fsys, dir)
	if err != nil {
		return nil, err
	}
	return ChainSnapshots(files), nil
}

// ReadSnapshots decodes every *.json snapshot migration in dir of fsys.
// Files without a name are named after their file name.
func ReadSnapshots(fsys fs.FS, dir string) ([]SnapshotFile, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}

	files := make([]SnapshotFile, 0, len(matches))
	for _, match := range matches {
		raw, err := fs.ReadFile(fsys, match)
		if err != nil {
			return nil, err
		}
		file, err := DecodeSnapshotFile(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", match, err)
		}
		if file.Name == "" {
			file.Name = strings.TrimSuffix(path.Base(match), path.Ext(match))
		}
		files = append(files, file)
	}
	return files, nil
}

// ChainSnapshots orders files by sequence and turns them into migrations.
// Each revert restores the schema captured when the file was applied, falling back
// to the preceding file (an empty schema for the first) for older markers.
func ChainSnapshots(files []SnapshotFile) []Migration {
	ordered := append([]SnapshotFile(nil), files...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	migrations := make([]Migration, 0, len(ordered))
	previous := schema.NewSnapshot()
	for _, file := range ordered {
		migrations = append(migrations, snapshotMigration(file, previous))
		previous = file.Collections
	}
	return migrations
}

// DecodeSnapshotFile parses and checks a snapshot migration document.
func DecodeSnapshotFile(raw []byte) (SnapshotFile, error) {
	var file SnapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return SnapshotFile{}, err
	}
	file.Name = strings.TrimSpace(file.Name)
	if file.Sequence <= 0 {
		return SnapshotFile{}, fmt.Errorf("%w: sequence must be positive", ErrInvalidMigration)
	}
	switch file.Revert {
	case "":
		file.Revert = RevertPrevious
	case RevertPrevious, RevertNone:
	default:
		return SnapshotFile{}, fmt.Errorf("%w: unknown revert mode %q", ErrInvalidMigration, file.Revert)
	}
	return file, nil
}

func snapshotMigration(file SnapshotFile, previous schema.Snapshot) Migration {
	m := Migration{
		Name:     file.Name,
		Sequence: file.Sequence,
		Up: func(ctx context.Context, tx store.Store, logger *zap.Logger) error {
			live, err := tx.Collections(ctx)
			if err != nil {
				return err
			}
			if err := tx.SaveMigrationSnapshot(ctx, file.Name, live); err != nil {
				return err
			}
			_, err = importer.New(logger).Import(ctx, tx, file.Collections, importer.Options{DeleteMissing: file.DeleteMissing})
			return err
		},
	}

	if file.Revert == RevertNone {
		m.Down = func(context.Context, store.Store, *zap.Logger) error {
			return ErrNoop
		}
		return m
	}

	declared := make(map[string]struct{}, file.Collections.Len())
	for _, id := range file.Collections.IDs() {
		declared[id] = struct{}{}
	}
	m.Down = func(ctx context.Context, tx store.Store, logger *zap.Logger) error {
		captured, err := tx.MigrationSnapshot(ctx, file.Name)
		switch {
		case err == nil:
			_, err = importer.New(logger).Import(ctx, tx, schema.NewSnapshot(captured...), importer.Options{DeleteMissing: true})
			return err
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		// Applied before the starting schema was captured.
		logger.Warn("no captured schema for migration, restoring the preceding snapshot")
		_, err = importer.New(logger).Import(ctx, tx, previous, importer.Options{
			DeleteMissing: true,
			Protect: func(collection schema.Collection) bool {
				_, ok := declared[collection.ID]
				return !ok
			},
		})
		return err
	}
	return m
}

// WriteSnapshot stores snapshot as a new snapshot migration in dir and returns the file path.
func WriteSnapshot(dir string, snapshot schema.Snapshot, now time.Time) (string, error) {
	sequence := now.Unix()
	file := SnapshotFile{
		Name:          fmt.Sprintf("%d_collections_snapshot", sequence),
		Sequence:      sequence,
		DeleteMissing: true,
		Revert:        RevertPrevious,
		Collections:   snapshot,
	}
	encoded, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, file.Name+".json")
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s already exists", ErrDuplicateMigration, target)
	}
	if err := os.WriteFile(target, append(encoded, '\n'), 0o644); err != nil {
		return "", err
	}
	return target, nil
}
