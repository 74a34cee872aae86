package migrations

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/google/go-cmp/cmp"
)

const eventsID = "zt30my8u19auasj"

func builtinSnapshot(t *testing.T) SnapshotFile {
	t.Helper()
	raw, err := builtinSnapshots.ReadFile("snapshots/1702695322_collections_snapshot.json")
	if err != nil {
		t.Fatalf("read builtin: %v", err)
	}
	file, err := DecodeSnapshotFile(raw)
	if err != nil {
		t.Fatalf("decode builtin: %v", err)
	}
	return file
}

func encodeFile(t *testing.T, file SnapshotFile) []byte {
	t.Helper()
	encoded, err := json.Marshal(file)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return encoded
}

func liveNames(t *testing.T, sqlStore *store.SQLStore) []string {
	t.Helper()
	collections, err := sqlStore.Collections(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	names := make([]string, 0, len(collections))
	for _, collection := range collections {
		names = append(names, collection.Name)
	}
	return names
}

func TestBuiltinSnapshotAppliesAndReverts(t *testing.T) {
	ctx := context.Background()
	sqlStore := openStore(t)
	runner := newRunner(t, sqlStore, nil, nil)

	registered := Registered()
	if len(registered) != 1 || registered[0].Name != "1702695322_collections_snapshot" || registered[0].Sequence != 1702695322 {
		t.Fatalf("unexpected builtin registrations %+v", registered)
	}

	applied, err := runner.ApplyPending(ctx)
	if err != nil || applied != 1 {
		t.Fatalf("expected builtin snapshot applied, got %d, %v", applied, err)
	}
	if diff := cmp.Diff([]string{"users", "events", "errors"}, liveNames(t, sqlStore)); diff != "" {
		t.Fatalf("unexpected collections (-want +got):\n%s", diff)
	}

	if _, err := runner.RevertLast(ctx, 1); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if names := liveNames(t, sqlStore); len(names) != 0 {
		t.Fatalf("expected revert of the first snapshot to remove its collections, got %v", names)
	}
	if markers := markerNames(t, sqlStore); len(markers) != 0 {
		t.Fatalf("expected marker removed, got %v", markers)
	}
}

func TestSnapshotRevertRestoresPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	sqlStore := openStore(t)
	first := builtinSnapshot(t)

	collections := first.Collections.Collections()
	for i := range collections {
		if collections[i].ID != eventsID {
			continue
		}
		collections[i].Fields = collections[i].Fields[:3]
	}
	collections = append(collections, schema.Collection{
		ID: "tags0000000001", Name: "tags", Kind: schema.KindBase, Options: schema.BaseOptions{},
	})
	second := SnapshotFile{
		Name:          "1702700000_collections_snapshot",
		Sequence:      1702700000,
		DeleteMissing: true,
		Revert:        RevertPrevious,
		Collections:   schema.NewSnapshot(collections...),
	}

	fsys := fstest.MapFS{
		"pb_migrations/1702695322_collections_snapshot.json": {Data: encodeFile(t, first)},
		"pb_migrations/1702700000_collections_snapshot.json": {Data: encodeFile(t, second)},
		"pb_migrations/README.md":                            {Data: []byte("ignored")},
	}
	loaded, err := LoadSnapshots(fsys, "pb_migrations")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	registry := NewRegistry()
	if err := registry.RegisterAll(loaded...); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := newRunner(t, sqlStore, registry, nil)

	if applied, err := runner.ApplyPending(ctx); err != nil || applied != 2 {
		t.Fatalf("expected both snapshots applied, got %d, %v", applied, err)
	}
	events, err := sqlStore.CollectionByID(ctx, eventsID)
	if err != nil {
		t.Fatalf("lookup events: %v", err)
	}
	if len(events.Fields) != 3 {
		t.Fatalf("expected trimmed events fields, got %d", len(events.Fields))
	}

	if _, err := runner.RevertLast(ctx, 1); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if diff := cmp.Diff([]string{"users", "events", "errors"}, liveNames(t, sqlStore)); diff != "" {
		t.Fatalf("unexpected collections after revert (-want +got):\n%s", diff)
	}
	events, err = sqlStore.CollectionByID(ctx, eventsID)
	if err != nil {
		t.Fatalf("lookup events: %v", err)
	}
	want, _ := first.Collections.Lookup(eventsID)
	if !schema.Equal(want, events) {
		t.Fatalf("expected events restored to the first snapshot")
	}
}

func TestSnapshotRevertNoneKeepsSchema(t *testing.T) {
	ctx := context.Background()
	sqlStore := openStore(t)
	file := builtinSnapshot(t)
	file.Revert = RevertNone

	loaded, err := LoadSnapshots(fstest.MapFS{"m/one.json": {Data: encodeFile(t, file)}}, "m")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	registry := NewRegistry()
	if err := registry.RegisterAll(loaded...); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := newRunner(t, sqlStore, registry, nil)
	if _, err := runner.ApplyPending(ctx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := runner.RevertLast(ctx, 1); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if names := liveNames(t, sqlStore); len(names) != 3 {
		t.Fatalf("expected one-way snapshot to keep schema, got %v", names)
	}
	if markers := markerNames(t, sqlStore); len(markers) != 0 {
		t.Fatalf("expected marker cleared, got %v", markers)
	}
}

func TestDecodeSnapshotFileRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing-sequence", raw: `{"name":"x","collections":[]}`},
		{name: "unknown-revert", raw: `{"name":"x","sequence":1,"revert":"sometimes","collections":[]}`},
		{name: "bad-collection", raw: `{"name":"x","sequence":1,"collections":[{"id":"c","name":"c","type":"graph"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSnapshotFile([]byte(tt.raw)); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}

	file, err := DecodeSnapshotFile([]byte(`{"sequence":5,"collections":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if file.Revert != RevertPrevious {
		t.Fatalf("expected previous to be the default revert mode, got %q", file.Revert)
	}
}

func TestWriteSnapshotProducesLoadableMigration(t *testing.T) {
	dir := t.TempDir()
	snapshot := builtinSnapshot(t).Collections
	now := time.Unix(1710000000, 0)

	path, err := WriteSnapshot(dir, snapshot, now)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := WriteSnapshot(dir, snapshot, now); !errors.Is(err, ErrDuplicateMigration) {
		t.Fatalf("expected duplicate file to be rejected, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}

	loaded, err := LoadSnapshots(os.DirFS(dir), ".")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "1710000000_collections_snapshot" || loaded[0].Sequence != 1710000000 {
		t.Fatalf("unexpected loaded migrations %+v", loaded)
	}
}

func TestProjectRegistryChainsAfterBuiltin(t *testing.T) {
	ctx := context.Background()
	sqlStore := openStore(t)

	collections := append(builtinSnapshot(t).Collections.Collections(), schema.Collection{
		ID: "notes000000001", Name: "notes", Kind: schema.KindBase, Options: schema.BaseOptions{},
	})
	project := SnapshotFile{
		Name:          "1750000000_collections_snapshot",
		Sequence:      1750000000,
		DeleteMissing: true,
		Collections:   schema.NewSnapshot(collections...),
	}
	fsys := fstest.MapFS{"1750000000_collections_snapshot.json": {Data: encodeFile(t, project)}}

	registry, err := NewProjectRegistry(fsys, ".")
	if err != nil {
		t.Fatalf("project registry: %v", err)
	}
	names := make([]string, 0)
	for _, m := range registry.Migrations() {
		names = append(names, m.Name)
	}
	if diff := cmp.Diff([]string{"1702695322_collections_snapshot", "1750000000_collections_snapshot"}, names); diff != "" {
		t.Fatalf("unexpected registry (-want +got):\n%s", diff)
	}

	runner := newRunner(t, sqlStore, registry, nil)
	if applied, err := runner.ApplyPending(ctx); err != nil || applied != 2 {
		t.Fatalf("expected two migrations applied, got %d, %v", applied, err)
	}
	if _, err := runner.RevertLast(ctx, 1); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if diff := cmp.Diff([]string{"users", "events", "errors"}, liveNames(t, sqlStore)); diff != "" {
		t.Fatalf("expected the built-in schema after revert (-want +got):\n%s", diff)
	}

	if _, err := NewProjectRegistry(fstest.MapFS{"dup.json": {Data: encodeFile(t, builtinSnapshot(t))}}, "."); !errors.Is(err, ErrDuplicateMigration) {
		t.Fatalf("expected duplicate snapshot to be rejected, got %v", err)
	}
}

func TestSnapshotRevertRestoresStartingSchema(t *testing.T) {
	ctx := context.Background()
	sqlStore := openStore(t)
	notes := schema.Collection{
		ID: "notes000000001", Name: "notes", Kind: schema.KindBase,
		Fields: []schema.Field{
			{ID: "n_body", Name: "body", Type: schema.FieldTypeText, Options: schema.TextOptions{}},
		},
		Options: schema.BaseOptions{},
	}
	if err := sqlStore.SaveCollection(ctx, notes); err != nil {
		t.Fatalf("save notes: %v", err)
	}
	runner := newRunner(t, sqlStore, nil, nil)

	if applied, err := runner.ApplyPending(ctx); err != nil || applied != 1 {
		t.Fatalf("expected builtin snapshot applied, got %d, %v", applied, err)
	}
	if diff := cmp.Diff([]string{"users", "events", "errors"}, liveNames(t, sqlStore)); diff != "" {
		t.Fatalf("expected undeclared collections deleted (-want +got):\n%s", diff)
	}

	if reverted, err := runner.RevertLast(ctx, 1); err != nil || reverted != 1 {
		t.Fatalf("expected one revert, got %d, %v", reverted, err)
	}
	if diff := cmp.Diff([]string{"notes"}, liveNames(t, sqlStore)); diff != "" {
		t.Fatalf("expected the starting schema back (-want +got):\n%s", diff)
	}
	restored, err := sqlStore.CollectionByID(ctx, notes.ID)
	if err != nil {
		t.Fatalf("lookup notes: %v", err)
	}
	if !schema.Equal(notes, restored) {
		t.Fatalf("expected notes restored unchanged, got %+v", restored)
	}
	if _, err := sqlStore.MigrationSnapshot(ctx, "1702695322_collections_snapshot"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected captured schema dropped with the marker, got %v", err)
	}
}

func TestSnapshotRevertWithoutCaptureUsesPrecedingFile(t *testing.T) {
	ctx := context.Background()
	sqlStore := openStore(t)
	file := builtinSnapshot(t)
	for _, collection := range file.Collections.Collections() {
		if err := sqlStore.SaveCollection(ctx, collection); err != nil {
			t.Fatalf("save %s: %v", collection.Name, err)
		}
	}
	if err := sqlStore.SaveMarker(ctx, store.Marker{Name: file.Name, Sequence: file.Sequence}); err != nil {
		t.Fatalf("save marker: %v", err)
	}
	runner := newRunner(t, sqlStore, nil, nil)

	if _, err := runner.RevertLast(ctx, 1); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if names := liveNames(t, sqlStore); len(names) != 0 {
		t.Fatalf("expected the first snapshot to revert to an empty schema, got %v", names)
	}
}
