package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func openTestStore(t *testing.T, clock *fakeClock) *SQLStore {
	t.Helper()
	cfg := Config{Path: filepath.Join(t.TempDir(), "store.db")}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	sqlStore, err := OpenSQLite(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlStore.Close()
	})
	return sqlStore
}

func postsCollection(id, name string) schema.Collection {
	return schema.Collection{
		ID:   id,
		Name: name,
		Kind: schema.KindBase,
		Fields: []schema.Field{
			{ID: id + "_title", Name: "title", Type: schema.FieldTypeText, Options: schema.TextOptions{}},
		},
		Rules:   schema.Rules{List: schema.Rule("")},
		Options: schema.BaseOptions{},
	}
}

func TestSaveCollectionKeepsCreationOrderAndStamp(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	sqlStore := openTestStore(t, clock)

	if err := sqlStore.SaveCollection(ctx, postsCollection("c_b", "beta")); err != nil {
		t.Fatalf("save beta: %v", err)
	}
	if err := sqlStore.SaveCollection(ctx, postsCollection("c_a", "alpha")); err != nil {
		t.Fatalf("save alpha: %v", err)
	}

	clock.now = clock.now.Add(time.Hour)
	renamed := postsCollection("c_b", "gamma")
	if err := sqlStore.SaveCollection(ctx, renamed); err != nil {
		t.Fatalf("update beta: %v", err)
	}

	collections, err := sqlStore.Collections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	names := make([]string, 0, len(collections))
	for _, collection := range collections {
		names = append(names, collection.Name)
	}
	if diff := cmp.Diff([]string{"gamma", "alpha"}, names); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if collections[0].Created != "2024-03-01 10:00:00.000Z" {
		t.Fatalf("expected creation stamp to survive update, got %q", collections[0].Created)
	}
	if collections[0].Updated != "2024-03-01 11:00:00.000Z" {
		t.Fatalf("expected update stamp to move, got %q", collections[0].Updated)
	}
}

func TestCollectionLookups(t *testing.T) {
	ctx := context.Background()
	sqlStore := openTestStore(t, nil)
	if err := sqlStore.SaveCollection(ctx, postsCollection("c_posts", "Posts")); err != nil {
		t.Fatalf("save: %v", err)
	}

	byName, err := sqlStore.CollectionByName(ctx, "posts")
	if err != nil {
		t.Fatalf("lookup by name: %v", err)
	}
	if byName.ID != "c_posts" {
		t.Fatalf("unexpected collection %+v", byName)
	}
	if _, ok := byName.Fields[0].Options.(schema.TextOptions); !ok {
		t.Fatalf("expected typed options after reload, got %T", byName.Fields[0].Options)
	}

	if _, err := sqlStore.CollectionByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := sqlStore.DeleteCollection(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}

	if err := sqlStore.SaveCollection(ctx, postsCollection("c_other", "POSTS")); err == nil {
		t.Fatalf("expected case-insensitive name collision to fail")
	}
}

func TestUnitOfWorkCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	sqlStore := openTestStore(t, nil)

	uow, err := sqlStore.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.SaveCollection(ctx, postsCollection("c_rolled", "rolled")); err != nil {
		t.Fatalf("save in unit of work: %v", err)
	}
	if _, err := uow.Begin(ctx); !errors.Is(err, ErrNestedUnitOfWork) {
		t.Fatalf("expected ErrNestedUnitOfWork, got %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := sqlStore.CollectionByID(ctx, "c_rolled"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back collection to be absent, got %v", err)
	}

	uow, err = sqlStore.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.SaveCollection(ctx, postsCollection("c_kept", "kept")); err != nil {
		t.Fatalf("save: %v", err)
	}
	nestedErr := uow.Transaction(ctx, func(tx Store) error {
		if err := tx.SaveCollection(ctx, postsCollection("c_nested", "nested")); err != nil {
			return err
		}
		return errors.New("abort nested")
	})
	if nestedErr == nil {
		t.Fatalf("expected nested transaction error")
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback after commit should be a no-op: %v", err)
	}

	if _, err := sqlStore.CollectionByID(ctx, "c_kept"); err != nil {
		t.Fatalf("expected committed collection: %v", err)
	}
	if _, err := sqlStore.CollectionByID(ctx, "c_nested"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected savepoint rollback to discard nested collection, got %v", err)
	}
}

func TestMarkersRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	sqlStore := openTestStore(t, clock)

	for _, marker := range []Marker{{Name: "2_second", Sequence: 20}, {Name: "1_first", Sequence: 10}} {
		if err := sqlStore.SaveMarker(ctx, marker); err != nil {
			t.Fatalf("save marker: %v", err)
		}
	}
	markers, err := sqlStore.AppliedMarkers(ctx)
	if err != nil {
		t.Fatalf("list markers: %v", err)
	}
	want := []Marker{
		{Name: "1_first", Sequence: 10, AppliedAt: clock.now},
		{Name: "2_second", Sequence: 20, AppliedAt: clock.now},
	}
	if diff := cmp.Diff(want, markers); diff != "" {
		t.Fatalf("unexpected markers (-want +got):\n%s", diff)
	}

	if err := sqlStore.DeleteMarker(ctx, "1_first"); err != nil {
		t.Fatalf("delete marker: %v", err)
	}
	if err := sqlStore.DeleteMarker(ctx, "1_first"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrationSnapshotFollowsMarker(t *testing.T) {
	ctx := context.Background()
	sqlStore := openTestStore(t, nil)

	if _, err := sqlStore.MigrationSnapshot(ctx, "1_first"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before capture, got %v", err)
	}
	captured := []schema.Collection{postsCollection("c_posts", "posts")}
	if err := sqlStore.SaveMigrationSnapshot(ctx, "1_first", captured); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if err := sqlStore.SaveMarker(ctx, Marker{Name: "1_first", Sequence: 1}); err != nil {
		t.Fatalf("save marker: %v", err)
	}

	loaded, err := sqlStore.MigrationSnapshot(ctx, "1_first")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(loaded) != 1 || !schema.Equal(captured[0], loaded[0]) {
		t.Fatalf("unexpected captured schema %+v", loaded)
	}

	if err := sqlStore.DeleteMarker(ctx, "1_first"); err != nil {
		t.Fatalf("delete marker: %v", err)
	}
	if _, err := sqlStore.MigrationSnapshot(ctx, "1_first"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected snapshot removed with its marker, got %v", err)
	}
}

func TestMigrationLock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	sqlStore := openTestStore(t, clock)
	core, logs := observer.New(zap.WarnLevel)
	sqlStore.logger = zap.New(core)

	if err := sqlStore.AcquireLock(ctx, "holder-a", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := sqlStore.AcquireLock(ctx, "holder-a", time.Minute); err != nil {
		t.Fatalf("reacquire by the same holder: %v", err)
	}
	err := sqlStore.AcquireLock(ctx, "holder-b", time.Minute)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if err := sqlStore.AcquireLock(ctx, "holder-b", time.Minute); err != nil {
		t.Fatalf("expected stale lock takeover: %v", err)
	}
	if logs.FilterMessage("taking over stale migration lock").Len() != 1 {
		t.Fatalf("expected takeover warning, got %v", logs.All())
	}

	if err := sqlStore.ReleaseLock(ctx, "holder-a"); err != nil {
		t.Fatalf("release by a former holder: %v", err)
	}
	if err := sqlStore.AcquireLock(ctx, "holder-c", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected lock to remain with holder-b, got %v", err)
	}
	if err := sqlStore.ReleaseLock(ctx, "holder-b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := sqlStore.AcquireLock(ctx, "holder-c", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestCreateRecordKeepsMillisecondStamp(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	sqlStore := openTestStore(t, clock)

	if err := sqlStore.CreateRecord(ctx, Record{ID: "r2", CollectionID: "c_events", Created: "2024-05-01 08:30:02.223Z"}); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if err := sqlStore.CreateRecord(ctx, Record{ID: "r1", CollectionID: "c_events", Created: "2024-05-01 08:30:02.224Z"}); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if err := sqlStore.CreateRecord(ctx, Record{ID: "r0", CollectionID: "c_events"}); err != nil {
		t.Fatalf("create record: %v", err)
	}

	records, _, err := sqlStore.ListRecords(ctx, "c_events", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, 0, len(records))
	for _, record := range records {
		got = append(got, record.ID+" "+record.Created)
	}
	want := []string{
		"r2 2024-05-01 08:30:02.223Z",
		"r1 2024-05-01 08:30:02.224Z",
		"r0 2024-05-01 09:00:00.000Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected stamps (-want +got):\n%s", diff)
	}
}

func TestRecordFieldDataFollowsSchemaChanges(t *testing.T) {
	ctx := context.Background()
	sqlStore := openTestStore(t, nil)

	record := Record{
		ID:           "r1",
		CollectionID: "c_events",
		Data:         map[string]interface{}{"type": "message", "raw": map[string]interface{}{"a": 1.0}, "file": "shot.png"},
		Files:        []File{{Field: "file", Name: "shot.png", ContentType: "image/png", Size: 3, Content: []byte{1, 2, 3}}},
	}
	if err := sqlStore.CreateRecord(ctx, record); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if err := sqlStore.CreateRecord(ctx, Record{ID: "r2", CollectionID: "c_events", Data: map[string]interface{}{"type": "error"}}); err != nil {
		t.Fatalf("create record: %v", err)
	}

	if err := sqlStore.RenameFieldData(ctx, "c_events", "type", "kind"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := sqlStore.RenameFieldData(ctx, "c_events", "file", "attachment"); err != nil {
		t.Fatalf("rename file field: %v", err)
	}
	if err := sqlStore.DropFieldData(ctx, "c_events", "raw"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	records, total, err := sqlStore.ListRecords(ctx, "c_events", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Fatalf("expected two records, got %d/%d", len(records), total)
	}
	first := records[0]
	if diff := cmp.Diff(map[string]interface{}{"kind": "message", "attachment": "shot.png"}, first.Data); diff != "" {
		t.Fatalf("unexpected record data (-want +got):\n%s", diff)
	}
	wantFiles := []File{{Field: "attachment", Name: "shot.png", ContentType: "image/png", Size: 3}}
	if diff := cmp.Diff(wantFiles, first.Files); diff != "" {
		t.Fatalf("unexpected files (-want +got):\n%s", diff)
	}
	if records[1].Data["kind"] != "error" {
		t.Fatalf("unexpected second record %+v", records[1].Data)
	}

	if err := sqlStore.DropFieldData(ctx, "c_events", "attachment"); err != nil {
		t.Fatalf("drop file field: %v", err)
	}
	records, _, err = sqlStore.ListRecords(ctx, "c_events", 0, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || len(records[0].Files) != 0 {
		t.Fatalf("expected dropped file field to remove files, got %+v", records)
	}
}

func TestDeleteCollectionDropsRecords(t *testing.T) {
	ctx := context.Background()
	sqlStore := openTestStore(t, nil)
	if err := sqlStore.SaveCollection(ctx, postsCollection("c_posts", "posts")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := sqlStore.CreateRecord(ctx, Record{ID: "r1", CollectionID: "c_posts", Data: map[string]interface{}{"title": "x"}}); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if err := sqlStore.DeleteCollection(ctx, "c_posts"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, total, err := sqlStore.ListRecords(ctx, "c_posts", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected records to be deleted, got %d", total)
	}
}
