package store

// collectionRow persists one collection descriptor as a JSON document.
type collectionRow struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:190;not null"`
	NameKey          string `gorm:"column:name_key;size:190;not null;uniqueIndex:idx_collections_name_key"`
	Kind             string `gorm:"column:type;size:16;not null"`
	System           bool   `gorm:"column:system;not null"`
	Ordinal          int64  `gorm:"column:ordinal;not null;index"`
	DocumentJSON     string `gorm:"column:document_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (collectionRow) TableName() string {
	return "collections"
}

// recordRow stores a record document of a collection.
type recordRow struct {
	CollectionID    string `gorm:"column:collection_id;primaryKey;size:190;not null;index:idx_records_collection_created,priority:1"`
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	DataJSON        string `gorm:"column:data_json;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_records_collection_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (recordRow) TableName() string {
	return "collection_records"
}

// recordFileRow stores one uploaded file attached to a record field.
type recordFileRow struct {
	CollectionID string `gorm:"column:collection_id;primaryKey;size:190;not null"`
	RecordID     string `gorm:"column:record_id;primaryKey;size:190;not null"`
	FieldName    string `gorm:"column:field_name;primaryKey;size:190;not null"`
	FileName     string `gorm:"column:file_name;primaryKey;size:255;not null"`
	ContentType  string `gorm:"column:content_type;size:255;not null"`
	Size         int64  `gorm:"column:size;not null"`
	Content      []byte `gorm:"column:content;not null"`
}

// TableName provides the explicit table binding for GORM.
func (recordFileRow) TableName() string {
	return "collection_record_files"
}

// migrationRecord is the persisted applied-marker of a migration.
type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	Sequence         int64  `gorm:"column:sequence;not null;index"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (migrationRecord) TableName() string {
	return "db_migrations"
}

// migrationSnapshotRow holds the live schema captured before a migration ran.
type migrationSnapshotRow struct {
	Name         string `gorm:"column:name;primaryKey;size:190;not null"`
	SnapshotJSON string `gorm:"column:snapshot_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (migrationSnapshotRow) TableName() string {
	return "db_migration_snapshots"
}

// migrationLock is the single advisory lock row serializing migration runs.
type migrationLock struct {
	Name              string `gorm:"column:name;primaryKey;size:64;not null"`
	Holder            string `gorm:"column:holder;size:190;not null"`
	AcquiredAtSeconds int64  `gorm:"column:acquired_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (migrationLock) TableName() string {
	return "db_migration_locks"
}
