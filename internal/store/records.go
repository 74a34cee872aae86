package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Record is one stored document of a collection.
type Record struct {
	ID           string
	CollectionID string
	Data         map[string]interface{}
	Files        []File
	Created      string
}

// File is an uploaded file attached to a record field.
type File struct {
	Field       string
	Name        string
	ContentType string
	Size        int64
	Content     []byte
}

// CreateRecord stores the record and its files.
// An empty or unparsable Created stamp is replaced with the store clock.
func (s *SQLStore) CreateRecord(ctx context.Context, record Record) error {
	data := record.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return newStoreError("records.create", err)
	}
	created, err := time.Parse(TimestampLayout, record.Created)
	if err != nil {
		created = s.now()
	}
	return newStoreError("records.create", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := recordRow{
			CollectionID:    record.CollectionID,
			ID:              record.ID,
			DataJSON:        string(encoded),
			CreatedAtMillis: created.UnixMilli(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, file := range record.Files {
			fileRow := recordFileRow{
				CollectionID: record.CollectionID,
				RecordID:     record.ID,
				FieldName:    file.Field,
				FileName:     file.Name,
				ContentType:  file.ContentType,
				Size:         file.Size,
				Content:      file.Content,
			}
			if err := tx.Create(&fileRow).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}

// ListRecords returns a page of records in creation order along with the total count.
// File metadata is included, file content is not.
func (s *SQLStore) ListRecords(ctx context.Context, collectionID string, offset, limit int) ([]Record, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&recordRow{}).Where("collection_id = ?", collectionID).Count(&total).Error; err != nil {
		return nil, 0, newStoreError("records.count", err)
	}

	var rows []recordRow
	query := db.Where("collection_id = ?", collectionID).Order("created_at_ms ASC").Order("id ASC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, newStoreError("records.list", err)
	}
	if len(rows) == 0 {
		return []Record{}, total, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var fileRows []recordFileRow
	if err := db.Select("collection_id", "record_id", "field_name", "file_name", "content_type", "size").
		Where("collection_id = ? AND record_id IN ?", collectionID, ids).
		Order("file_name ASC").
		Find(&fileRows).Error; err != nil {
		return nil, 0, newStoreError("records.files", err)
	}
	files := make(map[string][]File, len(fileRows))
	for _, fileRow := range fileRows {
		files[fileRow.RecordID] = append(files[fileRow.RecordID], File{
			Field:       fileRow.FieldName,
			Name:        fileRow.FileName,
			ContentType: fileRow.ContentType,
			Size:        fileRow.Size,
		})
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		data, err := row.data()
		if err != nil {
			return nil, 0, newStoreError("records.decode", err)
		}
		records = append(records, Record{
			ID:           row.ID,
			CollectionID: row.CollectionID,
			Data:         data,
			Files:        files[row.ID],
			Created:      time.UnixMilli(row.CreatedAtMillis).UTC().Format(TimestampLayout),
		})
	}
	return records, total, nil
}

// RecordValueExists reports whether a record of the collection stores the scalar value under field.
func (s *SQLStore) RecordValueExists(ctx context.Context, collectionID, field string, value interface{}) (bool, error) {
	switch v := value.(type) {
	case string, float64, int, int64:
	case bool:
		// JSON booleans come back from json_extract as 0 or 1.
		if v {
			value = 1
		} else {
			value = 0
		}
	default:
		return false, newStoreError("records.exists", fmt.Errorf("unsupported value type %T for field %q", value, field))
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&recordRow{}).
		Where("collection_id = ? AND json_extract(data_json, ?) = ?", collectionID, `$."`+field+`"`, value).
		Count(&count).Error
	if err != nil {
		return false, newStoreError("records.exists", err)
	}
	return count > 0, nil
}

// DropFieldData removes the named field from every record of the collection.
func (s *SQLStore) DropFieldData(ctx context.Context, collectionID, fieldName string) error {
	err := s.rewriteRecords(ctx, collectionID, func(data map[string]interface{}) bool {
		if _, ok := data[fieldName]; !ok {
			return false
		}
		delete(data, fieldName)
		return true
	}, func(tx *gorm.DB) error {
		return tx.Where("collection_id = ? AND field_name = ?", collectionID, fieldName).Delete(&recordFileRow{}).Error
	})
	return newStoreError("records.drop_field", err)
}

// RenameFieldData moves the value stored under oldName to newName in every record of the collection.
func (s *SQLStore) RenameFieldData(ctx context.Context, collectionID, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	err := s.rewriteRecords(ctx, collectionID, func(data map[string]interface{}) bool {
		value, ok := data[oldName]
		if !ok {
			return false
		}
		delete(data, oldName)
		data[newName] = value
		return true
	}, func(tx *gorm.DB) error {
		return tx.Model(&recordFileRow{}).
			Where("collection_id = ? AND field_name = ?", collectionID, oldName).
			Update("field_name", newName).Error
	})
	return newStoreError("records.rename_field", err)
}

func (s *SQLStore) rewriteRecords(ctx context.Context, collectionID string, rewrite func(map[string]interface{}) bool, files func(*gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []recordRow
		if err := tx.Where("collection_id = ?", collectionID).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			data, err := row.data()
			if err != nil {
				return err
			}
			if !rewrite(data) {
				continue
			}
			encoded, err := json.Marshal(data)
			if err != nil {
				return err
			}
			if err := tx.Model(&recordRow{}).
				Where("collection_id = ? AND id = ?", row.CollectionID, row.ID).
				Update("data_json", string(encoded)).Error; err != nil {
				return err
			}
		}
		return files(tx)
	})
}

func (r recordRow) data() (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if err := json.Unmarshal([]byte(r.DataJSON), &data); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", r.ID, err)
	}
	return data, nil
}
