package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var nullJSON = []byte("null")

type fieldDocument struct {
	System      bool            `json:"system"`
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        FieldType       `json:"type"`
	Required    bool            `json:"required"`
	Presentable bool            `json:"presentable"`
	Unique      bool            `json:"unique"`
	Options     json.RawMessage `json:"options"`
}

type collectionDocument struct {
	ID         string          `json:"id"`
	Created    string          `json:"created,omitempty"`
	Updated    string          `json:"updated,omitempty"`
	Name       string          `json:"name"`
	Type       Kind            `json:"type"`
	System     bool            `json:"system"`
	Schema     []fieldDocument `json:"schema"`
	Fields     []fieldDocument `json:"fields,omitempty"`
	Indexes    []string        `json:"indexes"`
	ListRule   *string         `json:"listRule"`
	ViewRule   *string         `json:"viewRule"`
	CreateRule *string         `json:"createRule"`
	UpdateRule *string         `json:"updateRule"`
	DeleteRule *string         `json:"deleteRule"`
	Options    json.RawMessage `json:"options"`
}

// MarshalJSON encodes the field using the snapshot wire keys.
func (f Field) MarshalJSON() ([]byte, error) {
	document, err := f.document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(document)
}

func (f Field) document() (fieldDocument, error) {
	options := f.ResolvedOptions()
	if options == nil {
		return fieldDocument{}, fmt.Errorf("%w: %q", ErrUnknownFieldType, f.Type)
	}
	if options.FieldType() != f.Type {
		return fieldDocument{}, fmt.Errorf("schema: field %q options of type %s do not match field type %s", f.ID, options.FieldType(), f.Type)
	}
	encodedOptions, err := json.Marshal(options)
	if err != nil {
		return fieldDocument{}, err
	}
	return fieldDocument{
		System:      f.System,
		ID:          f.ID,
		Name:        f.Name,
		Type:        f.Type,
		Required:    f.Required,
		Presentable: f.Presentable,
		Unique:      f.Unique,
		Options:     encodedOptions,
	}, nil
}

// UnmarshalJSON decodes a field and selects the options variant from its type.
func (f *Field) UnmarshalJSON(data []byte) error {
	var document fieldDocument
	if err := json.Unmarshal(data, &document); err != nil {
		return err
	}
	field, err := document.field()
	if err != nil {
		return err
	}
	*f = field
	return nil
}

func (d fieldDocument) field() (Field, error) {
	options, err := decodeFieldOptions(d.Type, d.Options)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", d.ID, err)
	}
	return Field{
		ID:          d.ID,
		Name:        d.Name,
		Type:        d.Type,
		System:      d.System,
		Required:    d.Required,
		Presentable: d.Presentable,
		Unique:      d.Unique,
		Options:     options,
	}, nil
}

// MarshalJSON encodes the collection using the snapshot wire keys.
func (c Collection) MarshalJSON() ([]byte, error) {
	options := c.Options
	if options == nil {
		defaults, err := defaultCollectionOptions(c.Kind)
		if err != nil {
			return nil, err
		}
		options = defaults
	}
	if options.Kind() != c.Kind {
		return nil, fmt.Errorf("schema: collection %q options of kind %s do not match kind %s", c.ID, options.Kind(), c.Kind)
	}
	encodedOptions, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}

	var fields []fieldDocument
	if c.Fields != nil {
		fields = make([]fieldDocument, 0, len(c.Fields))
		for _, field := range c.Fields {
			document, err := field.document()
			if err != nil {
				return nil, err
			}
			fields = append(fields, document)
		}
	}

	return json.Marshal(collectionDocument{
		ID:         c.ID,
		Created:    c.Created,
		Updated:    c.Updated,
		Name:       c.Name,
		Type:       c.Kind,
		System:     c.System,
		Schema:     fields,
		Indexes:    c.Indexes,
		ListRule:   c.Rules.List,
		ViewRule:   c.Rules.View,
		CreateRule: c.Rules.Create,
		UpdateRule: c.Rules.Update,
		DeleteRule: c.Rules.Delete,
		Options:    encodedOptions,
	})
}

// UnmarshalJSON decodes a collection. "fields" is accepted as an alias of "schema".
func (c *Collection) UnmarshalJSON(data []byte) error {
	var document collectionDocument
	if err := json.Unmarshal(data, &document); err != nil {
		return err
	}
	kind, err := ParseKind(string(document.Type))
	if err != nil {
		return fmt.Errorf("collection %q: %w", document.ID, err)
	}
	options, err := decodeCollectionOptions(kind, document.Options)
	if err != nil {
		return fmt.Errorf("collection %q: %w", document.ID, err)
	}

	fieldDocuments := document.Schema
	if fieldDocuments == nil {
		fieldDocuments = document.Fields
	}
	var fields []Field
	if fieldDocuments != nil {
		fields = make([]Field, 0, len(fieldDocuments))
		for _, fieldDoc := range fieldDocuments {
			field, err := fieldDoc.field()
			if err != nil {
				return fmt.Errorf("collection %q: %w", document.ID, err)
			}
			fields = append(fields, field)
		}
	}

	*c = Collection{
		ID:      document.ID,
		Name:    document.Name,
		Kind:    kind,
		System:  document.System,
		Fields:  fields,
		Indexes: document.Indexes,
		Rules: Rules{
			List:   document.ListRule,
			View:   document.ViewRule,
			Create: document.CreateRule,
			Update: document.UpdateRule,
			Delete: document.DeleteRule,
		},
		Options: options,
		Created: document.Created,
		Updated: document.Updated,
	}
	return nil
}

// MarshalJSON encodes the snapshot as an ordered array of collections.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.collections == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.collections)
}

// UnmarshalJSON decodes an array of collections into the snapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var collections []Collection
	if err := json.Unmarshal(data, &collections); err != nil {
		return err
	}
	s.collections = collections
	return nil
}

// DecodeSnapshot parses a JSON array of collections.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("schema: decode snapshot: %w", err)
	}
	return snapshot, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullJSON)
}

func decodeFieldOptions(fieldType FieldType, raw json.RawMessage) (FieldOptions, error) {
	if _, err := defaultFieldOptions(fieldType); err != nil {
		return nil, err
	}
	empty := isEmptyJSON(raw)
	switch fieldType {
	case FieldTypeText:
		return decodeInto[TextOptions](raw, empty)
	case FieldTypeNumber:
		return decodeInto[NumberOptions](raw, empty)
	case FieldTypeBool:
		return decodeInto[BoolOptions](raw, empty)
	case FieldTypeEmail:
		return decodeInto[EmailOptions](raw, empty)
	case FieldTypeURL:
		return decodeInto[URLOptions](raw, empty)
	case FieldTypeEditor:
		return decodeInto[EditorOptions](raw, empty)
	case FieldTypeDate:
		return decodeInto[DateOptions](raw, empty)
	case FieldTypeSelect:
		return decodeInto[SelectOptions](raw, empty)
	case FieldTypeJSON:
		return decodeInto[JSONOptions](raw, empty)
	case FieldTypeFile:
		return decodeInto[FileOptions](raw, empty)
	default:
		return decodeInto[RelationOptions](raw, empty)
	}
}

func decodeCollectionOptions(kind Kind, raw json.RawMessage) (CollectionOptions, error) {
	empty := isEmptyJSON(raw)
	switch kind {
	case KindAuth:
		if empty {
			return defaultCollectionOptions(kind)
		}
		return decodeInto[AuthOptions](raw, false)
	case KindView:
		return decodeInto[ViewOptions](raw, empty)
	default:
		return decodeInto[BaseOptions](raw, empty)
	}
}

func decodeInto[T any](raw json.RawMessage, empty bool) (T, error) {
	var value T
	if empty {
		return value, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("decode options: %w", err)
	}
	return value, nil
}
