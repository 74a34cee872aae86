package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType enumerates the supported field types.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBool     FieldType = "bool"
	FieldTypeEmail    FieldType = "email"
	FieldTypeURL      FieldType = "url"
	FieldTypeEditor   FieldType = "editor"
	FieldTypeDate     FieldType = "date"
	FieldTypeSelect   FieldType = "select"
	FieldTypeJSON     FieldType = "json"
	FieldTypeFile     FieldType = "file"
	FieldTypeRelation FieldType = "relation"
)

// ErrUnknownFieldType indicates that a field declares an unsupported type.
var ErrUnknownFieldType = errors.New("schema: unknown field type")

// FieldOptions is the type-specific configuration of a field.
// The concrete type always matches the field's FieldType.
type FieldOptions interface {
	FieldType() FieldType
}

// TextOptions configures text fields.
type TextOptions struct {
	Min     *int   `json:"min"`
	Max     *int   `json:"max"`
	Pattern string `json:"pattern"`
}

// NumberOptions configures number fields.
type NumberOptions struct {
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	NoDecimal bool     `json:"noDecimal"`
}

// BoolOptions configures bool fields.
type BoolOptions struct{}

// EmailOptions configures email fields.
type EmailOptions struct {
	ExceptDomains []string `json:"exceptDomains"`
	OnlyDomains   []string `json:"onlyDomains"`
}

// URLOptions configures url fields.
type URLOptions struct {
	ExceptDomains []string `json:"exceptDomains"`
	OnlyDomains   []string `json:"onlyDomains"`
}

// EditorOptions configures rich text fields.
type EditorOptions struct {
	ConvertURLs bool `json:"convertUrls"`
}

// DateOptions configures date fields.
type DateOptions struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// SelectOptions configures select fields.
type SelectOptions struct {
	MaxSelect int      `json:"maxSelect"`
	Values    []string `json:"values"`
}

// JSONOptions configures json fields. A zero MaxSize means unlimited.
type JSONOptions struct {
	MaxSize int64 `json:"maxSize"`
}

// FileOptions configures file fields. MaxSize is a byte count.
// An empty MimeTypes list accepts any upload.
type FileOptions struct {
	MimeTypes []string `json:"mimeTypes"`
	Thumbs    []string `json:"thumbs"`
	MaxSelect int      `json:"maxSelect"`
	MaxSize   int64    `json:"maxSize"`
	Protected bool     `json:"protected"`
}

// AllowsMime reports whether the upload mime type passes the allow-list.
func (o FileOptions) AllowsMime(mimeType string) bool {
	if len(o.MimeTypes) == 0 {
		return true
	}
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	for _, allowed := range o.MimeTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), base) {
			return true
		}
	}
	return false
}

// RelationOptions configures relation fields.
type RelationOptions struct {
	CollectionID  string   `json:"collectionId"`
	CascadeDelete bool     `json:"cascadeDelete"`
	MinSelect     *int     `json:"minSelect"`
	MaxSelect     *int     `json:"maxSelect"`
	DisplayFields []string `json:"displayFields"`
}

func (TextOptions) FieldType() FieldType     { return FieldTypeText }
func (NumberOptions) FieldType() FieldType   { return FieldTypeNumber }
func (BoolOptions) FieldType() FieldType     { return FieldTypeBool }
func (EmailOptions) FieldType() FieldType    { return FieldTypeEmail }
func (URLOptions) FieldType() FieldType      { return FieldTypeURL }
func (EditorOptions) FieldType() FieldType   { return FieldTypeEditor }
func (DateOptions) FieldType() FieldType     { return FieldTypeDate }
func (SelectOptions) FieldType() FieldType   { return FieldTypeSelect }
func (JSONOptions) FieldType() FieldType     { return FieldTypeJSON }
func (FileOptions) FieldType() FieldType     { return FieldTypeFile }
func (RelationOptions) FieldType() FieldType { return FieldTypeRelation }

// defaultFieldOptions returns the zero options for a field type.
func defaultFieldOptions(fieldType FieldType) (FieldOptions, error) {
	switch fieldType {
	case FieldTypeText:
		return TextOptions{}, nil
	case FieldTypeNumber:
		return NumberOptions{}, nil
	case FieldTypeBool:
		return BoolOptions{}, nil
	case FieldTypeEmail:
		return EmailOptions{}, nil
	case FieldTypeURL:
		return URLOptions{}, nil
	case FieldTypeEditor:
		return EditorOptions{}, nil
	case FieldTypeDate:
		return DateOptions{}, nil
	case FieldTypeSelect:
		return SelectOptions{}, nil
	case FieldTypeJSON:
		return JSONOptions{}, nil
	case FieldTypeFile:
		return FileOptions{}, nil
	case FieldTypeRelation:
		return RelationOptions{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFieldType, fieldType)
	}
}

func cloneFieldOptions(options FieldOptions) FieldOptions {
	switch o := options.(type) {
	case TextOptions:
		o.Min = cloneInt(o.Min)
		o.Max = cloneInt(o.Max)
		return o
	case NumberOptions:
		o.Min = cloneFloat(o.Min)
		o.Max = cloneFloat(o.Max)
		return o
	case EmailOptions:
		o.ExceptDomains = cloneStrings(o.ExceptDomains)
		o.OnlyDomains = cloneStrings(o.OnlyDomains)
		return o
	case URLOptions:
		o.ExceptDomains = cloneStrings(o.ExceptDomains)
		o.OnlyDomains = cloneStrings(o.OnlyDomains)
		return o
	case SelectOptions:
		o.Values = cloneStrings(o.Values)
		return o
	case FileOptions:
		o.MimeTypes = cloneStrings(o.MimeTypes)
		o.Thumbs = cloneStrings(o.Thumbs)
		return o
	case RelationOptions:
		o.MinSelect = cloneInt(o.MinSelect)
		o.MaxSelect = cloneInt(o.MaxSelect)
		o.DisplayFields = cloneStrings(o.DisplayFields)
		return o
	default:
		return options
	}
}

// CollectionOptions is the kind-specific configuration of a collection.
type CollectionOptions interface {
	Kind() Kind
}

// BaseOptions configures base collections.
type BaseOptions struct{}

// AuthOptions configures auth collections.
type AuthOptions struct {
	AllowEmailAuth     bool     `json:"allowEmailAuth"`
	AllowOAuth2Auth    bool     `json:"allowOAuth2Auth"`
	AllowUsernameAuth  bool     `json:"allowUsernameAuth"`
	ExceptEmailDomains []string `json:"exceptEmailDomains"`
	ManageRule         *string  `json:"manageRule"`
	MinPasswordLength  int      `json:"minPasswordLength"`
	OnlyEmailDomains   []string `json:"onlyEmailDomains"`
	OnlyVerified       bool     `json:"onlyVerified"`
	RequireEmail       bool     `json:"requireEmail"`
}

// ViewOptions configures view collections.
type ViewOptions struct {
	Query string `json:"query"`
}

func (BaseOptions) Kind() Kind { return KindBase }
func (AuthOptions) Kind() Kind { return KindAuth }
func (ViewOptions) Kind() Kind { return KindView }

func defaultCollectionOptions(kind Kind) (CollectionOptions, error) {
	switch kind {
	case KindBase:
		return BaseOptions{}, nil
	case KindAuth:
		return AuthOptions{MinPasswordLength: 8}, nil
	case KindView:
		return ViewOptions{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func cloneCollectionOptions(options CollectionOptions) CollectionOptions {
	switch o := options.(type) {
	case AuthOptions:
		o.ExceptEmailDomains = cloneStrings(o.ExceptEmailDomains)
		o.OnlyEmailDomains = cloneStrings(o.OnlyEmailDomains)
		o.ManageRule = cloneString(o.ManageRule)
		return o
	default:
		return options
	}
}
