package records

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var unsafeFileNameChars = regexp.MustCompile(`[^\w.-]+`)

// recordBuilder turns client input into stored record data for one collection.
type recordBuilder struct {
	collection schema.Collection
	fileSuffix string
	errors     []schema.FieldError
}

func (b *recordBuilder) fail(path, format string, args ...interface{}) {
	b.errors = append(b.errors, schema.FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (b *recordBuilder) build(input Input) (map[string]interface{}, []store.File) {
	data := make(map[string]interface{}, len(b.collection.Fields))
	var files []store.File

	uploads := make(map[string][]Upload)
	for _, upload := range input.Files {
		field, ok := b.collection.FieldByName(upload.Field)
		if !ok || field.Type != schema.FieldTypeFile {
			b.fail(upload.Field, "is not a file field")
			continue
		}
		uploads[field.Name] = append(uploads[field.Name], upload)
	}

	for _, field := range b.collection.Fields {
		if field.System {
			continue
		}
		if field.Type == schema.FieldTypeFile {
			value, stored := b.files(field, uploads[field.Name])
			if value != nil {
				data[field.Name] = value
				files = append(files, stored...)
			}
			continue
		}

		raw, present := input.Data[field.Name]
		if !present || blank(raw) {
			if field.Required {
				b.fail(field.Name, "cannot be blank")
			}
			continue
		}
		if value, ok := b.value(field, raw); ok {
			data[field.Name] = value
		}
	}
	return data, files
}

func (b *recordBuilder) value(field schema.Field, raw interface{}) (interface{}, bool) {
	path := field.Name
	switch options := field.ResolvedOptions().(type) {
	case schema.TextOptions:
		text, ok := raw.(string)
		if !ok {
			b.fail(path, "must be a string")
			return nil, false
		}
		length := utf8.RuneCountInString(text)
		if options.Min != nil && length < *options.Min {
			b.fail(path, "must be at least %d characters", *options.Min)
			return nil, false
		}
		if options.Max != nil && *options.Max > 0 && length > *options.Max {
			b.fail(path, "must be at most %d characters", *options.Max)
			return nil, false
		}
		if options.Pattern != "" {
			pattern, err := regexp.Compile(options.Pattern)
			if err != nil || !pattern.MatchString(text) {
				b.fail(path, "must match %s", options.Pattern)
				return nil, false
			}
		}
		return text, true
	case schema.EditorOptions:
		text, ok := raw.(string)
		if !ok {
			b.fail(path, "must be a string")
			return nil, false
		}
		return text, true
	case schema.NumberOptions:
		number, ok := toNumber(raw)
		if !ok {
			b.fail(path, "must be a number")
			return nil, false
		}
		if options.NoDecimal && number != float64(int64(number)) {
			b.fail(path, "must be an integer")
			return nil, false
		}
		if options.Min != nil && number < *options.Min {
			b.fail(path, "must be no less than %v", *options.Min)
			return nil, false
		}
		if options.Max != nil && number > *options.Max {
			b.fail(path, "must be no greater than %v", *options.Max)
			return nil, false
		}
		return number, true
	case schema.BoolOptions:
		switch value := raw.(type) {
		case bool:
			return value, true
		case string:
			parsed, err := strconv.ParseBool(value)
			if err == nil {
				return parsed, true
			}
		}
		b.fail(path, "must be a boolean")
		return nil, false
	case schema.EmailOptions:
		text, ok := raw.(string)
		if !ok || validation.Validate(text, is.EmailFormat) != nil {
			b.fail(path, "must be a valid email address")
			return nil, false
		}
		domain := text[strings.LastIndex(text, "@")+1:]
		if !domainAllowed(domain, options.OnlyDomains, options.ExceptDomains) {
			b.fail(path, "domain %s is not allowed", domain)
			return nil, false
		}
		return text, true
	case schema.URLOptions:
		text, ok := raw.(string)
		if !ok || validation.Validate(text, is.URL) != nil {
			b.fail(path, "must be a valid URL")
			return nil, false
		}
		parsed, err := url.Parse(text)
		if err != nil || !domainAllowed(parsed.Hostname(), options.OnlyDomains, options.ExceptDomains) {
			b.fail(path, "domain is not allowed")
			return nil, false
		}
		return text, true
	case schema.DateOptions:
		text, ok := raw.(string)
		if !ok {
			b.fail(path, "must be a date string")
			return nil, false
		}
		moment, ok := parseDate(text)
		if !ok {
			b.fail(path, "must be a valid date")
			return nil, false
		}
		if bound, ok := parseDate(options.Min); ok && moment.Before(bound) {
			b.fail(path, "must not be before %s", options.Min)
			return nil, false
		}
		if bound, ok := parseDate(options.Max); ok && moment.After(bound) {
			b.fail(path, "must not be after %s", options.Max)
			return nil, false
		}
		return moment.UTC().Format(store.TimestampLayout), true
	case schema.SelectOptions:
		values, ok := toStrings(raw)
		if !ok {
			b.fail(path, "must be a string or a list of strings")
			return nil, false
		}
		if options.MaxSelect > 0 && len(values) > options.MaxSelect {
			b.fail(path, "must select at most %d values", options.MaxSelect)
			return nil, false
		}
		for _, value := range values {
			if !contains(options.Values, value) {
				b.fail(path, "value %q is not allowed", value)
				return nil, false
			}
		}
		if options.MaxSelect <= 1 {
			return values[0], true
		}
		return values, true
	case schema.JSONOptions:
		raw = decodeJSONText(raw)
		encoded, err := json.Marshal(raw)
		if err != nil {
			b.fail(path, "must be valid JSON")
			return nil, false
		}
		if options.MaxSize > 0 && int64(len(encoded)) > options.MaxSize {
			b.fail(path, "must be no more than %s", humanize.Bytes(uint64(options.MaxSize)))
			return nil, false
		}
		return raw, true
	case schema.RelationOptions:
		ids, ok := toStrings(raw)
		if !ok {
			b.fail(path, "must be a record id or a list of record ids")
			return nil, false
		}
		if options.MaxSelect != nil && *options.MaxSelect > 0 && len(ids) > *options.MaxSelect {
			b.fail(path, "must reference at most %d records", *options.MaxSelect)
			return nil, false
		}
		if options.MaxSelect != nil && *options.MaxSelect == 1 {
			return ids[0], true
		}
		return ids, true
	default:
		b.fail(path, "unsupported field type %s", field.Type)
		return nil, false
	}
}

// files checks the uploads of one file field against its options and returns the stored names.
func (b *recordBuilder) files(field schema.Field, uploads []Upload) (interface{}, []store.File) {
	options, _ := field.ResolvedOptions().(schema.FileOptions)
	if len(uploads) == 0 {
		if field.Required {
			b.fail(field.Name, "cannot be blank")
		}
		return nil, nil
	}
	if options.MaxSelect > 0 && len(uploads) > options.MaxSelect {
		b.fail(field.Name, "must contain at most %d files", options.MaxSelect)
		return nil, nil
	}

	names := make([]string, 0, len(uploads))
	stored := make([]store.File, 0, len(uploads))
	for index, upload := range uploads {
		size := int64(len(upload.Content))
		if options.MaxSize > 0 && size > options.MaxSize {
			b.fail(field.Name, "%s is %s, over the %s limit", upload.Name,
				humanize.Bytes(uint64(size)), humanize.Bytes(uint64(options.MaxSize)))
			return nil, nil
		}
		detected := mimetype.Detect(upload.Content)
		if !options.AllowsMime(detected.String()) {
			b.fail(field.Name, "%s has type %s which is not allowed", upload.Name, detected.String())
			return nil, nil
		}
		name := storedFileName(upload.Name, detected.Extension(), fmt.Sprintf("%s%d", b.fileSuffix, index))
		names = append(names, name)
		stored = append(stored, store.File{
			Field:       field.Name,
			Name:        name,
			ContentType: detected.String(),
			Size:        size,
			Content:     append([]byte{}, upload.Content...),
		})
	}

	if options.MaxSelect <= 1 {
		return names[0], stored
	}
	return names, stored
}

func storedFileName(original, detectedExt, suffix string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = detectedExt
	}
	stem = strings.Trim(unsafeFileNameChars.ReplaceAllString(stem, "_"), "_")
	if stem == "" || stem == "." {
		stem = "file"
	}
	if len(stem) > 100 {
		stem = stem[:100]
	}
	ext = unsafeFileNameChars.ReplaceAllString(strings.ToLower(ext), "")
	return stem + "_" + suffix + ext
}

// decodeJSONText parses a string holding a JSON document, as sent in form fields.
// Any other string stays a JSON string.
func decodeJSONText(value interface{}) interface{} {
	text, ok := value.(string)
	if !ok || !json.Valid([]byte(text)) {
		return value
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return value
	}
	return decoded
}

func blank(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}

func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return parsed, err == nil
	}
	return 0, false
}

func toStrings(value interface{}) ([]string, bool) {
	switch v := value.(type) {
	case string:
		return []string{v}, true
	case []string:
		return v, len(v) > 0
	case []interface{}:
		values := make([]string, 0, len(v))
		for _, item := range v {
			text, ok := item.(string)
			if !ok {
				return nil, false
			}
			values = append(values, text)
		}
		return values, len(values) > 0
	}
	return nil, false
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{store.TimestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func domainAllowed(domain string, only, except []string) bool {
	domain = strings.ToLower(domain)
	if len(only) > 0 {
		return containsFold(only, domain)
	}
	return !containsFold(except, domain)
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

func containsFold(values []string, value string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, value) {
			return true
		}
	}
	return false
}
