package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	maxIdentifierLength = 190
	maxNameLength       = 255
	maxPasswordLength   = 72
	minPasswordLength   = 5
)

var (
	identifierPattern = regexp.MustCompile(`^\w+$`)
	namePattern       = regexp.MustCompile(`^[a-zA-Z_]\w*$`)
	mimeTypePattern   = regexp.MustCompile(`^[\w.+-]+/[\w.+-]+$`)

	identifierRules = []validation.Rule{
		validation.Required,
		validation.Length(1, maxIdentifierLength),
		validation.Match(identifierPattern),
	}
	nameRules = []validation.Rule{
		validation.Required,
		validation.Length(1, maxNameLength),
		validation.Match(namePattern),
	}
)

// Validate checks a collection descriptor in isolation and returns a *SchemaError
// listing every violation, or nil.
func Validate(collection Collection) error {
	report := &SchemaError{CollectionID: collection.ID}

	report.merge("id", validation.Validate(collection.ID, identifierRules...))
	report.merge("name", validation.Validate(collection.Name, nameRules...))

	kind, err := ParseKind(string(collection.Kind))
	if err != nil {
		report.add("type", err.Error())
		return report
	}

	validateCollectionOptions(report, kind, collection.Options)
	validateFields(report, kind, collection.Fields)
	validateRules(report, collection)

	return report.orNil()
}

func validateCollectionOptions(report *SchemaError, kind Kind, options CollectionOptions) {
	if options == nil {
		if kind == KindView {
			report.add("options.query", "cannot be blank")
		}
		return
	}
	if options.Kind() != kind {
		report.add("options", fmt.Sprintf("options of kind %s do not match collection kind %s", options.Kind(), kind))
		return
	}
	switch o := options.(type) {
	case AuthOptions:
		report.merge("options", validation.ValidateStruct(&o,
			validation.Field(&o.MinPasswordLength, validation.Required, validation.Min(minPasswordLength), validation.Max(maxPasswordLength)),
		))
	case ViewOptions:
		report.merge("options", validation.ValidateStruct(&o,
			validation.Field(&o.Query, validation.Required),
		))
	}
}

func validateFields(report *SchemaError, kind Kind, fields []Field) {
	reserved := make(map[string]struct{})
	for _, name := range SystemFieldNames(kind) {
		reserved[strings.ToLower(name)] = struct{}{}
	}

	seenIDs := make(map[string]int, len(fields))
	seenNames := make(map[string]int, len(fields))
	for i, field := range fields {
		path := fmt.Sprintf("schema.%d", i)

		report.merge(path+".id", validation.Validate(field.ID, identifierRules...))
		report.merge(path+".name", validation.Validate(field.Name, nameRules...))

		if previous, ok := seenIDs[field.ID]; ok && field.ID != "" {
			report.add(path+".id", fmt.Sprintf("duplicates the id of schema.%d", previous))
		} else {
			seenIDs[field.ID] = i
		}

		nameKey := strings.ToLower(field.Name)
		if previous, ok := seenNames[nameKey]; ok && field.Name != "" {
			report.add(path+".name", fmt.Sprintf("duplicates the name of schema.%d", previous))
		} else {
			seenNames[nameKey] = i
		}
		if _, ok := reserved[nameKey]; ok {
			report.add(path+".name", fmt.Sprintf("%q is a reserved system field name", field.Name))
		}

		validateFieldOptions(report, path, field)
	}
}

func validateFieldOptions(report *SchemaError, path string, field Field) {
	if _, err := defaultFieldOptions(field.Type); err != nil {
		report.add(path+".type", err.Error())
		return
	}
	options := field.ResolvedOptions()
	if options.FieldType() != field.Type {
		report.add(path+".options", fmt.Sprintf("options of type %s do not match field type %s", options.FieldType(), field.Type))
		return
	}

	optionsPath := path + ".options"
	switch o := options.(type) {
	case TextOptions:
		report.merge(optionsPath, validation.ValidateStruct(&o,
			validation.Field(&o.Min, validation.Min(0)),
			validation.Field(&o.Max, validation.Min(0)),
			validation.Field(&o.Pattern, validation.By(validRegexp)),
		))
		if o.Min != nil && o.Max != nil && *o.Min > *o.Max {
			report.add(optionsPath+".max", "must be greater than or equal to min")
		}
	case NumberOptions:
		if o.Min != nil && o.Max != nil && *o.Min > *o.Max {
			report.add(optionsPath+".max", "must be greater than or equal to min")
		}
	case SelectOptions:
		report.merge(optionsPath, validation.ValidateStruct(&o,
			validation.Field(&o.MaxSelect, validation.Required, validation.Min(1)),
			validation.Field(&o.Values, validation.Required),
		))
	case JSONOptions:
		report.merge(optionsPath, validation.ValidateStruct(&o,
			validation.Field(&o.MaxSize, validation.Min(0)),
		))
	case FileOptions:
		report.merge(optionsPath, validation.ValidateStruct(&o,
			validation.Field(&o.MaxSize, validation.Required, validation.Min(1)),
			validation.Field(&o.MaxSelect, validation.Required, validation.Min(1)),
			validation.Field(&o.MimeTypes, validation.Each(validation.Match(mimeTypePattern))),
			validation.Field(&o.Thumbs, validation.Each(validation.By(validThumbSize))),
		))
	case RelationOptions:
		report.merge(optionsPath, validation.ValidateStruct(&o,
			validation.Field(&o.CollectionID, validation.Required),
			validation.Field(&o.MinSelect, validation.Min(0)),
			validation.Field(&o.MaxSelect, validation.Min(1)),
		))
	}
}

func validateRules(report *SchemaError, collection Collection) {
	known := make(map[string]struct{})
	for _, name := range SystemFieldNames(collection.Kind) {
		known[strings.ToLower(name)] = struct{}{}
	}
	for _, field := range collection.Fields {
		known[strings.ToLower(field.Name)] = struct{}{}
	}

	named := collection.Rules.named()
	if auth, ok := collection.Options.(AuthOptions); ok {
		named["options.manageRule"] = auth.ManageRule
	}
	keys := make([]string, 0, len(named))
	for key := range named {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rule := named[key]
		if rule == nil {
			continue
		}
		unknown, err := unknownRuleReferences(*rule, known)
		if err != nil {
			report.add(key, fmt.Sprintf("invalid rule: %v", err))
			continue
		}
		for _, identifier := range unknown {
			report.add(key, fmt.Sprintf("unknown field %q", identifier))
		}
	}
}

func (e *SchemaError) merge(path string, err error) {
	if err == nil {
		return
	}
	var fieldErrors validation.Errors
	if errors.As(err, &fieldErrors) {
		keys := make([]string, 0, len(fieldErrors))
		for key := range fieldErrors {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			e.merge(path+"."+key, fieldErrors[key])
		}
		return
	}
	e.add(path, err.Error())
}

func validRegexp(value interface{}) error {
	pattern, _ := value.(string)
	if pattern == "" {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return errors.New("must be a valid regular expression")
	}
	return nil
}

func validThumbSize(value interface{}) error {
	raw, _ := value.(string)
	if _, err := ParseThumbSize(raw); err != nil {
		return errors.New("must be in the format WxH with positive integers")
	}
	return nil
}
