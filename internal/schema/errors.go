package schema

import (
	"fmt"
	"strings"
)

// FieldError is one constraint violation inside a collection descriptor.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// SchemaError reports constraint violations found in a single collection descriptor.
type SchemaError struct {
	CollectionID string
	Errors       []FieldError
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fieldErr := range e.Errors {
		parts = append(parts, fieldErr.String())
	}
	return fmt.Sprintf("schema: collection %q: %s", e.CollectionID, strings.Join(parts, "; "))
}

func (e *SchemaError) add(path, message string) {
	e.Errors = append(e.Errors, FieldError{Path: path, Message: message})
}

func (e *SchemaError) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Validation error codes.
const (
	CodeDuplicateID    = "duplicate_id"
	CodeDuplicateName  = "duplicate_name"
	CodeNameConflict   = "name_conflict"
	CodeKindChange     = "kind_change"
	CodeSystemChange   = "system_change"
	CodeMissingRelated = "missing_related_collection"
)

// ValidationError reports a conflict between descriptors of a snapshot and the live schema.
type ValidationError struct {
	CollectionID string
	code         string
	message      string
}

// NewValidationError constructs a ValidationError for the offending collection.
func NewValidationError(collectionID, code, message string) *ValidationError {
	return &ValidationError{CollectionID: collectionID, code: code, message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: collection %q: %s: %s", e.CollectionID, e.code, e.message)
}

// Code returns the machine readable conflict code.
func (e *ValidationError) Code() string {
	return e.code
}
