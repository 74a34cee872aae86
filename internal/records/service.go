package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/auth"
	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"go.uber.org/zap"
)

var (
	ErrCollectionNotFound = errors.New("records: collection not found")
	ErrForbidden          = errors.New("records: forbidden")
	ErrInvalidRecord      = errors.New("records: invalid record")
	ErrReadOnlyCollection = errors.New("records: collection does not accept records")

	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	// DefaultPerPage is the page size used when the caller does not ask for one.
	DefaultPerPage = 30
	// MaxPerPage bounds the page size of a listing.
	MaxPerPage = 500
)

// ServiceError wraps an unexpected failure with a machine readable code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "records.service.new"
	opCreateRecord  = "records.create"
	opListRecords   = "records.list"
	opLoadSchema    = "records.load_collection"
	reasonStoreFail = "store_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// InvalidRecordError lists the field-level problems of a rejected record.
type InvalidRecordError struct {
	CollectionID string
	Errors       []schema.FieldError
}

func (e *InvalidRecordError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fieldErr := range e.Errors {
		parts = append(parts, fieldErr.String())
	}
	return fmt.Sprintf("%v: collection %q: %s", ErrInvalidRecord, e.CollectionID, strings.Join(parts, "; "))
}

func (e *InvalidRecordError) Unwrap() error {
	return ErrInvalidRecord
}

// Upload is one file part of a record submission.
type Upload struct {
	Field   string
	Name    string
	Content []byte
}

// Input is a record submission.
type Input struct {
	Data  map[string]interface{}
	Files []Upload
}

// Page is one page of a record listing.
type Page struct {
	Page       int
	PerPage    int
	TotalItems int64
	TotalPages int
	Items      []store.Record
}

// ServiceConfig describes the dependencies of the record service.
type ServiceConfig struct {
	Store      store.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service stores records validated against the live schema of their collection.
type Service struct {
	store      store.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the record service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create validates the input against the collection schema and stores it.
// A nil principal is an anonymous caller.
func (s *Service) Create(ctx context.Context, principal *auth.Principal, collectionName string, input Input) (store.Record, error) {
	collection, err := s.collection(ctx, collectionName)
	if err != nil {
		return store.Record{}, err
	}
	if !Allowed(collection.Rules.Create, principal) {
		return store.Record{}, fmt.Errorf("%w: create on %s", ErrForbidden, collection.Name)
	}
	if collection.Kind == schema.KindView {
		return store.Record{}, fmt.Errorf("%w: %s is a view", ErrReadOnlyCollection, collection.Name)
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRecord, "id_generation_failed", err)
		return store.Record{}, newServiceError(opCreateRecord, "id_generation_failed", err)
	}

	builder := recordBuilder{collection: collection, fileSuffix: fileSuffix(recordID)}
	data, files := builder.build(input)
	if len(builder.errors) > 0 {
		return store.Record{}, &InvalidRecordError{CollectionID: collection.ID, Errors: builder.errors}
	}

	record := store.Record{
		ID:           recordID,
		CollectionID: collection.ID,
		Data:         data,
		Files:        files,
		Created:      s.clock().UTC().Format(store.TimestampLayout),
	}
	err = s.store.Transaction(ctx, func(tx store.Store) error {
		violations, err := uniqueViolations(ctx, tx, collection, data)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			return &InvalidRecordError{CollectionID: collection.ID, Errors: violations}
		}
		return tx.CreateRecord(ctx, record)
	})
	var invalid *InvalidRecordError
	if errors.As(err, &invalid) {
		return store.Record{}, invalid
	}
	if err != nil {
		s.logError(opCreateRecord, reasonStoreFail, err, zap.String("collection", collection.Name))
		return store.Record{}, newServiceError(opCreateRecord, reasonStoreFail, err)
	}

	s.logger.Info("record created",
		zap.String("collection", collection.Name),
		zap.String("record_id", recordID),
		zap.Int("files", len(files)))
	return record, nil
}

// List returns a page of records of the collection in creation order.
func (s *Service) List(ctx context.Context, principal *auth.Principal, collectionName string, page, perPage int) (Page, error) {
	collection, err := s.collection(ctx, collectionName)
	if err != nil {
		return Page{}, err
	}
	if !Allowed(collection.Rules.List, principal) {
		return Page{}, fmt.Errorf("%w: list on %s", ErrForbidden, collection.Name)
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	items, total, err := s.store.ListRecords(ctx, collection.ID, (page-1)*perPage, perPage)
	if err != nil {
		s.logError(opListRecords, reasonStoreFail, err, zap.String("collection", collection.Name))
		return Page{}, newServiceError(opListRecords, reasonStoreFail, err)
	}
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return Page{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
		Items:      items,
	}, nil
}

func (s *Service) collection(ctx context.Context, name string) (schema.Collection, error) {
	collection, err := s.store.CollectionByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return schema.Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		s.logError(opLoadSchema, reasonStoreFail, err, zap.String("collection", name))
		return schema.Collection{}, newServiceError(opLoadSchema, reasonStoreFail, err)
	}
	return collection, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("records service error", attrs...)
}

func fileSuffix(recordID string) string {
	compact := strings.ReplaceAll(recordID, "-", "")
	if len(compact) > 8 {
		compact = compact[len(compact)-8:]
	}
	return compact
}

// uniqueViolations reports the unique fields whose scalar value is already stored in the collection.
// List values, JSON documents and files are not checked.
func uniqueViolations(ctx context.Context, tx store.Store, collection schema.Collection, data map[string]interface{}) ([]schema.FieldError, error) {
	var violations []schema.FieldError
	for _, field := range collection.Fields {
		if !field.Unique || field.Type == schema.FieldTypeFile || field.Type == schema.FieldTypeJSON {
			continue
		}
		value, ok := data[field.Name]
		if !ok {
			continue
		}
		switch value.(type) {
		case string, float64, bool:
		default:
			continue
		}
		exists, err := tx.RecordValueExists(ctx, collection.ID, field.Name, value)
		if err != nil {
			return nil, err
		}
		if exists {
			violations = append(violations, schema.FieldError{Path: field.Name, Message: "value must be unique"})
		}
	}
	return violations, nil
}
