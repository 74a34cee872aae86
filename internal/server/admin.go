package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/importer"
	"github.com/MarcoPoloResearchLab/schemata/internal/migrations"
	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type importRequestPayload struct {
	Collections   *schema.Snapshot `json:"collections"`
	DeleteMissing bool             `json:"deleteMissing"`
}

type importResponsePayload struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Deleted   []string `json:"deleted"`
	Unchanged []string `json:"unchanged"`
}

type revertRequestPayload struct {
	Count *int `json:"count"`
}

type migrationStatusPayload struct {
	Name       string     `json:"name"`
	Sequence   int64      `json:"sequence"`
	Applied    bool       `json:"applied"`
	AppliedAt  *time.Time `json:"appliedAt"`
	Registered bool       `json:"registered"`
}

type schemaErrorPayload struct {
	CollectionID string              `json:"collectionId"`
	Code         string              `json:"code"`
	Message      string              `json:"message,omitempty"`
	Errors       []schema.FieldError `json:"errors,omitempty"`
}

func (h *httpHandler) handleExportCollections(c *gin.Context) {
	snapshot, err := h.importer.Export(c.Request.Context(), h.store)
	if err != nil {
		h.logger.Error("failed to export collections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleImportCollections(c *gin.Context) {
	var request importRequestPayload
	if err := json.NewDecoder(c.Request.Body).Decode(&request); err != nil || request.Collections == nil {
		h.writeDecodeError(c, err)
		return
	}

	result, err := h.importer.Import(c.Request.Context(), h.store, *request.Collections, importer.Options{
		DeleteMissing: request.DeleteMissing,
	})
	if err != nil {
		if details, ok := schemaErrorDetails(err); ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_schema", "details": details})
			return
		}
		h.logger.Error("failed to import collections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}

	c.JSON(http.StatusOK, importResponsePayload{
		Created:   nonNil(result.Created),
		Updated:   nonNil(result.Updated),
		Deleted:   nonNil(result.Deleted),
		Unchanged: nonNil(result.Unchanged),
	})
}

func (h *httpHandler) handleMigrationStatus(c *gin.Context) {
	statuses, err := h.runner.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read migration status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	response := make([]migrationStatusPayload, 0, len(statuses))
	for _, status := range statuses {
		payload := migrationStatusPayload{
			Name:       status.Name,
			Sequence:   status.Sequence,
			Applied:    status.Applied,
			Registered: status.Registered,
		}
		if status.Applied {
			appliedAt := status.AppliedAt.UTC()
			payload.AppliedAt = &appliedAt
		}
		response = append(response, payload)
	}
	c.JSON(http.StatusOK, gin.H{"migrations": response})
}

func (h *httpHandler) handleMigrationsUp(c *gin.Context) {
	applied, err := h.runner.ApplyPending(c.Request.Context())
	if err != nil {
		h.writeMigrationError(c, err, gin.H{"applied": applied})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (h *httpHandler) handleMigrationsDown(c *gin.Context) {
	var request revertRequestPayload
	if err := json.NewDecoder(c.Request.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		h.writeDecodeError(c, err)
		return
	}
	count := 1
	if request.Count != nil {
		count = *request.Count
	}
	if count < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_count"})
		return
	}

	reverted, err := h.runner.RevertLast(c.Request.Context(), count)
	if err != nil {
		h.writeMigrationError(c, err, gin.H{"reverted": reverted})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reverted": reverted})
}

func (h *httpHandler) writeMigrationError(c *gin.Context, err error, body gin.H) {
	switch {
	case errors.Is(err, store.ErrLocked):
		body["error"] = "migrations_locked"
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, migrations.ErrMigrationNotFound):
		body["error"] = "migration_not_registered"
		body["message"] = err.Error()
		c.JSON(http.StatusConflict, body)
	default:
		if details, ok := schemaErrorDetails(err); ok {
			body["error"] = "invalid_schema"
			body["details"] = details
			c.JSON(http.StatusUnprocessableEntity, body)
			return
		}
		h.logger.Error("migration run failed", zap.Error(err))
		body["error"] = "migration_failed"
		body["message"] = err.Error()
		c.JSON(http.StatusInternalServerError, body)
	}
}

func (h *httpHandler) writeDecodeError(c *gin.Context, err error) {
	if isBodyTooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body_too_large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}

// schemaErrorDetails flattens schema and validation errors into response details.
func schemaErrorDetails(err error) ([]schemaErrorPayload, bool) {
	var details []schemaErrorPayload
	for _, single := range multierr.Errors(err) {
		var schemaErr *schema.SchemaError
		var validationErr *schema.ValidationError
		switch {
		case errors.As(single, &schemaErr):
			details = append(details, schemaErrorPayload{
				CollectionID: schemaErr.CollectionID,
				Code:         "invalid_descriptor",
				Errors:       schemaErr.Errors,
			})
		case errors.As(single, &validationErr):
			details = append(details, schemaErrorPayload{
				CollectionID: validationErr.CollectionID,
				Code:         validationErr.Code(),
				Message:      validationErr.Error(),
			})
		}
	}
	return details, len(details) > 0
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
