package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/schemata/internal/records"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// jsonPayloadField carries the JSON data of a multipart record submission.
const jsonPayloadField = "@jsonPayload"

type recordPayload map[string]interface{}

type listResponsePayload struct {
	Page       int             `json:"page"`
	PerPage    int             `json:"perPage"`
	TotalItems int64           `json:"totalItems"`
	TotalPages int             `json:"totalPages"`
	Items      []recordPayload `json:"items"`
}

func (h *httpHandler) handleCreateRecord(c *gin.Context) {
	input, err := readRecordInput(c)
	if err != nil {
		h.writeDecodeError(c, err)
		return
	}

	record, err := h.records.Create(c.Request.Context(), principalFrom(c), c.Param("collection"), input)
	if err != nil {
		h.writeRecordError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRecordPayload(record, c.Param("collection")))
}

func (h *httpHandler) handleListRecords(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
		return
	}
	perPage, err := queryInt(c, "perPage")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_per_page"})
		return
	}

	result, err := h.records.List(c.Request.Context(), principalFrom(c), c.Param("collection"), page, perPage)
	if err != nil {
		h.writeRecordError(c, err)
		return
	}

	response := listResponsePayload{
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
		Items:      make([]recordPayload, 0, len(result.Items)),
	}
	for _, item := range result.Items {
		response.Items = append(response.Items, newRecordPayload(item, c.Param("collection")))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) writeRecordError(c *gin.Context, err error) {
	var invalid *records.InvalidRecordError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_record", "details": invalid.Errors})
	case errors.Is(err, records.ErrCollectionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "collection_not_found"})
	case errors.Is(err, records.ErrForbidden):
		if principalFrom(c) == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, records.ErrReadOnlyCollection):
		c.JSON(http.StatusBadRequest, gin.H{"error": "read_only_collection"})
	default:
		h.logger.Error("record request failed", zap.Error(err), zap.String("collection", c.Param("collection")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "records_failed"})
	}
}

// readRecordInput decodes a JSON body or a multipart form with file parts.
func readRecordInput(c *gin.Context) (records.Input, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		data := make(map[string]interface{})
		if err := json.NewDecoder(c.Request.Body).Decode(&data); err != nil {
			return records.Input{}, err
		}
		return records.Input{Data: data}, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return records.Input{}, err
	}
	input := records.Input{Data: make(map[string]interface{})}
	for key, values := range form.Value {
		if key == jsonPayloadField {
			continue
		}
		if len(values) == 1 {
			input.Data[key] = values[0]
		} else {
			items := make([]interface{}, 0, len(values))
			for _, value := range values {
				items = append(items, value)
			}
			input.Data[key] = items
		}
	}
	if payloads := form.Value[jsonPayloadField]; len(payloads) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(payloads[0]), &data); err != nil {
			return records.Input{}, err
		}
		for key, value := range data {
			input.Data[key] = value
		}
	}
	for field, headers := range form.File {
		for _, header := range headers {
			content, err := readPart(header)
			if err != nil {
				return records.Input{}, err
			}
			input.Files = append(input.Files, records.Upload{Field: field, Name: header.Filename, Content: content})
		}
	}
	return input, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func newRecordPayload(record store.Record, collectionName string) recordPayload {
	payload := make(recordPayload, len(record.Data)+4)
	for key, value := range record.Data {
		payload[key] = value
	}
	payload["id"] = record.ID
	payload["collectionId"] = record.CollectionID
	payload["collectionName"] = collectionName
	payload["created"] = record.Created
	return payload
}
