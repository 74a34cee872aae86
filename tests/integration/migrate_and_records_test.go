package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/auth"
	"github.com/MarcoPoloResearchLab/schemata/internal/importer"
	"github.com/MarcoPoloResearchLab/schemata/internal/migrations"
	"github.com/MarcoPoloResearchLab/schemata/internal/records"
	"github.com/MarcoPoloResearchLab/schemata/internal/server"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	signingSecret   = "integration-secret"
	tokenIssuerName = "schemata"
	tokenAudience   = "schemata-api"
	jsonContentType = "application/json"
)

type stack struct {
	store   *store.SQLStore
	runner  *migrations.Runner
	handler http.Handler
}

func openStack(t *testing.T, databasePath, migrationsDir string) *stack {
	t.Helper()
	sqlStore, err := store.OpenSQLite(store.Config{Path: databasePath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlStore.Close()
	})

	registry, err := migrations.NewProjectRegistry(os.DirFS(migrationsDir), ".")
	if err != nil {
		t.Fatalf("failed to load migrations: %v", err)
	}
	runner, err := migrations.NewRunner(migrations.RunnerConfig{Store: sqlStore, Registry: registry, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}
	recordsService, err := records.NewService(records.ServiceConfig{Store: sqlStore, IDProvider: records.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build records service: %v", err)
	}
	issuer := newIssuer(t)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         issuer,
		Store:          sqlStore,
		Importer:       importer.New(nil),
		Runner:         runner,
		RecordsService: recordsService,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &stack{store: sqlStore, runner: runner, handler: handler}
}

func newIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        tokenIssuerName,
		Audience:      tokenAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	return issuer
}

func (s *stack) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		payload = encoded
	}
	request := httptest.NewRequest(method, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestSnapshotMigrationLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	dir := t.TempDir()
	databasePath := filepath.Join(dir, "schemata.db")
	migrationsDir := filepath.Join(dir, "migrations")

	adminToken, _, err := newIssuer(t).IssueToken(ctx, "root", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	first := openStack(t, databasePath, migrationsDir)
	if recorder := first.request(t, http.MethodPost, "/api/migrations/up", adminToken, nil); recorder.Code != http.StatusOK {
		t.Fatalf("initial migrate failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if recorder := first.request(t, http.MethodPost, "/api/collections/errors/records", "", map[string]interface{}{
		"type":  "panic",
		"error": "boom",
		"raw":   map[string]interface{}{"stack": "main.go:1"},
	}); recorder.Code != http.StatusOK {
		t.Fatalf("record create failed: %d %s", recorder.Code, recorder.Body.String())
	}

	var exported []map[string]interface{}
	if err := json.Unmarshal(first.request(t, http.MethodGet, "/api/collections", adminToken, nil).Body.Bytes(), &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	exported = append(exported, map[string]interface{}{
		"id": "audit000000001", "name": "audit", "type": "base", "system": false,
		"schema": []interface{}{
			map[string]interface{}{"system": false, "id": "a_action", "name": "action", "type": "text", "required": true, "presentable": false, "unique": false, "options": map[string]interface{}{}},
		},
		"indexes": []interface{}{}, "listRule": nil, "viewRule": nil, "createRule": "", "updateRule": nil, "deleteRule": nil,
		"options": map[string]interface{}{},
	})
	snapshot, err := json.Marshal(exported)
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	if err := first.store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	document := []byte(`{"name":"1750000000_add_audit","sequence":1750000000,"deleteMissing":true,"revert":"previous","collections":` + string(snapshot) + `}`)
	if err := os.WriteFile(filepath.Join(migrationsDir, "1750000000_add_audit.json"), document, 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}

	second := openStack(t, databasePath, migrationsDir)
	if recorder := second.request(t, http.MethodPost, "/api/migrations/up", adminToken, nil); recorder.Body.String() != `{"applied":1}` {
		t.Fatalf("expected the project snapshot to apply, got %s", recorder.Body.String())
	}
	if recorder := second.request(t, http.MethodPost, "/api/collections/audit/records", "", map[string]interface{}{"action": "login"}); recorder.Code != http.StatusOK {
		t.Fatalf("audit record create failed: %d %s", recorder.Code, recorder.Body.String())
	}

	if recorder := second.request(t, http.MethodPost, "/api/migrations/down", adminToken, map[string]int{"count": 1}); recorder.Code != http.StatusOK {
		t.Fatalf("revert failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if _, err := second.store.CollectionByName(ctx, "audit"); err == nil {
		t.Fatalf("expected audit collection to be removed by the revert")
	}

	var page struct {
		TotalItems int64 `json:"totalItems"`
	}
	recorder := second.request(t, http.MethodGet, "/api/collections/errors/records", "", nil)
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.TotalItems != 1 {
		t.Fatalf("expected records of the built-in collections to survive, got %d", page.TotalItems)
	}
}
