package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/auth"
	"github.com/MarcoPoloResearchLab/schemata/internal/importer"
	"github.com/MarcoPoloResearchLab/schemata/internal/migrations"
	"github.com/MarcoPoloResearchLab/schemata/internal/records"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	principalContextKey = "schemata_principal"
	defaultMaxBodyBytes = 64 << 20
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingStore          = errors.New("store dependency required")
	errMissingRunner         = errors.New("migration runner dependency required")
	errMissingRecordsService = errors.New("records service dependency required")
)

// TokenValidator turns a bearer token into the calling principal.
type TokenValidator interface {
	ValidateToken(token string) (auth.Principal, error)
}

// MigrationRunner applies and reverts registered migrations.
type MigrationRunner interface {
	ApplyPending(ctx context.Context) (int, error)
	RevertLast(ctx context.Context, n int) (int, error)
	Status(ctx context.Context) ([]migrations.Status, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Tokens         TokenValidator
	Store          store.Store
	Importer       *importer.Importer
	Runner         MigrationRunner
	RecordsService *records.Service
	Logger         *zap.Logger
	MaxBodyBytes   int64
}

// NewHTTPHandler builds the gin engine serving the admin and record APIs.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Runner == nil {
		return nil, errMissingRunner
	}
	if deps.RecordsService == nil {
		return nil, errMissingRecordsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schemaImporter := deps.Importer
	if schemaImporter == nil {
		schemaImporter = importer.New(logger)
	}
	maxBodyBytes := deps.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.MaxMultipartMemory = maxBodyBytes

	handler := &httpHandler{
		tokens:       deps.Tokens,
		store:        deps.Store,
		importer:     schemaImporter,
		runner:       deps.Runner,
		records:      deps.RecordsService,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}

	api := router.Group("/api")
	api.Use(handler.limitBody)
	api.GET("/health", handler.handleHealth)

	admin := api.Group("/")
	admin.Use(handler.authorizeRequest, handler.requireAdmin)
	admin.GET("/collections", handler.handleExportCollections)
	admin.PUT("/collections/import", handler.handleImportCollections)
	admin.GET("/migrations", handler.handleMigrationStatus)
	admin.POST("/migrations/up", handler.handleMigrationsUp)
	admin.POST("/migrations/down", handler.handleMigrationsDown)

	recordRoutes := api.Group("/collections/:collection/records")
	recordRoutes.Use(handler.identifyRequest)
	recordRoutes.POST("", handler.handleCreateRecord)
	recordRoutes.GET("", handler.handleListRecords)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens       TokenValidator
	store        store.Store
	importer     *importer.Importer
	runner       MigrationRunner
	records      *records.Service
	logger       *zap.Logger
	maxBodyBytes int64
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) limitBody(c *gin.Context) {
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	c.Next()
}

// authorizeRequest requires a valid bearer token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := auth.BearerToken(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	principal, ok := h.validate(c, token)
	if !ok {
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

// identifyRequest resolves the principal when a token is present and lets anonymous callers through.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	token, err := auth.BearerToken(c.Request)
	if err != nil {
		c.Next()
		return
	}
	principal, ok := h.validate(c, token)
	if !ok {
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func (h *httpHandler) validate(c *gin.Context, token string) (auth.Principal, bool) {
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Principal{}, false
	}
	return principal, true
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	principal := principalFrom(c)
	if principal == nil || !principal.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func principalFrom(c *gin.Context) *auth.Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return nil
	}
	principal, ok := value.(auth.Principal)
	if !ok {
		return nil
	}
	return &principal
}

func isBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
