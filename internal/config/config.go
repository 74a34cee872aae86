package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "SCHEMATA"
	defaultHTTPAddress       = "0.0.0.0:8090"
	defaultDatabasePath      = "schemata.db"
	defaultLogLevel          = "info"
	defaultAuthIssuer        = "schemata"
	defaultAuthAudience      = "schemata-api"
	defaultTokenTTLMinutes   = 60
	defaultMigrationsDir     = "migrations"
	defaultAutoApply         = true
	defaultLockTTLSeconds    = 900
	defaultRecordsMaxBodyMiB = 64
)

// AppConfig captures runtime configuration for the CLI and the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SigningSecret       string
	AuthIssuer          string
	AuthAudience        string
	TokenTTL            time.Duration
	MigrationsDir       string
	AutoApplyMigrations bool
	MigrationLockTTL    time.Duration
	RecordsMaxBodyBytes int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("migrations.dir", defaultMigrationsDir)
	configViper.SetDefault("migrations.auto_apply", defaultAutoApply)
	configViper.SetDefault("migrations.lock_ttl_seconds", defaultLockTTLSeconds)
	configViper.SetDefault("records.max_body_bytes", defaultRecordsMaxBodyMiB<<20)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		AuthIssuer:          configViper.GetString("auth.issuer"),
		AuthAudience:        configViper.GetString("auth.audience"),
		TokenTTL:            time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		MigrationsDir:       configViper.GetString("migrations.dir"),
		AutoApplyMigrations: configViper.GetBool("migrations.auto_apply"),
		MigrationLockTTL:    time.Duration(configViper.GetInt("migrations.lock_ttl_seconds")) * time.Second,
		RecordsMaxBodyBytes: configViper.GetInt64("records.max_body_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.AuthAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.MigrationLockTTL <= 0 {
		return fmt.Errorf("migrations.lock_ttl_seconds must be positive")
	}
	if c.RecordsMaxBodyBytes <= 0 {
		return fmt.Errorf("records.max_body_bytes must be positive")
	}
	return nil
}

// RequireSigningSecret reports an error when no token signing secret is configured.
// Commands that only touch the schema run without one.
func (c AppConfig) RequireSigningSecret() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}
