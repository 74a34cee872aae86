package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/MarcoPoloResearchLab/schemata/internal/config"
	"github.com/MarcoPoloResearchLab/schemata/internal/logging"
	"github.com/MarcoPoloResearchLab/schemata/internal/migrations"
	"github.com/MarcoPoloResearchLab/schemata/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		for _, single := range multierr.Errors(err) {
			fmt.Fprintln(os.Stderr, "error:", single)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "schemata",
		Short:         "Declarative collection schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newCollectionsCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Token TTL in minutes")
	cmd.PersistentFlags().String("migrations-dir", defaults.GetString("migrations.dir"), "Directory of JSON snapshot migrations")
	cmd.PersistentFlags().Bool("auto-migrate", defaults.GetBool("migrations.auto_apply"), "Apply pending migrations when serving")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "migrations.dir", "migrations-dir")
	bindFlag(cmd, "migrations.auto_apply", "auto-migrate")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("schemata")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// application holds what every command needs: configuration, logger, store and runner.
type application struct {
	cfg      config.AppConfig
	logger   *zap.Logger
	store    *store.SQLStore
	registry *migrations.Registry
	runner   *migrations.Runner
}

func openApplication(console bool) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	newLogger := logging.NewLogger
	if console {
		newLogger = logging.NewConsoleLogger
	}
	logger, err := newLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	registry, err := migrations.NewProjectRegistry(migrationsFS(appConfig.MigrationsDir), ".")
	if err != nil {
		return nil, fmt.Errorf("load migrations from %s: %w", appConfig.MigrationsDir, err)
	}

	sqlStore, err := store.OpenSQLite(store.Config{Path: appConfig.DatabasePath, Logger: logger})
	if err != nil {
		return nil, err
	}

	runner, err := migrations.NewRunner(migrations.RunnerConfig{
		Store:    sqlStore,
		Registry: registry,
		Logger:   logger,
		LockTTL:  appConfig.MigrationLockTTL,
	})
	if err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	return &application{
		cfg:      appConfig,
		logger:   logger,
		store:    sqlStore,
		registry: registry,
		runner:   runner,
	}, nil
}

func (a *application) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func migrationsFS(dir string) fs.FS {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	return os.DirFS(dir)
}
