package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/auth"
	"github.com/MarcoPoloResearchLab/schemata/internal/importer"
	"github.com/MarcoPoloResearchLab/schemata/internal/records"
	"github.com/MarcoPoloResearchLab/schemata/internal/server"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin and record HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := openApplication(false)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.cfg.RequireSigningSecret(); err != nil {
		return err
	}

	if app.cfg.AutoApplyMigrations {
		applied, err := app.runner.ApplyPending(ctx)
		if err != nil {
			return err
		}
		app.logger.Info("startup migrations complete", zap.Int("applied", applied))
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(app.cfg.SigningSecret),
		Issuer:        app.cfg.AuthIssuer,
		Audience:      app.cfg.AuthAudience,
		TokenTTL:      app.cfg.TokenTTL,
	})
	if err != nil {
		return err
	}

	recordsService, err := records.NewService(records.ServiceConfig{
		Store:      app.store,
		Clock:      time.Now,
		IDProvider: records.NewUUIDProvider(),
		Logger:     app.logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuer,
		Store:          app.store,
		Importer:       importer.New(app.logger),
		Runner:         app.runner,
		RecordsService: recordsService,
		Logger:         app.logger,
		MaxBodyBytes:   app.cfg.RecordsMaxBodyBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.cfg.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting",
			zap.String("address", app.cfg.HTTPAddress),
			zap.String("max_body", humanize.IBytes(uint64(app.cfg.RecordsMaxBodyBytes))))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
