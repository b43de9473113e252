package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/config"
	"github.com/nnnkkk7/duckbench/pkg/connection"
	"github.com/nnnkkk7/duckbench/pkg/dataset"
	"github.com/nnnkkk7/duckbench/pkg/export"
	"github.com/nnnkkk7/duckbench/pkg/session"
	"github.com/nnnkkk7/duckbench/server/handlers"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve workbench sessions over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("addr", config.DefaultServerAddr, "listen address")
	flags.String("history-dsn", "", "DuckDB database recording submitted queries")
	_ = a.v.BindPFlag("server.addr", flags.Lookup("addr"))
	_ = a.v.BindPFlag("server.history_dsn", flags.Lookup("history-dsn"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	engine, err := connection.Open(a.cfg.Engine)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			a.logger.Warn("failed to close engine", zap.Error(err))
		}
	}()

	opts := session.OptionsFromConfig(a.cfg.Query)
	sessions := session.NewManager(engine, opts, a.logger)
	if a.cfg.Server.HistoryDSN != "" {
		historyDB, err := connection.Open(config.EngineConfig{Driver: config.DriverDuckDB, DSN: a.cfg.Server.HistoryDSN})
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer func() { _ = historyDB.Close() }()

		history, err := session.NewHistoryStore(historyDB)
		if err != nil {
			return err
		}
		sessions = session.NewManagerWithHistory(engine, opts, history, a.logger)
	}

	results := session.NewResultStore(a.cfg.Server.ResultTTL)
	defer results.Close()

	var loader *dataset.Loader
	if a.cfg.Engine.Driver == config.DriverDuckDB {
		loader = dataset.NewLoader(engine, a.logger)
	}

	handler := handlers.NewWorkbenchHandler(sessions, results, export.NewExporter(a.uploader(), a.logger), loader, a.logger)
	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      handlers.NewRouter(handler, a.logger),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting duckbench",
			zap.String("addr", server.Addr),
			zap.String("driver", a.cfg.Engine.Driver))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		handler.Shutdown()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	handler.Shutdown()
	return err
}

// uploader returns the S3 uploader for s3:// destinations, or nil when it
// cannot be created.
func (a *app) uploader() s3manageriface.UploaderAPI {
	up, err := export.NewS3Uploader(a.cfg.S3)
	if err != nil {
		a.logger.Warn("s3 exports disabled", zap.Error(err))
		return nil
	}
	return up
}
