package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ratecheck/config"
	"ratecheck/export"
	"ratecheck/handlers"
	"ratecheck/middleware"
	"ratecheck/models"
	"ratecheck/scheduler"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

var servePort string

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Listen port (overrides PORT).")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the rate check API and the optional scheduled batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.Load()
		if servePort != "" {
			cfg.Port = servePort
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		logger := a.logger

		tm := scheduler.NewTaskManager(a.coord, cfg.TaskManagerOptions(), logger)
		defer tm.Stop()

		if cfg.ScheduleEnabled() {
			checker := scheduler.NewRateChecker(a.coord, config.BatchLoader(cfg.BatchFile), exportSink(cfg.ExportDir, a), logger)
			if err := checker.Start(cfg.Schedule, false); err != nil {
				return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
			}
			defer checker.Stop()
			logger.Info("scheduled rate checks enabled", "schedule", cfg.Schedule, "batch", cfg.BatchFile)
		}

		h := handlers.NewHandlers(tm, cfg.MaxRequestSize, version, logger)

		r := mux.NewRouter()
		r.Use(middleware.Logging(logger))
		r.Use(middleware.RateLimit(cfg.RateLimit))
		r.Use(middleware.AccessGate(cfg.AccessHash))
		r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
		r.HandleFunc("/metrics", h.Metrics).Methods(http.MethodGet)
		h.Register(r.PathPrefix("/api/v1").Subrouter())

		srv := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           middleware.CORS(cfg.CORSOrigins).Handler(r),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("api listening", "addr", srv.Addr, "workers", cfg.Workers, "concurrency", a.coord.Concurrency())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

// exportSink writes each scheduled run to a CSV in dir.
func exportSink(dir string, a *app) scheduler.ResultSink {
	return func(ctx context.Context, table *models.ResultTable, currency string) error {
		path, err := export.SaveCSV(dir, currency, table, export.LayoutOf(table))
		if err != nil {
			return err
		}
		a.logger.Info("scheduled results exported", "path", path, "summary", table.Summary().Message())
		return nil
	}
}
