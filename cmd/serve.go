package cmd

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"spotfinder/database"
	"spotfinder/handlers"
	"spotfinder/models"
	"spotfinder/repository"
	"spotfinder/scheduler"
	"spotfinder/scraper"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the HTTP API and the tracked search scheduler.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		if err := cfg.API.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		browser, err := scraper.NewRodBrowser(cfg.Browser, log)
		if err != nil {
			return err
		}
		defer browser.Close()

		finder := scraper.NewSpotFinder(browser, cfg.Scraper, log)
		spot := func(ctx context.Context, req models.SpotRequest) (*models.SpotResult, error) {
			return finder.FindSpot(ctx, req.SearchCategory, req.ProductName, scraper.FindOptions{SaveDebug: req.SaveDebug})
		}

		tasks := scheduler.NewTaskManager(spot, scheduler.TaskManagerOptions{
			MaxWorkers: cfg.Scheduler.MaxWorkers,
			QueueSize:  cfg.Scheduler.QueueSize,
			Timeout:    cfg.Server.RequestTimeout,
		}, log)
		defer tasks.Stop()

		deps := handlers.Deps{
			Tasks:          tasks,
			RequestTimeout: cfg.Server.RequestTimeout,
			Logger:         log,
		}

		if cfg.Database.URL != "" {
			db, err := openDatabase(ctx, cfg.Database.URL, log)
			if err != nil {
				return err
			}
			defer db.Close()

			repo := repository.NewTrackedSearchRepository(db)
			checker := scheduler.NewRankChecker(repo, tasks.Do, cfg.Scheduler.Spec, cfg.Scheduler.CheckTimeout, log)
			deps.Tracked = repo
			deps.Checker = checker

			if cfg.Scheduler.Enabled {
				if err := checker.Start(); err != nil {
					return err
				}
				defer checker.Stop()
			}
		} else {
			log.Warn("⚠️ No database configured, tracked searches are disabled")
		}

		srv := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           handlers.NewRouter(handlers.NewHandlers(deps), cfg.Server, cfg.API, log),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("🌐 Server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("🛑 Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func openDatabase(ctx context.Context, url string, log *zap.Logger) (*sql.DB, error) {
	db, err := database.Connect(ctx, url, log)
	if err != nil {
		return nil, err
	}
	if err := database.CreateTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
