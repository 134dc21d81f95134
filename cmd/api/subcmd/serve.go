package subcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-runner/internal/adapters/gitsource"
	"github.com/melih/lighthouse-runner/internal/adapters/http"
	"github.com/melih/lighthouse-runner/internal/adapters/scenario"
	"github.com/melih/lighthouse-runner/internal/config"
	"github.com/melih/lighthouse-runner/internal/core/services"
)

func init() {
	RootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	var source *gitsource.Source
	if cfg.Scenarios.GitURL != "" {
		source = gitsource.New(gitsource.Options{
			URL: cfg.Scenarios.GitURL,
			Ref: cfg.Scenarios.GitRef,
			Dir: cfg.Scenarios.Dir,
		})
		if err := source.Sync(ctx); err != nil {
			logrus.WithError(err).Warn("Scenario repository sync failed, serving what is on disk")
		}
	}

	registry, err := scenario.NewRegistry(cfg.Scenarios.Dir)
	if err != nil {
		return err
	}

	manager := services.NewContainerManager(comps.runtime, comps.store, registry, services.ManagerConfig{
		LogTimeout: cfg.Runtime.LogTimeout,
	})
	settings := services.NewSettingsService(comps.settings)

	scheduler := services.NewScheduler()
	if err := scheduler.Add("reconcile", cfg.Reconcile.Schedule, func(ctx context.Context) error {
		_, err := manager.Reconcile(ctx)
		return err
	}); err != nil {
		return err
	}
	if cfg.Cleanup.Enabled {
		if err := scheduler.Add("cleanup", cfg.Cleanup.Schedule, func(ctx context.Context) error {
			_, err := manager.Cleanup(ctx, cfg.Cleanup.MaxAge)
			return err
		}); err != nil {
			return err
		}
	}
	if source != nil {
		if err := scheduler.Add("scenario-refresh", cfg.Scenarios.RefreshSchedule, func(ctx context.Context) error {
			if err := source.Sync(ctx); err != nil {
				return err
			}
			return registry.Reload()
		}); err != nil {
			return err
		}
	}
	scheduler.Start()

	app := http.NewRouter(http.RouterConfig{AllowedOrigins: cfg.Server.AllowedOrigins}, http.Handlers{
		Containers: http.NewContainerHandler(manager),
		Scenarios:  http.NewScenarioHandler(registry),
		Settings:   http.NewSettingsHandler(settings),
	})

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"address":   cfg.Server.Address,
			"runtime":   cfg.Runtime.Driver,
			"store":     cfg.Store.Driver,
			"scenarios": len(registry.List()),
		}).Info("Server starting")
		errCh <- app.Listen(cfg.Server.Address)
	}()

	select {
	case err := <-errCh:
		shutdownScheduler(scheduler)
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logrus.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown did not complete cleanly")
	}
	shutdownScheduler(scheduler)
	return nil
}

func shutdownScheduler(s *services.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Stop(ctx)
}
