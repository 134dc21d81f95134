package subcmd

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-runner/internal/config"
	"github.com/melih/lighthouse-runner/internal/core/services"
)

var cleanupMaxAge time.Duration

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "remove containers older than this (defaults to cleanup.maxAge)")
	RootCmd.AddCommand(cleanupCmd)
}

// checkCleanupConfig rejects setups where a one-shot process starts with
// nothing to clean: an in-memory engine next to an in-memory store. The
// docker runtime is fine with any store since cleanup also sweeps managed
// containers that have no record.
func checkCleanupConfig(cfg *config.Config) error {
	if cfg.Runtime.Driver == "memory" && cfg.Store.Driver == "memory" {
		return errors.New("cleanup needs runtime.driver=docker or store.driver=redis, an in-memory runtime and store hold nothing in a new process")
	}
	return nil
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove containers older than the maximum age once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkCleanupConfig(cfg); err != nil {
			return err
		}
		comps, err := buildComponents(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		maxAge := cfg.Cleanup.MaxAge
		if cleanupMaxAge > 0 {
			maxAge = cleanupMaxAge
		}

		manager := services.NewContainerManager(comps.runtime, comps.store, nil, services.ManagerConfig{
			LogTimeout: cfg.Runtime.LogTimeout,
		})
		report, err := manager.Cleanup(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"cleaned": report.CleanedCount,
			"cutoff":  report.CutoffTime.Format(time.RFC3339),
		}).Info("Cleanup complete")
		return nil
	},
}
