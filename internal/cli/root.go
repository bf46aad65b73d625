// Package cli implements the eden command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eden-portal/eden/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "eden",
	Short: "Eden property portal state daemon",
	Long: `Eden keeps the building's shared state: flats and dues, payments,
expenses, loans, staff cash and the content slices. State is stored
locally and mirrored to a remote document store when one is configured.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config.toml (default ~/.eden/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config, or the default one.
func loadConfig() (daemon.Config, *slog.Logger, error) {
	path := configPath
	if path == "" {
		path = daemon.ConfigPath(daemon.DefaultConfig().Data.Dir)
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfg.NewLogger(os.Stderr), nil
}

// openOffline opens the local state without automation or the mirror, for
// one-shot commands.
func openOffline() (*daemon.Supervisor, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Automation.Enabled = false
	cfg.Sync.RemoteURL = ""
	return daemon.NewSupervisor(cfg, logger, daemon.Options{})
}
