package main

import (
	"fmt"
	"os"

	"github.com/cuemby/storeforge/pkg/config"
	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storeforge",
	Short: "StoreForge - storefront provisioning for Kubernetes",
	Long: `StoreForge provisions isolated e-commerce storefronts on a Kubernetes
cluster. Each store gets its own namespace and chart release; a polling
reconciler drives stores from REQUESTED to READY (or FAILED) and tears
them down on deletion.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"StoreForge version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the YAML configuration file")
	flags.String("data-dir", config.DefaultDataDir, "Data directory for the store database")
	flags.String("storage-driver", string(storage.DriverSQLite), "Store database driver (bolt|sqlite)")
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	flags.Bool("log-json", false, "Log as JSON instead of console output")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration file and applies the flags the user
// set explicitly on top of it
func loadConfig(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		loaded.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("storage-driver") {
		driver, _ := flags.GetString("storage-driver")
		loaded.Storage.Driver = storage.Driver(driver)
	}
	if flags.Changed("log-level") {
		loaded.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		loaded.Log.JSON, _ = flags.GetBool("log-json")
	}
	if err := applyServeFlags(cmd, loaded); err != nil {
		return err
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := log.ParseLevel(loaded.Log.Level)
	log.Init(log.Config{
		Level:      level,
		JSONOutput: loaded.Log.JSON,
		Output:     os.Stderr,
	})

	cfg = loaded
	return nil
}

// openStore opens the configured store database
func openStore() (storage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.Open(cfg.Storage.Driver, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	return store, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "StoreForge version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		return nil
	},
}
