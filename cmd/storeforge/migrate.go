package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy stores and events between storage drivers",
	Long: `Copy every store record and its audit events from one storage driver
to the other within the data directory. Stop serve before migrating.

Stores already present in the destination are skipped, so the command can be
re-run. The source database is backed up first unless --dry-run is given.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("from", string(storage.DriverBolt), "Source driver (bolt|sqlite)")
	migrateCmd.Flags().String("to", string(storage.DriverSQLite), "Destination driver (bolt|sqlite)")
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	migrateCmd.Flags().String("backup", "", "Path to back up the source database to (default: <database>.backup)")

	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backupPath, _ := cmd.Flags().GetString("backup")

	src, dst := storage.Driver(from), storage.Driver(to)
	if src == dst {
		return fmt.Errorf("source and destination driver are both %s", src)
	}
	srcPath, err := storage.Path(src, cfg.DataDir)
	if err != nil {
		return err
	}
	if _, err := storage.Path(dst, cfg.DataDir); err != nil {
		return err
	}
	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return fmt.Errorf("database not found at %s", srcPath)
	}

	out := cmd.OutOrStdout()
	if !dryRun {
		if backupPath == "" {
			backupPath = srcPath + ".backup"
		}
		fmt.Fprintf(out, "Creating backup: %s\n", backupPath)
		if err := copyFile(srcPath, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	srcStore, err := storage.Open(src, cfg.DataDir)
	if err != nil {
		return err
	}
	defer srcStore.Close()
	dstStore, err := storage.Open(dst, cfg.DataDir)
	if err != nil {
		return err
	}
	defer dstStore.Close()

	res, err := storage.Migrate(cmd.Context(), dstStore, srcStore, dryRun)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if dryRun {
		fmt.Fprintf(out, "[DRY RUN] Would copy %d store(s) and %d event(s) from %s to %s\n", res.Stores, res.Events, src, dst)
		return nil
	}
	fmt.Fprintf(out, "✓ Copied %d store(s) and %d event(s) from %s to %s (%d already present)\n",
		res.Stores, res.Events, src, dst, res.Skipped)
	fmt.Fprintf(out, "Set storage.driver to %s to use the migrated database.\n", dst)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
