package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cuemby/storeforge/pkg/provision"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/spf13/cobra"
)

// Store commands
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage stores",
	Long: `Record provisioning and deletion requests and inspect stores.

These commands only write to the store database. A running serve process
picks the changes up on its next reconciliation pass.`,
}

var storeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Request a new store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _ := cmd.Flags().GetString("engine")
		template, _ := cmd.Flags().GetString("template")

		return withService(func(svc *provision.Service, _ storage.Store) error {
			rec, err := svc.RequestProvision(cmd.Context(), provision.Request{
				Name:     args[0],
				Engine:   types.Engine(engine),
				Template: template,
			})
			if err != nil {
				return err
			}
			return printRecord(cmd, rec, fmt.Sprintf("✓ Store requested: %s (ID: %s, namespace: %s)", rec.Name, rec.ID, rec.Namespace))
		})
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Request deletion of a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *provision.Service, _ storage.Store) error {
			rec, err := svc.RequestDeletion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRecord(cmd, rec, fmt.Sprintf("✓ Store %s is %s", rec.ID, rec.Status))
		})
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(_ *provision.Service, store storage.Store) error {
			rec, err := store.GetStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), rec)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", rec.ID)
			fmt.Fprintf(w, "Name:\t%s\n", rec.Name)
			fmt.Fprintf(w, "Engine:\t%s\n", rec.Engine)
			fmt.Fprintf(w, "Template:\t%s\n", rec.Template)
			fmt.Fprintf(w, "Namespace:\t%s\n", rec.Namespace)
			fmt.Fprintf(w, "Status:\t%s\n", rec.Status)
			if rec.URL != "" {
				fmt.Fprintf(w, "URL:\t%s\n", rec.URL)
			}
			if rec.ErrorMessage != "" {
				fmt.Fprintf(w, "Error:\t%s\n", rec.ErrorMessage)
			}
			fmt.Fprintf(w, "Created:\t%s\n", rec.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
			return w.Flush()
		})
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stores, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := statusFlag(cmd)
		if err != nil {
			return err
		}

		return withService(func(_ *provision.Service, store storage.Store) error {
			var recs []*types.StoreRecord
			if len(statuses) > 0 {
				recs, err = store.ListStoresByStatus(cmd.Context(), statuses...)
			} else {
				recs, err = store.ListStores(cmd.Context())
			}
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), recs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENGINE\tSTATUS\tURL\tAGE")
			for _, rec := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID, rec.Name, rec.Engine, rec.Status, orDash(rec.URL), age(rec.CreatedAt))
			}
			return w.Flush()
		})
	},
}

var storeEventsCmd = &cobra.Command{
	Use:   "events [ID]",
	Short: "Show the audit trail of a store, or the most recent events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withService(func(_ *provision.Service, store storage.Store) error {
			var (
				events []*types.StoreEvent
				err    error
			)
			if len(args) == 1 {
				events, err = store.ListEvents(cmd.Context(), args[0])
			} else {
				events, err = store.ListRecentEvents(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), events)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTORE\tACTION\tSTATUS\tMESSAGE")
			for _, ev := range events {
				msg := ev.Message
				if ev.Error != "" {
					msg = ev.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					ev.Timestamp.Format(time.RFC3339), ev.StoreID, ev.Action, ev.Status, orDash(msg))
			}
			return w.Flush()
		})
	},
}

var storePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove FAILED (or other terminal) store records",
	Long: `Remove store records in terminal statuses. Their audit events are kept.

By default only FAILED stores are purged; use --status to purge DELETED
stores as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := statusFlag(cmd)
		if err != nil {
			return err
		}

		return withService(func(svc *provision.Service, _ storage.Store) error {
			purged, err := svc.Purge(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), purged)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Purged %d store(s)\n", len(purged))
			for _, id := range purged {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		})
	},
}

func init() {
	storeCmd.AddCommand(storeCreateCmd)
	storeCmd.AddCommand(storeDeleteCmd)
	storeCmd.AddCommand(storeGetCmd)
	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeEventsCmd)
	storeCmd.AddCommand(storePurgeCmd)

	storeCmd.PersistentFlags().Bool("json", false, "Print JSON instead of a table")

	storeCreateCmd.Flags().String("engine", string(types.EngineMedusa), "Storefront engine")
	storeCreateCmd.Flags().String("template", types.DefaultTemplate, "Store template")

	storeListCmd.Flags().StringSlice("status", nil, "Only list stores in these statuses")
	storeEventsCmd.Flags().Int("limit", storage.DefaultEventLimit, "Number of recent events when no ID is given")
	storePurgeCmd.Flags().StringSlice("status", nil, "Terminal statuses to purge (default FAILED)")

	rootCmd.AddCommand(storeCmd)
}

// withService opens the store database for the duration of fn
func withService(fn func(svc *provision.Service, store storage.Store) error) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(provision.NewService(store), store)
}

func statusFlag(cmd *cobra.Command) ([]types.Status, error) {
	values, _ := cmd.Flags().GetStringSlice("status")
	statuses := make([]types.Status, 0, len(values))
	for _, v := range values {
		s := types.Status(v)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", v)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printRecord(cmd *cobra.Command, rec *types.StoreRecord, summary string) error {
	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func age(t time.Time) string {
	return time.Since(t).Round(time.Second).String()
}
