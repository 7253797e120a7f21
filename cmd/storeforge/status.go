package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/storeforge/pkg/api"
	"github.com/cuemby/storeforge/pkg/client"
	"github.com/cuemby/storeforge/pkg/config"
	"github.com/cuemby/storeforge/pkg/types"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const statusTimeout = 5 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a serve process is up and reconciling",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		failing := 0
		for _, service := range []string{"", api.ReconcilerService} {
			callCtx, cancelCall := context.WithTimeout(ctx, statusTimeout)
			st, err := c.Health(callCtx, service)
			cancelCall()

			name := service
			if name == "" {
				name = "server"
			}
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %s: %v\n", name, err)
				failing++
				continue
			}
			mark := "✓"
			if st != healthpb.HealthCheckResponse_SERVING {
				mark = "✗"
				failing++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", mark, name, st)
		}

		if failing > 0 {
			return fmt.Errorf("storeforge at %s is not serving", client.DialAddr(cfg.API.GRPCAddr))
		}
		return nil
	},
}

var storeWatchCmd = &cobra.Command{
	Use:   "watch [ID]",
	Short: "Follow store events from a running serve process",
	Long: `Print store events as a running serve process records them.
Only events recorded after the command starts are shown; use
"store events" for the history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var storeID string
		if len(args) == 1 {
			storeID = args[0]
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		out := cmd.OutOrStdout()
		return c.FollowEvents(ctx, storeID, func(ev *types.StoreEvent) error {
			if asJSON(cmd) {
				return writeJSON(out, ev)
			}
			msg := ev.Message
			if ev.Error != "" {
				msg = ev.Error
			}
			_, err := fmt.Fprintf(out, "%s  %s  %-9s  %-12s  %s\n",
				ev.Timestamp.Format(time.RFC3339), ev.StoreID, ev.Action, ev.Status, orDash(msg))
			return err
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, storeWatchCmd} {
		cmd.Flags().String("http-addr", config.DefaultHTTPAddr, "HTTP address of the serve process")
		cmd.Flags().String("grpc-addr", config.DefaultGRPCAddr, "gRPC address of the serve process")
	}

	rootCmd.AddCommand(statusCmd)
	storeCmd.AddCommand(storeWatchCmd)
}

func newClient() (*client.Client, error) {
	return client.NewClient(cfg.API.GRPCAddr, cfg.API.HTTPAddr)
}
