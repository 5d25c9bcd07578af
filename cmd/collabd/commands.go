package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/permissions"
	"github.com/orchestra-mcp/collab/src/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "collabd",
		Short:         "Real-time note collaboration server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket collaboration server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	grantCmd = &cobra.Command{
		Use:   "grant <noteId> <userId> <owner|edit|view>",
		Short: "Grant a user access to a note",
		Args:  cobra.ExactArgs(3),
		RunE:  runGrant,
	}

	revokeCmd = &cobra.Command{
		Use:   "revoke <noteId> <userId>",
		Short: "Remove a user's access to a note",
		Args:  cobra.ExactArgs(2),
		RunE:  runRevoke,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, grantCmd, revokeCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, reg, logger).Run(ctx)
}

func runGrant(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(ctx context.Context, store *permissions.RedisStore) error {
		if err := store.Grant(ctx, args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %s on %s to %s\n", args[2], args[0], args[1])
		return nil
	})
}

func runRevoke(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(ctx context.Context, store *permissions.RedisStore) error {
		if err := store.Revoke(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", args[0], args[1])
		return nil
	})
}

// withStore opens the permission store from configuration for one command.
func withStore(ctx context.Context, fn func(context.Context, *permissions.RedisStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store := permissions.NewRedisStore(cfg.Redis, newLogger(cfg, os.Stderr))
	defer store.Close()
	if err := store.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, store)
}
