package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/crdtsync/internal/injector"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a replica node",
		Long: `Run a replica node with its configured listeners, peers and metrics endpoint.

SIGHUP wakes peer sessions that gave up reconnecting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			node, cleanup, err := injector.InitializeNode(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err = node.Start(ctx); err != nil {
				return err
			}

			stopCh := make(chan os.Signal, 1)
			signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(stopCh)

		wait:
			for {
				select {
				case sig := <-stopCh:
					if sig == syscall.SIGHUP {
						node.Reconnect()
						continue
					}
					break wait
				case <-ctx.Done():
					break wait
				}
			}

			stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			return node.Stop(stopCtx)
		},
	}
}
