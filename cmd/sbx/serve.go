package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/arasmith/signalbox/internal/controlplane"
	"github.com/arasmith/signalbox/internal/queue"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}

			if port == 0 {
				port = cfg.HTTP.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := controlplane.New(conn, queue.New(conn), cfg)
			fmt.Fprintf(cmd.OutOrStdout(), "control plane listening on :%d\n", port)
			return server.Start(ctx, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (defaults to http.port from config)")
	return cmd
}
