package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/arasmith/signalbox/internal/coderunner"
	"github.com/arasmith/signalbox/internal/config"
	"github.com/arasmith/signalbox/internal/engine"
	"github.com/arasmith/signalbox/internal/notify"
	"github.com/arasmith/signalbox/internal/queue"
	"github.com/spf13/cobra"
)

func newEngineCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Run an execution engine worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}

			adapter, err := buildAdapter(cfg)
			if err != nil {
				return err
			}
			notifier, err := buildNotifier(cfg)
			if err != nil {
				return err
			}

			if port == 0 {
				port = cfg.HTTP.EnginePort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			q := queue.New(conn)
			sweeper, err := queue.NewSweeper(conn, cfg.Queue.SweepSchedule)
			if err != nil {
				return err
			}
			sweeper.Start()
			defer sweeper.Stop()

			worker := engine.New(conn, q, adapter, engine.Options{
				Topic:    cfg.Queue.Topic,
				Lease:    time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
				Notifier: notifier,
			})

			errCh := make(chan error, 2)
			go func() {
				errCh <- worker.StartServer(ctx, engine.ServerOpts{
					Port:   port,
					Secret: cfg.Auth.QueueSecret,
				})
			}()
			go func() {
				errCh <- worker.Run(ctx)
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "engine consuming %q, local endpoint on :%d\n", cfg.Queue.Topic, port)
			err = <-errCh
			stop()
			if err != nil && err != ctx.Err() {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "local endpoint port (defaults to http.engine_port from config)")
	return cmd
}

// buildAdapter constructs the coderunner adapter selected by config.
func buildAdapter(cfg *config.Config) (coderunner.Adapter, error) {
	switch cfg.Coderunner.Mode {
	case coderunner.ModeMock:
		return coderunner.NewMockAdapter(), nil
	case coderunner.ModeExternal:
		transport, err := coderunner.NewHTTPTransport(
			cfg.Coderunner.BaseURL,
			cfg.Coderunner.Token,
			time.Duration(cfg.Coderunner.TimeoutSeconds)*time.Second,
		)
		if err != nil {
			return nil, err
		}
		return coderunner.NewExternalAdapter(transport), nil
	}
	return nil, fmt.Errorf("sbx: unsupported coderunner mode %q", cfg.Coderunner.Mode)
}

// buildNotifier assembles the configured notification targets.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var targets notify.Multi
	if cfg.Notify.Slack.Token != "" {
		n, err := notify.NewSlackNotifier(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel)
		if err != nil {
			return nil, err
		}
		targets = append(targets, n)
	}
	if cfg.Notify.Discord.Token != "" {
		n, err := notify.NewDiscordNotifier(cfg.Notify.Discord.Token, cfg.Notify.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, n)
	}
	if len(targets) == 0 {
		return notify.Nop{}, nil
	}
	return targets, nil
}
