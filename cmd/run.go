package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/config"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one check-in job now (all enabled tasks, with retries)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			return newEngine(cfg, st, log).Run(ctx)
		},
	}
}
