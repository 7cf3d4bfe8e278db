package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/config"
	"github.com/example/punch-scheduler/internal/notify"
	"github.com/example/punch-scheduler/internal/store"
)

func newNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification channel helpers",
	}
	cmd.AddCommand(newNotifyTestCmd())
	return cmd
}

func newNotifyTestCmd() *cobra.Command {
	var message string

	c := &cobra.Command{
		Use:   "test",
		Short: "Send a test message through the configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			return withStore(func(ctx context.Context, st store.Store) error {
				settings, err := st.Settings(ctx)
				if err != nil {
					return err
				}
				if !settings.WeCom.Complete() && settings.PushPlusToken == "" {
					return fmt.Errorf("no notification channel configured")
				}
				d := notify.NewDispatcher(log.WithField("component", "notify"))
				d.Dispatch(ctx, settings, message)
				return nil
			})
		},
	}

	c.Flags().StringVar(&message, "message", "punchsched notification test", "message body")
	return c
}
