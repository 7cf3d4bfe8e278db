package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/sched"
	"github.com/example/punch-scheduler/internal/store"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change schedule and notification settings",
	}
	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				set, err := st.Settings(ctx)
				if err != nil {
					return err
				}
				schedule := set.ScheduleTime
				if schedule == "" {
					schedule = "(manual mode)"
				}
				fmt.Fprintf(os.Stdout, "schedule: %s\n", schedule)
				fmt.Fprintf(os.Stdout, "wecom: configured=%v touser=%s\n", set.WeCom.Complete(), set.WeCom.ToUser)
				fmt.Fprintf(os.Stdout, "pushplus: configured=%v\n", set.PushPlusToken != "")
				return nil
			})
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var (
		schedule                        string
		corpID, secret, agentID, toUser string
		pushplus                        string
	)

	c := &cobra.Command{
		Use:   "set",
		Short: "Update settings (only the flags you pass change)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("schedule") && schedule != "" {
				if _, err := sched.CronSpec(schedule); err != nil {
					return err
				}
			}
			return withStore(func(ctx context.Context, st store.Store) error {
				set, err := st.Settings(ctx)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("schedule") {
					set.ScheduleTime = schedule
				}
				if cmd.Flags().Changed("wecom-corpid") {
					set.WeCom.CorpID = corpID
				}
				if cmd.Flags().Changed("wecom-secret") {
					set.WeCom.Secret = secret
				}
				if cmd.Flags().Changed("wecom-agentid") {
					set.WeCom.AgentID = agentID
				}
				if cmd.Flags().Changed("wecom-touser") {
					set.WeCom.ToUser = toUser
				}
				if cmd.Flags().Changed("pushplus") {
					set.PushPlusToken = pushplus
				}
				if err := st.SaveSettings(ctx, set); err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, "settings saved")
				return nil
			})
		},
	}

	c.Flags().StringVar(&schedule, "schedule", "", "daily check-in time HH:MM, empty for manual mode")
	c.Flags().StringVar(&corpID, "wecom-corpid", "", "WeCom corp id")
	c.Flags().StringVar(&secret, "wecom-secret", "", "WeCom app secret")
	c.Flags().StringVar(&agentID, "wecom-agentid", "", "WeCom agent id")
	c.Flags().StringVar(&toUser, "wecom-touser", "@all", "WeCom recipient")
	c.Flags().StringVar(&pushplus, "pushplus", "", "PushPlus token (fallback channel)")
	return c
}
