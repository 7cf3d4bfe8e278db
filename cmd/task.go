package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/store"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage account-location task bindings",
	}
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskSetCmd("enable", true))
	cmd.AddCommand(newTaskSetCmd("disable", false))
	cmd.AddCommand(newTaskRemoveCmd())
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var account, locations string

	c := &cobra.Command{
		Use:   "add",
		Short: "Bind an account to one or more locations (comma-separated)",
		RunE: func(cmd *cobra.Command, args []string) error {
			locs := splitCSV(locations)
			if len(locs) == 0 {
				return fmt.Errorf("--locations must name at least one location")
			}
			return withStore(func(ctx context.Context, st store.Store) error {
				for _, loc := range locs {
					if err := st.SaveTaskBinding(ctx, store.TaskBinding{
						AccountName: account, LocationName: loc, Enabled: true,
					}); err != nil {
						return err
					}
					fmt.Fprintf(os.Stdout, "bound %q @ %q (enabled)\n", account, loc)
				}
				return nil
			})
		},
	}

	c.Flags().StringVar(&account, "account", "", "account name")
	c.Flags().StringVar(&locations, "locations", "", "location names, comma-separated")
	_ = c.MarkFlagRequired("account")
	_ = c.MarkFlagRequired("locations")
	return c
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List task bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				tasks, err := st.TaskBindings(ctx)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					state := "enabled"
					if !t.Enabled {
						state = "disabled"
					}
					fmt.Fprintf(os.Stdout, "%q @ %q (%s)\n", t.AccountName, t.LocationName, state)
				}
				return nil
			})
		},
	}
}

func newTaskSetCmd(verb string, enabled bool) *cobra.Command {
	var account, location string
	c := &cobra.Command{
		Use:   verb,
		Short: fmt.Sprintf("%s a task binding", verb),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.SetTaskEnabled(ctx, account, location, enabled); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "%sd %q @ %q\n", verb, account, location)
				return nil
			})
		},
	}
	c.Flags().StringVar(&account, "account", "", "account name")
	c.Flags().StringVar(&location, "location", "", "location name")
	_ = c.MarkFlagRequired("account")
	_ = c.MarkFlagRequired("location")
	return c
}

func newTaskRemoveCmd() *cobra.Command {
	var account, location string
	c := &cobra.Command{
		Use:   "remove",
		Short: "Remove a task binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.DeleteTaskBinding(ctx, account, location); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "removed %q @ %q\n", account, location)
				return nil
			})
		},
	}
	c.Flags().StringVar(&account, "account", "", "account name")
	c.Flags().StringVar(&location, "location", "", "location name")
	_ = c.MarkFlagRequired("account")
	_ = c.MarkFlagRequired("location")
	return c
}
