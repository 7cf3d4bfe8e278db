package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/auth"
	"github.com/example/punch-scheduler/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage admin API operators",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add or update an operator (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.SaveUser(ctx, store.User{Username: username, PasswordBcrypt: hash}); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "created user %q\n", username)
				return nil
			})
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}
