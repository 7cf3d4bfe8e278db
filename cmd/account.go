package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/config"
	"github.com/example/punch-scheduler/internal/portal"
	"github.com/example/punch-scheduler/internal/store"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage portal accounts",
	}
	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountRemoveCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var name, cookie, classID, pwd string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add or update an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Fail early on a cookie the portal client would reject anyway.
			if _, err := portal.ParseCookie(cookie); err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.SaveAccount(ctx, store.Account{
					Name: name, Cookie: cookie, CourseID: classID, Password: pwd,
				}); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "saved account %q (class %s)\n", name, classID)
				return nil
			})
		},
	}

	c.Flags().StringVar(&name, "name", "", "account name (unique)")
	c.Flags().StringVar(&cookie, "cookie", "", "raw portal cookie")
	c.Flags().StringVar(&classID, "class", "", "course/class id")
	c.Flags().StringVar(&pwd, "pwd", "", "optional check-in password")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("cookie")
	_ = c.MarkFlagRequired("class")
	return c
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				accounts, err := st.Accounts(ctx)
				if err != nil {
					return err
				}
				for _, a := range accounts {
					display := ""
					if cred, err := portal.ParseCookie(a.Cookie); err == nil && cred.DisplayName != "" {
						display = " <" + cred.DisplayName + ">"
					}
					fmt.Fprintf(os.Stdout, "name=%q%s class=%s pwd=%v\n", a.Name, display, a.CourseID, a.Password != "")
				}
				return nil
			})
		},
	}
}

func newAccountRemoveCmd() *cobra.Command {
	var name string
	c := &cobra.Command{
		Use:   "remove",
		Short: "Remove an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.DeleteAccount(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "removed account %q\n", name)
				return nil
			})
		},
	}
	c.Flags().StringVar(&name, "name", "", "account name")
	_ = c.MarkFlagRequired("name")
	return c
}

// withStore opens the configured store, runs fn, and closes it.
func withStore(fn func(ctx context.Context, st store.Store) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
