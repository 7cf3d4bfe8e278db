package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "punchsched",
		Short: "Automated daily class check-in runner for the k8n.cn portal",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newServerCmd())
	root.AddCommand(newAccountCmd())
	root.AddCommand(newLocationCmd())
	root.AddCommand(newTaskCmd())
	root.AddCommand(newSettingsCmd())
	root.AddCommand(newUserCmd())
	root.AddCommand(newNotifyCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
