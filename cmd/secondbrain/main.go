package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secondbrain",
		Short: "Conversational second brain",
		Long: `secondbrain chats with you, distills conversations into atomic thoughts and
lets you search them later.

Configuration is read from SECONDBRAIN_* environment variables.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd(), newRememberCmd(), newSearchCmd(), newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "displays version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nSha: %s\n", version, commit)
			return err
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
