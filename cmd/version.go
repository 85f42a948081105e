package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildDate = "2026-10-19"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version and build date for llama-embd",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			green := color.New(color.FgGreen)
			green.Fprintf(cmd.OutOrStdout(), "Current Version:    %s\n", Version)
			green.Fprintf(cmd.OutOrStdout(), "Build Date:         %s\n", BuildDate)
		},
	}
}
