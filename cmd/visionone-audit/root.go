package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "visionone-audit",
	Short:         "Flag Vision One IAM accounts with no sign-in in the trailing 90 days.",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runAudit,
}

func Execute() error {
	return rootCmd.Execute()
}
