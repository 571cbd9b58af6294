package main

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "renewal",
		Short:         "Renew subscriptions through the operator portal",
		Long:          "renewal drives the operator web portal to renew subscriptions, look up subscribers, and manage the portal accounts it logs in with.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging level: debug, info, warn, error")

	rootCmd.AddCommand(
		newRenewCmd(a),
		newLookupCmd(a),
		newAccountsCmd(a),
		newTransactionsCmd(a),
	)
	return rootCmd
}
