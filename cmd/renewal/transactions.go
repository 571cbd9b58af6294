package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newTransactionsCmd(a *app) *cobra.Command {
	var (
		decoder string
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Show recorded renewal attempts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListTransactions(cmd.Context(), decoder, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			_, err = fmt.Fprint(out, renderTransactions(records))
			return err
		},
	}
	cmd.Flags().StringVarP(&decoder, "decoder", "d", "", "Only show attempts for this decoder number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}
