package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newLookupCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lookup <subscriber-id>",
		Short: "Search the portal for a subscriber and show its panels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.startRuntime(cmd.Context(), 0)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.log.Warnf("shutdown: %v", err)
				}
			}()

			infos, err := rt.orch.LookupSubscriber(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			_, err = fmt.Fprint(out, renderSubscribers(infos))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print subscribers as JSON")
	return cmd
}
