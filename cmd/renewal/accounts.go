package main

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/renewal/pkg/storage"
)

const dateFlagLayout = "2006-01-02"

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage the portal accounts renewals log in with",
	}
	cmd.AddCommand(
		newAccountsAddCmd(a),
		newAccountsListCmd(a),
		newAccountsUpdateCmd(a),
		newAccountsRemoveCmd(a),
	)
	return cmd
}

func newAccountsAddCmd(a *app) *cobra.Command {
	var (
		username string
		secret   string
		start    string
		end      string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a portal account and its validity window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := time.Parse(dateFlagLayout, start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			to, err := time.Parse(dateFlagLayout, end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			acc, err := store.AddAccess(cmd.Context(), storage.Access{
				Username:  username,
				Secret:    secret,
				StartDate: from,
				EndDate:   to,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added account %d (%s)\n", acc.ID, acc.Username)
			return err
		},
	}
	today := time.Now().Format(dateFlagLayout)
	cmd.Flags().StringVarP(&username, "username", "u", "", "Portal username")
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "Portal password")
	cmd.Flags().StringVar(&start, "start", today, "First valid day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last valid day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newAccountsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored portal accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.ListAccess(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), renderAccounts(accounts, time.Now()))
			return err
		},
	}
}

func newAccountsUpdateCmd(a *app) *cobra.Command {
	var (
		secret string
		start  string
		end    string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the password or validity window of a stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			flags := cmd.Flags()
			if !flags.Changed("secret") && !flags.Changed("start") && !flags.Changed("end") {
				return fmt.Errorf("nothing to update: pass --secret, --start or --end")
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.ListAccess(cmd.Context())
			if err != nil {
				return err
			}
			idx := slices.IndexFunc(accounts, func(acc storage.Access) bool { return acc.ID == id })
			if idx < 0 {
				return fmt.Errorf("account %d not found", id)
			}
			acc := accounts[idx]

			if flags.Changed("secret") {
				acc.Secret = secret
			}
			if flags.Changed("start") {
				if acc.StartDate, err = time.Parse(dateFlagLayout, start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			if flags.Changed("end") {
				if acc.EndDate, err = time.Parse(dateFlagLayout, end); err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			}
			if acc.EndDate.Before(acc.StartDate) {
				return fmt.Errorf("--end %s is before --start %s", acc.EndDate.Format(dateFlagLayout), acc.StartDate.Format(dateFlagLayout))
			}

			if err := store.UpdateAccess(cmd.Context(), acc); err != nil {
				return fmt.Errorf("update account %d: %w", id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "updated account %d (%s)\n", acc.ID, acc.Username)
			return err
		},
	}
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "New portal password")
	cmd.Flags().StringVar(&start, "start", "", "New first valid day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "New last valid day (YYYY-MM-DD)")
	return cmd
}

func newAccountsRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a stored portal account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteAccess(cmd.Context(), id); err != nil {
				return fmt.Errorf("remove account %d: %w", id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed account %d\n", id)
			return err
		},
	}
}
