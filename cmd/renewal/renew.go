package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/renewal/pkg/types"
)

type renewFlags struct {
	offer    string
	duration string
	option   string
	file     string
	parallel int
	asJSON   bool
}

func newRenewCmd(a *app) *cobra.Command {
	f := &renewFlags{}
	cmd := &cobra.Command{
		Use:   "renew [subscriber-id]",
		Short: "Renew one subscription, or every request in a YAML file",
		Example: `  renewal renew 14523678 --offer evasion --duration 3 --option english
  renewal renew --file batch.yaml --parallel 4`,
		Args: func(cmd *cobra.Command, args []string) error {
			if f.file == "" && len(args) != 1 {
				return fmt.Errorf("expected a subscriber id or --file")
			}
			if f.file != "" && len(args) > 0 {
				return fmt.Errorf("a subscriber id cannot be combined with --file")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var reqs []types.RenewalRequest
			if f.file != "" {
				loaded, err := loadRequests(f.file)
				if err != nil {
					return err
				}
				reqs = loaded
			} else {
				reqs = []types.RenewalRequest{{
					SubscriberID: args[0],
					OfferCode:    f.offer,
					DurationCode: f.duration,
					OptionCode:   f.option,
				}}
			}
			return runRenewals(cmd, a, reqs, f)
		},
	}
	cmd.Flags().StringVar(&f.offer, "offer", "", "Offer (access, evasion, access_plus, tout_canal)")
	cmd.Flags().StringVar(&f.duration, "duration", "1", "Duration (1, 3, 6, 12, \"3 mois\", \"1 an\")")
	cmd.Flags().StringVar(&f.option, "option", "", "Add-on option (english, charme, netflix2, ...)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "YAML file with a list of renewal requests")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 1, "Renewals run at the same time")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print outcomes as JSON")
	return cmd
}

func loadRequests(path string) ([]types.RenewalRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	var reqs []types.RenewalRequest
	if err := yaml.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("failed to parse requests %s: %w", path, err)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%s holds no requests", path)
	}
	return reqs, nil
}

type renewResult struct {
	Request types.RenewalRequest  `json:"request"`
	Outcome *types.RenewalOutcome `json:"outcome,omitempty"`
	Error   string                `json:"error,omitempty"`
	err     error
}

func runRenewals(cmd *cobra.Command, a *app, reqs []types.RenewalRequest, f *renewFlags) error {
	parallel := f.parallel
	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(reqs) {
		parallel = len(reqs)
	}

	rt, err := a.startRuntime(cmd.Context(), parallel)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			a.log.Warnf("shutdown: %v", err)
		}
	}()

	results := make([]renewResult, len(reqs))
	var mu sync.Mutex
	out := cmd.OutOrStdout()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(parallel)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			outcome, err := rt.orch.Renew(ctx, req)
			res := renewResult{Request: req, Outcome: outcome, err: err}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res

			if !f.asJSON {
				mu.Lock()
				fmt.Fprintln(out, renderResult(res))
				mu.Unlock()
			}
			// One failed renewal does not stop the others.
			return nil
		})
	}
	_ = g.Wait()

	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
		}
	}
	if len(reqs) > 1 && !f.asJSON {
		fmt.Fprintln(out, renderSummary(len(reqs), failed))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d renewals failed", failed, len(reqs))
	}
	return nil
}
