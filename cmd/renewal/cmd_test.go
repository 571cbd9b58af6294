package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/renewal/pkg/config"
	"github.com/entrhq/renewal/pkg/normalize"
	"github.com/entrhq/renewal/pkg/storage"
	"github.com/entrhq/renewal/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useTempDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "renewal.db")
	t.Setenv(config.EnvDB, path)
	t.Setenv(config.EnvLogLevel, "error")
	return path
}

func TestAccountsAddListRemove(t *testing.T) {
	useTempDB(t)

	out, err := execute(t, "accounts", "add", "-u", "agent01", "-s", "pw", "--start", "2025-01-01", "--end", "2099-12-31")
	require.NoError(t, err)
	assert.Contains(t, out, "added account 1 (agent01)")

	out, err = execute(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "agent01")
	assert.Contains(t, out, "2025-01-01 2099-12-31")
	assert.Contains(t, out, "never")
	assert.NotContains(t, out, "pw")

	out, err = execute(t, "accounts", "remove", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "removed account 1")

	_, err = execute(t, "accounts", "remove", "1")
	assert.Error(t, err)

	out, err = execute(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no accounts")
}

func TestAccountsAddRejectsBadDates(t *testing.T) {
	useTempDB(t)

	_, err := execute(t, "accounts", "add", "-u", "agent", "-s", "pw", "--end", "31/12/2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--end")

	_, err = execute(t, "accounts", "add", "-u", "agent", "-s", "pw")
	assert.Error(t, err)
}

func TestAccountsUpdate(t *testing.T) {
	path := useTempDB(t)

	_, err := execute(t, "accounts", "add", "-u", "agent01", "-s", "pw", "--start", "2025-01-01", "--end", "2099-12-31")
	require.NoError(t, err)

	out, err := execute(t, "accounts", "update", "1", "--secret", "rotated", "--end", "2099-06-30")
	require.NoError(t, err)
	assert.Contains(t, out, "updated account 1 (agent01)")

	out, err = execute(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-01-01 2099-06-30")

	store, err := storage.New(path)
	require.NoError(t, err)
	cred, err := store.ActiveCredential(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "rotated", cred.Secret)
	require.NoError(t, store.Close())

	_, err = execute(t, "accounts", "update", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")

	_, err = execute(t, "accounts", "update", "1", "--end", "2024-01-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before --start")

	_, err = execute(t, "accounts", "update", "7", "--secret", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account 7 not found")
}

func TestTransactionsCommand(t *testing.T) {
	path := useTempDB(t)

	out, err := execute(t, "transactions")
	require.NoError(t, err)
	assert.Contains(t, out, "no transactions")

	store, err := storage.New(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordTransaction(testContext(t), types.TransactionRecord{
		DecoderNumber: "14523678", PackageID: "75W2EV|EVDD", DurationID: "3",
		AmountGNF: 450000, Status: "success", ReferenceNumber: "REF-1", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.RecordTransaction(testContext(t), types.TransactionRecord{
		DecoderNumber: "999", PackageID: "75W1AC|ACDD", DurationID: "1",
		Status: "failed", ErrorMessage: "Solde insuffisant (DTA-1009)", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	out, err = execute(t, "transactions")
	require.NoError(t, err)
	assert.Contains(t, out, "14523678")
	assert.Contains(t, out, "450 000 GNF")
	assert.Contains(t, out, "REF-1")
	assert.Contains(t, out, "DTA-1009")

	out, err = execute(t, "transactions", "--decoder", "999", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"DecoderNumber": "999"`)
	assert.NotContains(t, out, "14523678")
}

func TestRenewArgs(t *testing.T) {
	useTempDB(t)

	_, err := execute(t, "renew")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscriber id or --file")

	_, err = execute(t, "renew", "123", "--file", "batch.yaml")
	assert.Error(t, err)
}

func TestLoadRequests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- subscriber_id: "14523678"
  offer: evasion
  duration: "3"
  option: english
- subscriber_id: "998877"
  offer: access
`), 0o600))

	reqs, err := loadRequests(path)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, types.RenewalRequest{SubscriberID: "14523678", OfferCode: "evasion", DurationCode: "3", OptionCode: "english"}, reqs[0])
	assert.Equal(t, "access", reqs[1].OfferCode)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]"), 0o600))
	_, err = loadRequests(empty)
	assert.Error(t, err)
}

func TestBadConfigSurfaces(t *testing.T) {
	useTempDB(t)
	t.Setenv(config.EnvLogLevel, "chatty")

	_, err := execute(t, "accounts", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestRenderOutcome(t *testing.T) {
	amount := 450000
	out := renderOutcome(&types.RenewalOutcome{
		Status: types.RenewalSucceeded,
		Request: types.NormalizedRequest{
			SubscriberID: "14523678", Offer: normalize.OfferEvasion, Duration: "3 months", Option: normalize.OptionEnglish,
		},
		Amount:          &amount,
		ReferenceID:     "REF-1",
		SubscriberPhone: "+224622123456",
		Elapsed:         42 * time.Second,
	})
	assert.Contains(t, out, "14523678 renewed")
	assert.Contains(t, out, "450 000 GNF")
	assert.Contains(t, out, "REF-1")
	assert.Contains(t, out, "+224622123456")
	assert.Contains(t, out, "42s")

	out = renderOutcome(&types.RenewalOutcome{Status: types.RenewalUnconfirmed, Request: types.NormalizedRequest{SubscriberID: "1"}})
	assert.Contains(t, out, "not confirmed")
	assert.NotContains(t, out, "amount")
}

func TestRenderResultError(t *testing.T) {
	err := &types.StageError{Stage: "locate_subscriber", Err: types.ErrSubscriberNotFound}
	out := renderResult(renewResult{Request: types.RenewalRequest{SubscriberID: "0000"}, err: err})
	assert.Contains(t, out, "0000")
	assert.Contains(t, out, "subscriber not found")
	assert.True(t, errors.Is(err, types.ErrSubscriberNotFound))
}

func TestFormatAmount(t *testing.T) {
	tests := map[int]string{
		0:       "0 GNF",
		950:     "950 GNF",
		15000:   "15 000 GNF",
		1250000: "1 250 000 GNF",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatAmount(&in))
	}
	assert.Empty(t, formatAmount(nil))
}

func TestRenderSubscribers(t *testing.T) {
	out := renderSubscribers([]types.SubscriberInfo{{
		Name: "MAMADOU DIALLO", ContractNumber: "14523678/1", DecoderNumber: "14523678",
		Status: "Active", EndDate: "15/03/2025", Offer: "EVASION", City: "CONAKRY",
	}})
	for _, want := range []string{"MAMADOU DIALLO", "14523678/1", "15/03/2025", "EVASION", "CONAKRY"} {
		assert.Contains(t, out, want)
	}
	assert.False(t, strings.Contains(out, "address"))
	assert.Contains(t, renderSubscribers(nil), "no subscriber")
}

// testContext mirrors testing.T.Context (Go 1.24+): a context canceled when
// the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
