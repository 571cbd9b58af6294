package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/renewal/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "renewal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNewCreatesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "renewal.db")
	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renewal.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestSqliteFilePathFromDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{":memory:", "", false},
		{"", "", false},
		{"file::memory:?cache=shared", "", false},
		{"file:/tmp/x.db?_pragma=busy_timeout(5000)", "/tmp/x.db", true},
		{"/var/lib/renewal.db", "/var/lib/renewal.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			path, onDisk := sqliteFilePathFromDSN(tt.dsn)
			assert.Equal(t, tt.onDisk, onDisk)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestAddAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.AddAccess(ctx, Access{Username: " agent01 ", Secret: "pw", StartDate: day("2025-01-01"), EndDate: day("2025-12-31")})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, "agent01", a.Username)

	_, err = s.AddAccess(ctx, Access{Username: "agent01", Secret: "other", StartDate: day("2025-01-01"), EndDate: day("2025-12-31")})
	assert.ErrorIs(t, err, ErrDuplicateAccess)

	_, err = s.AddAccess(ctx, Access{Username: "agent02", Secret: "pw", StartDate: day("2025-06-01"), EndDate: day("2025-01-01")})
	assert.Error(t, err)

	list, err := s.ListAccess(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pw", list[0].Secret)
	assert.Nil(t, list[0].LastUsedAt)
}

func TestActiveCredentialRotatesLeastRecentlyUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := day("2025-03-10").Add(9 * time.Hour)
	s.now = func() time.Time { return clock }

	for _, a := range []Access{
		{Username: "first", Secret: "1", StartDate: day("2025-01-01"), EndDate: day("2025-12-31")},
		{Username: "second", Secret: "2", StartDate: day("2025-01-01"), EndDate: day("2025-12-31")},
		{Username: "expired", Secret: "3", StartDate: day("2024-01-01"), EndDate: day("2025-03-09")},
		{Username: "future", Secret: "4", StartDate: day("2025-04-01"), EndDate: day("2025-12-31")},
	} {
		_, err := s.AddAccess(ctx, a)
		require.NoError(t, err)
	}

	var got []string
	for i := 0; i < 4; i++ {
		clock = clock.Add(time.Minute)
		cred, err := s.ActiveCredential(ctx)
		require.NoError(t, err)
		got = append(got, cred.Username)
	}
	assert.Equal(t, []string{"first", "second", "first", "second"}, got)

	list, err := s.ListAccess(ctx)
	require.NoError(t, err)
	for _, a := range list {
		switch a.Username {
		case "first", "second":
			assert.NotNil(t, a.LastUsedAt)
		default:
			assert.Nil(t, a.LastUsedAt)
		}
	}
}

func TestActiveCredentialNone(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ActiveCredential(context.Background())
	assert.ErrorIs(t, err, types.ErrNoCredential)
}

func TestUpdateAndDeleteAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.AddAccess(ctx, Access{Username: "agent", Secret: "old", StartDate: day("2025-01-01"), EndDate: day("2025-01-31")})
	require.NoError(t, err)

	a.Secret = "new"
	a.EndDate = day("2025-12-31")
	require.NoError(t, s.UpdateAccess(ctx, *a))

	list, err := s.ListAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", list[0].Secret)
	assert.True(t, list[0].ValidOn(day("2025-06-15")))

	require.NoError(t, s.DeleteAccess(ctx, a.ID))
	assert.ErrorIs(t, s.DeleteAccess(ctx, a.ID), sql.ErrNoRows)
	assert.ErrorIs(t, s.UpdateAccess(ctx, *a), sql.ErrNoRows)
}

func TestRecordAndListTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordTransaction(ctx, types.TransactionRecord{
		DecoderNumber: "111", PackageID: "75W2EV|EVDD", OptionID: "EAOEVDD", DurationID: "3",
		AmountGNF: 450000, Status: "success", ReferenceNumber: "REF1", PortalUsername: "agent",
		ProcessingTimeMs: 42000, CreatedAt: base,
	}))
	require.NoError(t, s.RecordTransaction(ctx, types.TransactionRecord{
		DecoderNumber: "222", PackageID: "75W1AC|ACDD", Status: "failed",
		ErrorMessage: "Solde insuffisant (DTA-1009)", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.RecordTransaction(ctx, types.TransactionRecord{
		DecoderNumber: "111", PackageID: "75W2EV|EVDD", Status: "success", CreatedAt: base.Add(2 * time.Minute),
	}))

	all, err := s.ListTransactions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "111", all[0].DecoderNumber)
	assert.Equal(t, "222", all[1].DecoderNumber)
	assert.Equal(t, "Solde insuffisant (DTA-1009)", all[1].ErrorMessage)

	mine, err := s.ListTransactions(ctx, "111", 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	older, err := s.ListTransactions(ctx, "111", 5)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, 450000, older[1].AmountGNF)
	assert.Equal(t, "EAOEVDD", older[1].OptionID)
	assert.Equal(t, int64(42000), older[1].ProcessingTimeMs)
}

func TestNilStore(t *testing.T) {
	var s *Store
	_, err := s.ActiveCredential(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.RecordTransaction(context.Background(), types.TransactionRecord{}), ErrStoreClosed)
	assert.NoError(t, s.Close())
}
