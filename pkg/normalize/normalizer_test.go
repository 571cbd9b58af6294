package normalize

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/renewal/pkg/types"
)

func TestNormalizeOffer(t *testing.T) {
	n := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"access", OfferAccess},
		{" Access ", OfferAccess},
		{"access_plus", OfferAccessPlus},
		{"ACCESS+", OfferAccessPlus},
		{"evasion", OfferEvasion},
		{"tout canal", OfferToutCanal},
		{"Tout-Canal-Plus", OfferToutCanal},
		{"tout canal plus", OfferToutCanal},
		{"premium", "PREMIUM"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.NormalizeOffer(tt.in))
		})
	}
}

func TestNormalizeOption(t *testing.T) {
	n := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"", OptionNone},
		{"  ", OptionNone},
		{"none", OptionNone},
		{"english", OptionEnglish},
		{"English Channels", OptionEnglish},
		{"CHR", OptionCharme},
		{"netflix 2", OptionNetflix2},
		{"2-ecrans", OptionTwoScreen},
		{"sport", "SPORT"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.NormalizeOption(tt.in))
		})
	}
}

func TestNormalizeDuration(t *testing.T) {
	n := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"3", "3 months"},
		{"3 mois", "3 months"},
		{"3_months", "3 months"},
		{"3-months", "3 months"},
		{"1", "1 month"},
		{"1 an", "12 months"},
		{"2 ans", "24 months"},
		{"24", "24 months"},
		{"9 MOIS", "9 months"},
		{"", DefaultDuration},
		{"forever", DefaultDuration},
		{"0", DefaultDuration},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.NormalizeDuration(tt.in))
		})
	}
}

func TestNormalizeRequest(t *testing.T) {
	n := Default()
	got := n.Normalize(types.RenewalRequest{
		SubscriberID: " 12345678 ",
		OfferCode:    "evasion",
		DurationCode: "3",
		OptionCode:   "english",
	})

	assert.Equal(t, types.NormalizedRequest{
		SubscriberID: "12345678",
		Offer:        OfferEvasion,
		Duration:     "3 months",
		Option:       OptionEnglish,
	}, got)
	assert.True(t, n.IsValidCombination(got.Offer, got.Option))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := Default()
	inputs := []types.RenewalRequest{
		{SubscriberID: "1", OfferCode: "access_plus", DurationCode: "6 mois", OptionCode: "chr"},
		{SubscriberID: "2", OfferCode: "tout-canal", DurationCode: "1 an", OptionCode: ""},
		{SubscriberID: "3", OfferCode: "mystery", DurationCode: "7", OptionCode: "netflix-4"},
		{SubscriberID: "4", OfferCode: "Evasion", DurationCode: "junk", OptionCode: "unknown option"},
		// long s upper-cases to S but lower-cases to itself
		{SubscriberID: "5", OfferCode: "acce\u017f\u017f_plus", DurationCode: "3", OptionCode: "nfx1\u017fmdd"},
		{SubscriberID: "6", OfferCode: "\u017fomething", DurationCode: "1", OptionCode: "\u017f"},
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		assert.Equal(t, once, n.Renormalize(once), in.SubscriberID)
	}

	folded := n.Normalize(inputs[4])
	assert.Equal(t, OfferAccessPlus, folded.Offer)
	assert.Equal(t, OptionNetflix1, folded.Option)
}

func TestIsValidCombination(t *testing.T) {
	n := Default()
	tests := []struct {
		offer, option string
		want          bool
	}{
		{OfferAccessPlus, OptionCharme, false},
		{OfferEvasion, OptionEnglish, true},
		{OfferAccessPlus, OptionEnglish, true},
		{OfferAccess, OptionEnglish, false},
		{OfferToutCanal, OptionEnglish, false},
		{OfferAccess, OptionCharme, true},
		{OfferAccess, OptionNone, true},
		{OfferToutCanal, OptionNetflix4, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.IsValidCombination(tt.offer, tt.option), "%s/%s", tt.offer, tt.option)
	}
}

func TestValidate(t *testing.T) {
	n := Default()

	err := n.Validate(types.NormalizedRequest{SubscriberID: "1", Offer: OfferAccessPlus, Option: OptionCharme})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "option", verr.Field)

	err = n.Validate(types.NormalizedRequest{SubscriberID: "1", Option: OptionNone})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "offer", verr.Field)

	err = n.Validate(types.NormalizedRequest{Offer: OfferAccess, Option: OptionNone})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "subscriber_id", verr.Field)

	assert.NoError(t, n.Validate(types.NormalizedRequest{SubscriberID: "1", Offer: OfferAccess, Option: OptionNone}))
}

func TestMonths(t *testing.T) {
	assert.Equal(t, 3, Months("3 months"))
	assert.Equal(t, 1, Months("1 month"))
	assert.Equal(t, 0, Months("soon"))
}

func TestLoadTablesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	content := `
offers:
  Basique: ACCESS
option_exclusions:
  CHARME: [ACCESS, ACCESS+]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	tables, err := LoadTables(path)
	require.NoError(t, err)

	n := New(tables)
	assert.Equal(t, OfferAccess, n.NormalizeOffer("basique"))
	assert.Equal(t, OfferEvasion, n.NormalizeOffer("evasion"))
	assert.False(t, n.IsValidCombination(OfferAccess, OptionCharme))
}

func TestLoadTablesMissingFile(t *testing.T) {
	_, err := LoadTables(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	tables, err := LoadTables("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTables().Offers, tables.Offers)
}

func TestNewCopiesTables(t *testing.T) {
	tables := DefaultTables()
	n := New(tables)
	tables.Offers["access"] = "CHANGED"
	assert.Equal(t, OfferAccess, n.NormalizeOffer("access"))
}
