package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/renewal/pkg/normalize"
	"github.com/entrhq/renewal/pkg/types"
)

func TestCategorize(t *testing.T) {
	p := DefaultProfile()
	tests := []struct {
		banner   string
		wantCat  types.ErrorCategory
		wantCode string
	}{
		{"Solde insuffisant (DTA-1009)", types.CategoryInsufficientBalance, "DTA-1009"},
		{"Erreur technique (DTA-2001)", types.CategoryUnknown, "DTA-2001"},
		{"Something went wrong", types.CategoryUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.banner, func(t *testing.T) {
			cat, code := p.Categorize(tt.banner)
			assert.Equal(t, tt.wantCat, cat)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestOptionNotSelected(t *testing.T) {
	p := DefaultProfile()
	assert.True(t, p.IsOptionNotSelected("Please select Payment Mean"))
	assert.True(t, p.IsOptionNotSelected("Veuillez choisir un moyen de paiement"))
	assert.False(t, p.IsOptionNotSelected("Solde insuffisant (DTA-1009)"))
}

func TestViews(t *testing.T) {
	p := DefaultProfile()
	assert.True(t, p.InSubmissionView("https://portal/mypos/#/search-subscriber/123"))
	assert.False(t, p.InSubmissionView("https://portal/mypos/#/reports/frameset"))
	assert.True(t, p.InPortalView("https://portal/mypos/#/validation"))
	assert.False(t, p.InPortalView("https://receipts.example.com/r/1"))
}

func TestURLMatcher(t *testing.T) {
	p := DefaultProfile()
	success := MustURLMatcher(p.SuccessURLs)

	assert.Equal(t, "*reports/frameset*", success.Match("https://portal/mypos/reports/frameset?id=9"))
	assert.Equal(t, "*invoice*", success.Match("https://portal/invoice/42"))
	assert.Empty(t, success.Match("https://portal/mypos/#/search-subscriber"))

	login := MustURLMatcher(p.LoginURLs)
	assert.NotEmpty(t, login.Match("https://portal/mypos/#/dashboard"))

	var nilMatcher *URLMatcher
	assert.Empty(t, nilMatcher.Match("anything"))

	_, err := NewURLMatcher([]string{"[unclosed"})
	assert.Error(t, err)
}

func TestOfferTarget(t *testing.T) {
	assert.Equal(t, "75W2EV|EVDD", OfferValue(normalize.OfferEvasion))
	assert.Equal(t, "75W6TCA|TCADD", OfferValue(normalize.OfferToutCanal))
	assert.Equal(t, "CUSTOM", OfferValue("CUSTOM"))

	target := OfferTarget(normalize.OfferAccessPlus)
	assert.Equal(t, []string{"75W4ACP|ACPDD"}, target.Values)
	assert.True(t, target.Positional)
}

func TestOptionTarget(t *testing.T) {
	tests := []struct {
		name            string
		offer, option   string
		wantValues      []string
		wantPlaceholder bool
		wantReason      bool
	}{
		{"none", normalize.OfferAccess, normalize.OptionNone, nil, true, false},
		{"english on evasion", normalize.OfferEvasion, normalize.OptionEnglish, []string{"EAOEVDD"}, false, false},
		{"english on access+", normalize.OfferAccessPlus, normalize.OptionEnglish, []string{"EAOACPDD"}, false, false},
		{"english on access", normalize.OfferAccess, normalize.OptionEnglish, nil, true, true},
		{"english on tout canal", normalize.OfferToutCanal, normalize.OptionEnglish, nil, true, true},
		{"charme", normalize.OfferAccess, normalize.OptionCharme, []string{"CHR"}, false, false},
		{"netflix", normalize.OfferEvasion, normalize.OptionNetflix2, []string{"NFX2SMDD"}, false, false},
		{"unmapped", normalize.OfferEvasion, "SPORT", []string{"SPORT"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, reason := OptionTarget(tt.offer, tt.option)
			assert.Equal(t, tt.wantPlaceholder, target.Placeholder)
			assert.Equal(t, tt.wantValues, target.Values)
			assert.Equal(t, tt.wantReason, reason != "")
			assert.False(t, target.Positional)

			want := ""
			if len(tt.wantValues) > 0 {
				want = tt.wantValues[0]
			}
			assert.Equal(t, want, OptionValue(tt.offer, tt.option))
		})
	}
}

func TestDurationTarget(t *testing.T) {
	target := DurationTarget("3 months")
	assert.Equal(t, []string{"3"}, target.Values)
	assert.Contains(t, target.Labels, "3 mois")

	assert.Equal(t, []string{"1"}, DurationTarget("garbage").Values)
}

const panelHTML = `
<div class="subscriber-pane">
  <div class="subscriber-name">MAMADOU DIALLO (14523678/1)</div>
  <span class="subscriber-simple">Active</span>
  <span class="subscriber-simple">Fin : 03/15/2025</span>
  <span class="subscriber-simple"><i class="fa fa-tv" title="Offre Majeure"></i> EVASION</span>
  <span class="subscriber-simple">KANKAN</span>
  <span class="subscriber-simple">GCO1234 QUARTIER CENTRE</span>
</div>`

func TestParseSubscriber(t *testing.T) {
	info, err := ParseSubscriber(panelHTML)
	require.NoError(t, err)

	assert.Equal(t, types.SubscriberInfo{
		Name:           "MAMADOU DIALLO",
		ContractNumber: "14523678/1",
		DecoderNumber:  "14523678",
		Status:         "Active",
		EndDate:        "15/03/2025",
		Offer:          "EVASION",
		City:           "KANKAN",
		Address:        "GCO1234 QUARTIER CENTRE",
	}, info)
}

func TestParseSubscriberOfferFallbacks(t *testing.T) {
	textual := `<div class="subscriber-pane">
	  <div class="subscriber-name">A B (1/2)</div>
	  <span class="subscriber-simple">Offre Majeure : TOUT CANAL+</span>
	  <span class="subscriber-simple">ECHU OU ANNULE</span>
	</div>`
	info, err := ParseSubscriber(textual)
	require.NoError(t, err)
	assert.Equal(t, "TOUT CANAL+", info.Offer)
	assert.Equal(t, "ECHU OU ANNULE", info.Status)

	raw := `<div class="subscriber-pane"><div class="subscriber-name">C D (3/4)</div><p>Pack ACCESS+ actif</p></div>`
	info, err = ParseSubscriber(raw)
	require.NoError(t, err)
	assert.Equal(t, "ACCESS+", info.Offer)
}

func TestParseSubscribers(t *testing.T) {
	infos := ParseSubscribers([]string{panelHTML, panelHTML})
	assert.Len(t, infos, 2)
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "15/03/2025", FormatDate("03/15/2025"))
	assert.Equal(t, "25/12/2024", FormatDate("25-12-2024"))
	assert.Equal(t, "05/04/2025", FormatDate("4/5/2025"))
	assert.Equal(t, "soon", FormatDate("soon"))
}

func TestParseAmount(t *testing.T) {
	v, ok := ParseAmount("15 000 GNF")
	assert.True(t, ok)
	assert.Equal(t, 15000, v)

	_, ok = ParseAmount("N/A")
	assert.False(t, ok)
}

func TestCleanPhone(t *testing.T) {
	tests := map[string]string{
		"00224-622123456": "+224622123456",
		"224622123456":    "+224622123456",
		"622 12 34 56":    "+224622123456",
		"+224622123456":   "+224622123456",
		"12345":           "12345",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanPhone(in), in)
	}
}
