// Package normalize canonicalizes free-form renewal parameters into the
// closed offer/duration/option vocabulary and checks offer/option
// compatibility.
package normalize

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/entrhq/renewal/pkg/types"
)

var durationPattern = regexp.MustCompile(`^(\d+)\s*(mois|months?|ans?|années?|annees?|years?)?$`)

// Normalizer resolves aliases against tables that are fixed at construction.
type Normalizer struct {
	offers    map[string]string
	options   map[string]string
	durations map[string]string

	optionOffers     map[string][]string
	optionExclusions map[string][]string
}

// New builds a Normalizer from tables. The tables are copied; later changes
// to the argument have no effect.
func New(tables Tables) *Normalizer {
	return &Normalizer{
		offers:           closeOver(tables.Offers),
		options:          closeOver(tables.Options),
		durations:        closeOver(tables.Durations),
		optionOffers:     copyMatrix(tables.OptionOffers),
		optionExclusions: copyMatrix(tables.OptionExclusions),
	}
}

// Default returns a Normalizer over DefaultTables.
func Default() *Normalizer {
	return New(DefaultTables())
}

// closeOver copies an alias table and makes every canonical value an alias
// of itself, which is what keeps normalization idempotent.
func closeOver(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src)*2)
	for k, v := range src {
		dst[cleanKey(k)] = v
	}
	for _, v := range src {
		dst[cleanKey(v)] = v
	}
	return dst
}

func copyMatrix(src map[string][]string) map[string][]string {
	dst := make(map[string][]string, len(src))
	for k, v := range src {
		dst[k] = slices.Clone(v)
	}
	return dst
}

// cleanKey folds through upper case first so that a passed-through,
// upper-cased value produces the same key as its raw input.
func cleanKey(s string) string {
	return strings.ToLower(strings.ToUpper(strings.TrimSpace(s)))
}

// Normalize canonicalizes every field of req. Unknown offers and options pass
// through upper-cased; compatibility is checked separately by
// IsValidCombination.
func (n *Normalizer) Normalize(req types.RenewalRequest) types.NormalizedRequest {
	return types.NormalizedRequest{
		SubscriberID: strings.TrimSpace(req.SubscriberID),
		Offer:        n.NormalizeOffer(req.OfferCode),
		Duration:     n.NormalizeDuration(req.DurationCode),
		Option:       n.NormalizeOption(req.OptionCode),
	}
}

// Renormalize runs an already normalized request through Normalize again.
func (n *Normalizer) Renormalize(req types.NormalizedRequest) types.NormalizedRequest {
	return n.Normalize(types.RenewalRequest{
		SubscriberID: req.SubscriberID,
		OfferCode:    req.Offer,
		DurationCode: req.Duration,
		OptionCode:   req.Option,
	})
}

// NormalizeOffer maps an offer alias to its canonical name. A blank offer
// stays blank.
func (n *Normalizer) NormalizeOffer(offer string) string {
	if strings.TrimSpace(offer) == "" {
		return ""
	}
	return lookup(n.offers, offer)
}

// NormalizeOption maps an option alias to its canonical name. A blank option
// means no add-on.
func (n *Normalizer) NormalizeOption(option string) string {
	if strings.TrimSpace(option) == "" {
		return OptionNone
	}
	return lookup(n.options, option)
}

func lookup(table map[string]string, raw string) string {
	key := cleanKey(raw)
	if v, ok := table[key]; ok {
		return v
	}
	if v, ok := table[underscored(key)]; ok {
		return v
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

func underscored(s string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// NormalizeDuration returns a canonical "N month(s)" value. Durations that
// cannot be interpreted fall back to DefaultDuration.
func (n *Normalizer) NormalizeDuration(duration string) string {
	key := cleanKey(duration)
	if key == "" {
		return DefaultDuration
	}
	if v, ok := n.durations[key]; ok {
		return v
	}
	spaced := strings.Join(strings.FieldsFunc(key, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), " ")
	if v, ok := n.durations[spaced]; ok {
		return v
	}

	m := durationPattern.FindStringSubmatch(spaced)
	if m == nil {
		return DefaultDuration
	}
	months, err := strconv.Atoi(m[1])
	if err != nil || months <= 0 {
		return DefaultDuration
	}
	if unit := m[2]; strings.HasPrefix(unit, "an") || strings.HasPrefix(unit, "ann") || strings.HasPrefix(unit, "year") {
		months *= 12
	}
	return formatMonths(months)
}

func formatMonths(months int) string {
	if months == 1 {
		return "1 month"
	}
	return fmt.Sprintf("%d months", months)
}

// Months returns the number of months in a canonical duration, or 0.
func Months(duration string) int {
	m := durationPattern.FindStringSubmatch(cleanKey(duration))
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

// IsValidCombination reports whether option may be sold with offer.
func (n *Normalizer) IsValidCombination(offer, option string) bool {
	if allowed, ok := n.optionOffers[option]; ok && !slices.Contains(allowed, offer) {
		return false
	}
	if excluded, ok := n.optionExclusions[option]; ok && slices.Contains(excluded, offer) {
		return false
	}
	return true
}

// Validate checks a normalized request before any session is acquired.
func (n *Normalizer) Validate(req types.NormalizedRequest) error {
	if req.SubscriberID == "" {
		return &types.ValidationError{Field: "subscriber_id", Reason: "required"}
	}
	if req.Offer == "" {
		return &types.ValidationError{Field: "offer", Reason: "required"}
	}
	if !n.IsValidCombination(req.Offer, req.Option) {
		return &types.ValidationError{
			Field:  "option",
			Reason: fmt.Sprintf("%s is not available with %s", req.Option, req.Offer),
		}
	}
	return nil
}
