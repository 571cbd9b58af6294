// Package portal describes the operator's point-of-sale web portal: where it
// lives, how its controls are located, which form values its dropdowns use
// and how its post-submission signals read.
//
// The workflow and the classifier hold no selectors or scripts of their own;
// everything portal-specific is owned here so a portal change touches one
// package.
package portal

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/entrhq/renewal/pkg/types"
)

// DefaultBaseURL is the portal login page.
const DefaultBaseURL = "https://cgaweb-afrique.canal-plus.com/mypos/"

// Selectors used by the workflow.
const (
	SelLoginInput      = "input[data-cy='login_input']"
	SelPasswordInput   = "input[data-cy='password_input']"
	SelLoginButton     = "button[data-cy='button_input']"
	SelSubscriberInput = "input[data-cy='Subscriber']"
	SelSearchButton    = "button[data-cy='search-btn']"

	SelSelectSubscriber = "[data-cy='select-subscriber']"
	SelSubscriberValid  = "[data-cy='subscriber-valid']"
	SelRenewalQuick     = "[data-cy='renewal-quick']"

	SelDuration = "select[name='duration']"
	SelOffer    = "select[name='offer']"
	SelOption   = "select[name='option']"

	SelValidOffers        = "[data-cy='valid-offers-stateless']"
	SelInvoiceValidation  = "button[data-cy='invoice-validation']"
	SelContinueValidation = "button[data-cy='continue-validation']"

	SelErrorAlert   = "#sas-alert"
	SelErrorMessage = "#sas-alert .error-message"
	SelSuccessPanel = ".operation-achieved-div"

	SelSubscriberPanels = ".div-table-subscriber .subscriber-pane"
)

// SubscriberResultSelectors signal that a search returned at least one panel.
var SubscriberResultSelectors = []string{
	".div-table-subscriber",
	".subscriber-pane",
	SelSelectSubscriber,
}

// ConfirmSelectors locate the final confirmation control, in priority order.
var ConfirmSelectors = []string{
	SelInvoiceValidation,
	`button:has-text("Valider")`,
	`button:has-text("Confirmer")`,
}

// AmountSelectors locate the invoice total shown before confirmation.
var AmountSelectors = []string{".invoice-price-amount", ".amount", ".price", ".total"}

// NotFoundMarkers appear in the banner shown for an unknown subscriber.
var NotFoundMarkers = []string{"aucun", "introuvable"}

// SuccessMarkers appear in the success banner, lower-case.
var SuccessMarkers = []string{"succès", "réussi", "successful"}

// SuccessContext narrows the broad success search to renewal messages.
var SuccessContext = []string{"réabonnement", "abonnement", "renewal"}

// Profile gathers everything the workflow and classifier need to know about
// one portal deployment.
type Profile struct {
	BaseURL string

	// LoginURLs are globs matched against the location after login.
	LoginURLs []string
	// SuccessURLs are globs for post-success locations (receipt, invoice).
	SuccessURLs []string
	// SubmissionView marks the location the form is submitted from. Leaving
	// it discards a transient option-not-selected banner.
	SubmissionView []string
	// PortalView marks any location still inside the submission flow; the
	// final classifier check treats leaving all of them as success.
	PortalView []string

	// ErrorCodes maps portal error codes to categories.
	ErrorCodes map[string]types.ErrorCategory
	// OptionNotSelectedMarkers identify the transient payment-mean banner.
	OptionNotSelectedMarkers []string
}

// DefaultProfile returns the profile of the production portal.
func DefaultProfile() Profile {
	return Profile{
		BaseURL:        DefaultBaseURL,
		LoginURLs:      []string{"*dashboard*", "*search-subscriber*"},
		SuccessURLs:    []string{"*reports/frameset*", "*facture*", "*invoice*", "*confirmation*", "*success*"},
		SubmissionView: []string{"search-subscriber"},
		PortalView:     []string{"mypos", "validation"},
		ErrorCodes: map[string]types.ErrorCategory{
			"DTA-1009": types.CategoryInsufficientBalance,
		},
		OptionNotSelectedMarkers: []string{"payment mean", "moyen de paiement"},
	}
}

// URLMatcher matches locations against a set of globs.
type URLMatcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewURLMatcher compiles patterns.
func NewURLMatcher(patterns []string) (*URLMatcher, error) {
	m := &URLMatcher{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// MustURLMatcher is NewURLMatcher for patterns known at compile time.
func MustURLMatcher(patterns []string) *URLMatcher {
	m, err := NewURLMatcher(patterns)
	if err != nil {
		panic(err)
	}
	return m
}

// Match returns the first pattern matching url, or "".
func (m *URLMatcher) Match(url string) string {
	if m == nil {
		return ""
	}
	for i, g := range m.globs {
		if g.Match(url) {
			return m.patterns[i]
		}
	}
	return ""
}
