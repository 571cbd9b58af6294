package portal

import (
	"regexp"
	"strings"

	"github.com/entrhq/renewal/pkg/types"
)

var errorCodePattern = regexp.MustCompile(`\((DTA-\d+)\)`)

// ExtractErrorCode returns the first "(DTA-nnnn)" code in text, without the
// parentheses, or "".
func ExtractErrorCode(text string) string {
	m := errorCodePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Categorize maps an error banner to a category and the code it carried.
// Banners without a code, and codes the profile does not know, are
// CategoryUnknown.
func (p Profile) Categorize(banner string) (types.ErrorCategory, string) {
	code := ExtractErrorCode(banner)
	if code == "" {
		return types.CategoryUnknown, ""
	}
	if cat, ok := p.ErrorCodes[code]; ok {
		return cat, code
	}
	return types.CategoryUnknown, code
}

// IsOptionNotSelected reports whether banner is the payment-mean banner the
// portal sometimes raises on a submission that went through.
func (p Profile) IsOptionNotSelected(banner string) bool {
	return ContainsAny(banner, p.OptionNotSelectedMarkers)
}

// InSubmissionView reports whether url is still the view the form was
// submitted from.
func (p Profile) InSubmissionView(url string) bool {
	return containsAnyRaw(url, p.SubmissionView)
}

// InPortalView reports whether url is still inside the submission flow.
func (p Profile) InPortalView(url string) bool {
	return containsAnyRaw(url, p.PortalView)
}

// ContainsAny reports whether text contains one of markers, ignoring case.
func ContainsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func containsAnyRaw(s string, parts []string) bool {
	for _, p := range parts {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
