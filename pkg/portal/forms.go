package portal

import (
	"fmt"
	"strconv"

	"github.com/entrhq/renewal/pkg/normalize"
)

var offerValues = map[string]string{
	normalize.OfferAccess:     "75W1AC|ACDD",
	normalize.OfferEvasion:    "75W2EV|EVDD",
	normalize.OfferAccessPlus: "75W4ACP|ACPDD",
	normalize.OfferToutCanal:  "75W6TCA|TCADD",
}

var optionValues = map[string]string{
	normalize.OptionCharme:    "CHR",
	normalize.OptionPVR:       "PVRDD",
	normalize.OptionTwoScreen: "2ECDD",
	normalize.OptionNetflix1:  "NFX1SMDD",
	normalize.OptionNetflix2:  "NFX2SMDD",
	normalize.OptionNetflix4:  "NFX4SMDD",
}

// The English add-on is a different product per offer.
var englishValues = map[string]string{
	normalize.OfferEvasion:    "EAOEVDD",
	normalize.OfferAccessPlus: "EAOACPDD",
}

// FieldTarget is what a dropdown should end up holding. Values are tried as
// exact option values, Labels as case-insensitive label matches.
type FieldTarget struct {
	Values []string
	Labels []string
	// Placeholder asks for the "Choisir..." entry to stay selected.
	Placeholder bool
	// Positional allows falling back to the first real entry.
	Positional bool
}

func (t FieldTarget) String() string {
	if t.Placeholder {
		return "<placeholder>"
	}
	return fmt.Sprintf("values=%v labels=%v", t.Values, t.Labels)
}

// OfferValue returns the form value of a canonical offer. Unknown offers are
// returned as is so operator codes can be passed straight through.
func OfferValue(offer string) string {
	if v, ok := offerValues[offer]; ok {
		return v
	}
	return offer
}

// OfferTarget describes the offer field for offer.
func OfferTarget(offer string) FieldTarget {
	return FieldTarget{
		Values:     []string{OfferValue(offer)},
		Labels:     []string{offer},
		Positional: true,
	}
}

// DurationTarget describes the duration field for a canonical duration.
func DurationTarget(duration string) FieldTarget {
	months := normalize.Months(duration)
	if months == 0 {
		months = 1
	}
	n := strconv.Itoa(months)
	return FieldTarget{
		Values:     []string{n},
		Labels:     []string{n + " mois", duration},
		Positional: true,
	}
}

// OptionTarget describes the option field for option on offer. The second
// result explains a forced placeholder and is empty otherwise.
func OptionTarget(offer, option string) (FieldTarget, string) {
	switch option {
	case "", normalize.OptionNone:
		return FieldTarget{Placeholder: true}, ""
	case normalize.OptionEnglish:
		v, ok := englishValues[offer]
		if !ok {
			return FieldTarget{Placeholder: true}, fmt.Sprintf("%s has no English add-on", offer)
		}
		return FieldTarget{Values: []string{v}, Labels: []string{"english"}}, ""
	}
	if v, ok := optionValues[option]; ok {
		return FieldTarget{Values: []string{v}, Labels: []string{option, v}}, ""
	}
	// Unmapped codes are tried verbatim.
	return FieldTarget{Values: []string{option}, Labels: []string{option}}, ""
}

// OptionValue returns the form value selected for option on offer, or "" when
// the option field keeps its placeholder.
func OptionValue(offer, option string) string {
	target, _ := OptionTarget(offer, option)
	if target.Placeholder {
		return ""
	}
	return target.Values[0]
}
