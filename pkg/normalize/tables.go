package normalize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Canonical offers.
const (
	OfferAccess     = "ACCESS"
	OfferAccessPlus = "ACCESS+"
	OfferEvasion    = "EVASION"
	OfferToutCanal  = "TOUT CANAL+"
)

// Canonical options.
const (
	OptionNone      = "SANS_OPTION"
	OptionEnglish   = "ENGLISH"
	OptionCharme    = "CHARME"
	OptionPVR       = "PVR"
	OptionTwoScreen = "2ECRANS"
	OptionNetflix1  = "NETFLIX1"
	OptionNetflix2  = "NETFLIX2"
	OptionNetflix4  = "NETFLIX4"
)

// DefaultDuration is used when a duration cannot be interpreted.
const DefaultDuration = "1 month"

// Tables holds the alias vocabulary and the offer/option compatibility
// matrix. Keys of the alias maps are lower-case.
type Tables struct {
	Offers    map[string]string `yaml:"offers"`
	Options   map[string]string `yaml:"options"`
	Durations map[string]string `yaml:"durations"`

	// OptionOffers restricts an option to the listed offers.
	OptionOffers map[string][]string `yaml:"option_offers"`
	// OptionExclusions forbids an option on the listed offers.
	OptionExclusions map[string][]string `yaml:"option_exclusions"`
}

// DefaultTables returns the built-in vocabulary.
func DefaultTables() Tables {
	return Tables{
		Offers: map[string]string{
			"access":          OfferAccess,
			"access_plus":     OfferAccessPlus,
			"access-plus":     OfferAccessPlus,
			"access+":         OfferAccessPlus,
			"evasion":         OfferEvasion,
			"tout_canal":      OfferToutCanal,
			"tout_canal_plus": OfferToutCanal,
			"tout-canal":      OfferToutCanal,
			"tout-canal-plus": OfferToutCanal,
			"tout canal":      OfferToutCanal,
			"tout canal+":     OfferToutCanal,
		},
		Options: map[string]string{
			"none":             OptionNone,
			"aucune":           OptionNone,
			"sans_option":      OptionNone,
			"sans option":      OptionNone,
			"english":          OptionEnglish,
			"english_channels": OptionEnglish,
			"english-channels": OptionEnglish,
			"english channels": OptionEnglish,
			"charme":           OptionCharme,
			"chr":              OptionCharme,
			"pvr":              OptionPVR,
			"pvrdd":            OptionPVR,
			"2ecrans":          OptionTwoScreen,
			"2_ecrans":         OptionTwoScreen,
			"2-ecrans":         OptionTwoScreen,
			"2 ecrans":         OptionTwoScreen,
			"2ecdd":            OptionTwoScreen,
			"netflix1":         OptionNetflix1,
			"netflix_1":        OptionNetflix1,
			"netflix-1":        OptionNetflix1,
			"netflix 1":        OptionNetflix1,
			"nfx1smdd":         OptionNetflix1,
			"netflix2":         OptionNetflix2,
			"netflix_2":        OptionNetflix2,
			"netflix-2":        OptionNetflix2,
			"netflix 2":        OptionNetflix2,
			"nfx2smdd":         OptionNetflix2,
			"netflix4":         OptionNetflix4,
			"netflix_4":        OptionNetflix4,
			"netflix-4":        OptionNetflix4,
			"netflix 4":        OptionNetflix4,
			"nfx4smdd":         OptionNetflix4,
		},
		Durations: map[string]string{
			"1":         "1 month",
			"3":         "3 months",
			"6":         "6 months",
			"12":        "12 months",
			"1 mois":    "1 month",
			"3 mois":    "3 months",
			"6 mois":    "6 months",
			"12 mois":   "12 months",
			"1_month":   "1 month",
			"3_months":  "3 months",
			"6_months":  "6 months",
			"12_months": "12 months",
			"1_mois":    "1 month",
			"3_mois":    "3 months",
			"6_mois":    "6 months",
			"12_mois":   "12 months",
			"1 month":   "1 month",
			"3 months":  "3 months",
			"6 months":  "6 months",
			"12 months": "12 months",
			"1 an":      "12 months",
			"1an":       "12 months",
			"1 année":   "12 months",
			"1 year":    "12 months",
		},
		OptionOffers: map[string][]string{
			OptionEnglish: {OfferEvasion, OfferAccessPlus},
		},
		OptionExclusions: map[string][]string{
			OptionCharme: {OfferAccessPlus},
		},
	}
}

// LoadTables reads alias overrides from a YAML file and merges them over the
// defaults. Override keys are lower-cased; matrix entries replace defaults
// per option.
func LoadTables(path string) (Tables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tables, fmt.Errorf("read alias file: %w", err)
	}

	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return tables, fmt.Errorf("parse alias file %s: %w", path, err)
	}

	mergeAliases(tables.Offers, override.Offers)
	mergeAliases(tables.Options, override.Options)
	mergeAliases(tables.Durations, override.Durations)
	for option, offers := range override.OptionOffers {
		tables.OptionOffers[option] = offers
	}
	for option, offers := range override.OptionExclusions {
		tables.OptionExclusions[option] = offers
	}
	return tables, nil
}

func mergeAliases(dst, src map[string]string) {
	for k, v := range src {
		dst[cleanKey(k)] = v
	}
}
