package portal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/entrhq/renewal/pkg/types"
)

var (
	namePattern    = regexp.MustCompile(`(.+?)\s*\((\d+/\d+)\)`)
	datePattern    = regexp.MustCompile(`(\d{1,2}[/-]\d{1,2}[/-]\d{4})`)
	addressPattern = regexp.MustCompile(`GCO\d{4}`)
	offerPattern   = regexp.MustCompile(`Offre Majeure\s*:?\s*(.+)`)
	digitsPattern  = regexp.MustCompile(`\d+`)
)

// Cities the portal prints on subscriber panels.
var Cities = []string{"CONAKRY", "SIGUIRI", "KANKAN", "KINDIA", "LABE", "MAMOU", "FARANAH", "BOKE", "NZEREKORE"}

// Offer names as they appear on panels, most specific first.
var panelOffers = []string{"ACCESS+", "TOUT CANAL+", "EVASION+", "ACCESS", "EVASION"}

// ParseSubscribers extracts subscriber records from panel HTML fragments.
// Fragments that do not parse are skipped.
func ParseSubscribers(panels []string) []types.SubscriberInfo {
	out := make([]types.SubscriberInfo, 0, len(panels))
	for _, html := range panels {
		info, err := ParseSubscriber(html)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

// ParseSubscriber extracts one subscriber record from a panel.
func ParseSubscriber(html string) (types.SubscriberInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.SubscriberInfo{}, fmt.Errorf("parse subscriber panel: %w", err)
	}

	var info types.SubscriberInfo

	nameText := strings.TrimSpace(doc.Find(".subscriber-name").First().Text())
	if m := namePattern.FindStringSubmatch(nameText); m != nil {
		info.Name = strings.TrimSpace(m[1])
		info.ContractNumber = strings.TrimSpace(m[2])
		info.DecoderNumber = strings.SplitN(info.ContractNumber, "/", 2)[0]
	} else if nameText != "" {
		info.Name = nameText
	}

	doc.Find(".subscriber-simple").Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")

		switch {
		case strings.EqualFold(text, "Active"):
			info.Status = "Active"
		case strings.EqualFold(text, "Inactive"):
			info.Status = "Inactive"
		case strings.Contains(text, "ECHU") || strings.Contains(text, "ANNULE"):
			info.Status = "ECHU OU ANNULE"
		}

		if info.EndDate == "" {
			if m := datePattern.FindStringSubmatch(text); m != nil {
				info.EndDate = FormatDate(m[1])
			}
		}

		if info.Offer == "" {
			if inner, _ := sel.Html(); strings.Contains(inner, "Offre Majeure") {
				// The label lives in an <i>, as text or as its title.
				bare := sel.Clone()
				bare.Find("i").Remove()
				offer := strings.Join(strings.Fields(bare.Text()), " ")
				if m := offerPattern.FindStringSubmatch(offer); m != nil {
					offer = strings.TrimSpace(m[1])
				}
				offer = strings.TrimLeft(offer, ": ")
				if offer != "" && !strings.Contains(offer, "Offre") {
					info.Offer = offer
				}
			}
		}

		if info.City == "" {
			for _, city := range Cities {
				if strings.Contains(text, city) {
					info.City = city
					break
				}
			}
		}

		if info.Address == "" && addressPattern.MatchString(text) {
			info.Address = text
		}
	})

	if info.Offer == "" {
		full := doc.Text()
		for _, offer := range panelOffers {
			if strings.Contains(full, offer) {
				info.Offer = offer
				break
			}
		}
	}

	return info, nil
}

// FormatDate rewrites a panel date as DD/MM/YYYY. The portal prints
// month-first dates; a first field above 12 can only be a day and is kept in
// place.
func FormatDate(date string) string {
	parts := strings.Split(strings.ReplaceAll(date, "-", "/"), "/")
	if len(parts) != 3 {
		return date
	}
	first, err1 := strconv.Atoi(parts[0])
	second, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return date
	}
	if first > 12 {
		return fmt.Sprintf("%02d/%02d/%04d", first, second, year)
	}
	return fmt.Sprintf("%02d/%02d/%04d", second, first, year)
}

// ParseAmount extracts an integer amount from an invoice total such as
// "15 000 GNF". ok is false when text holds no digits.
func ParseAmount(text string) (amount int, ok bool) {
	digits := strings.Join(digitsPattern.FindAllString(text, -1), "")
	if digits == "" {
		return 0, false
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CleanPhone normalizes a Guinean mobile number to +224XXXXXXXXX. Numbers in
// an unrecognized format are returned trimmed but otherwise unchanged.
func CleanPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	switch {
	case strings.HasPrefix(cleaned, "00224"):
		return "+224" + cleaned[5:]
	case strings.HasPrefix(cleaned, "224") && len(cleaned) == 12:
		return "+" + cleaned
	case len(cleaned) == 9 && (cleaned[0] == '6' || cleaned[0] == '7'):
		return "+224" + cleaned
	case strings.HasPrefix(cleaned, "+224") && len(cleaned) == 13:
		return cleaned
	default:
		return phone
	}
}
