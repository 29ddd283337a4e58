package winescan

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	trailingPriceRe = regexp.MustCompile(`(?i)([$£€¥]\s*)?(\d{1,3}(?:,\d{3})+|\d+)(\.\d{1,2})?\s*([$£€¥]|eur|usd|gbp|chf)?\s*$`)
	vintageRe       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	nonVintageRe    = regexp.MustCompile(`(?i)\bn\.?v\.?\b`)
	leaderRe        = regexp.MustCompile(`[.\s\-–—_:|,/]+$`)
)

// ParseWineList turns plain wine-list text (one wine per line, price last)
// into line items. Lines without a positive trailing price are skipped.
func ParseWineList(text string) []WineListItem {
	var items []WineListItem
	for _, line := range strings.Split(text, "\n") {
		if item, ok := ParseWineLine(line); ok {
			items = append(items, item)
		}
	}
	return items
}

func ParseWineLine(line string) (WineListItem, bool) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return WineListItem{}, false
	}
	loc := trailingPriceRe.FindStringSubmatchIndex(raw)
	if loc == nil {
		return WineListItem{}, false
	}
	hasCurrency := loc[2] >= 0 || loc[8] >= 0
	whole := raw[loc[4]:loc[5]]
	frac := ""
	if loc[6] >= 0 {
		frac = raw[loc[6]:loc[7]]
	}
	if !hasCurrency && frac == "" && vintageRe.MatchString(whole) && len(whole) == 4 {
		// A bare trailing year is a vintage, not a price.
		return WineListItem{}, false
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(whole, ",", "") + frac)
	if err != nil || !price.IsPositive() {
		return WineListItem{}, false
	}

	name := leaderRe.ReplaceAllString(strings.TrimSpace(raw[:loc[0]]), "")
	vintage := ""
	if v := vintageRe.FindString(name); v != "" {
		vintage = v
		name = strings.Replace(name, v, "", 1)
	} else if nv := nonVintageRe.FindString(name); nv != "" {
		vintage = "NV"
		name = strings.Replace(name, nv, "", 1)
	}
	name = leaderRe.ReplaceAllString(collapseSpaces(name), "")
	if name == "" {
		return WineListItem{}, false
	}
	return WineListItem{
		RawText: raw,
		Name:    name,
		Vintage: vintage,
		Price:   price.InexactFloat64(),
	}, true
}
