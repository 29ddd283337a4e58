package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

const Disclaimer = "Market prices are estimates from retail listings and may differ from what the restaurant paid. Web-search matches are best-effort guesses."

// BuildMarkdown renders a scan as a markdown report.
func BuildMarkdown(res winescan.ScanResult) string {
	var b strings.Builder
	md := res.Metadata
	fmt.Fprintf(&b, "# Wine List Report\n\n")
	fmt.Fprintf(&b, "- Scan ID: %s\n", res.ID)
	if !res.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Date: %s\n", res.CreatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Wines on list: %d\n", md.TotalItems)
	fmt.Fprintf(&b, "- Matched: %d from the wine database, %d from web search, %d unmatched\n", md.IdentityMatched, md.WebSearchMatched, md.Unmatched)
	fmt.Fprintf(&b, "- Priced: %d, scored: %d\n", md.Priced, md.Scored)
	if md.FallbackDegraded {
		fmt.Fprintf(&b, "- Web search was unavailable for this scan; unmatched wines were not looked up.\n")
	}
	fmt.Fprintf(&b, "\n%s\n\n", Disclaimer)

	appendRanking(&b, "Highest Rated", res.Rankings.HighestRated)
	appendRanking(&b, "Best Value", res.Rankings.BestValue)
	appendRanking(&b, "Most Inexpensive", res.Rankings.MostInexpensive)

	fmt.Fprintf(&b, "## All Wines\n\n")
	if len(res.Wines) == 0 {
		fmt.Fprintf(&b, "No wines.\n\n")
	} else {
		writeTable(&b, res.Wines)
	}

	var unmatched []string
	for i, m := range res.Matches {
		if !m.Matched && i < len(res.Items) {
			unmatched = append(unmatched, res.Items[i].Name)
		}
	}
	if len(unmatched) > 0 {
		fmt.Fprintf(&b, "## Unmatched\n\n")
		for _, n := range unmatched {
			fmt.Fprintf(&b, "- %s\n", sanitizeLine(n))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func appendRanking(b *strings.Builder, title string, wines []winescan.Wine) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(wines) == 0 {
		fmt.Fprintf(b, "Not enough data to rank.\n\n")
		return
	}
	writeTable(b, wines)
}

func writeTable(b *strings.Builder, wines []winescan.Wine) {
	b.WriteString("| # | Wine | Vintage | List price | Market price | Markup | Critic score | Source |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for i, w := range wines {
		fmt.Fprintf(b, "| %d | %s | %s | %s | %s | %s | %s | %s |\n",
			i+1,
			escapeCell(w.Name),
			escapeCell(w.Vintage),
			money(w.RestaurantPrice),
			optMoney(w.RealPrice),
			optPercent(w.Markup),
			criticCell(w),
			sourceCell(w),
		)
	}
	b.WriteString("\n")
}

func money(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}

func optMoney(v *float64) string {
	if v == nil {
		return "-"
	}
	return money(*v)
}

func optPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromFloat(*v).StringFixed(0) + "%"
}

func criticCell(w winescan.Wine) string {
	if w.CriticScore == nil {
		return "-"
	}
	s := decimal.NewFromFloat(*w.CriticScore).StringFixed(1)
	if w.TopCritic != "" {
		s += " (top: " + escapeCell(w.TopCritic) + ")"
	}
	return s
}

func sourceCell(w winescan.Wine) string {
	switch w.DataSource {
	case winescan.DataSourceIdentity:
		return "database"
	case winescan.DataSourceWebSearch:
		if w.SearchConfidence != nil {
			return fmt.Sprintf("web (%.0f%%)", *w.SearchConfidence*100)
		}
		return "web"
	}
	return "unmatched"
}

func escapeCell(s string) string {
	s = sanitizeLine(s)
	return strings.ReplaceAll(s, "|", `\|`)
}

func sanitizeLine(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if s == "" {
		return "-"
	}
	return s
}
