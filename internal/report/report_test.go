package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

func ptr(v float64) *float64 { return &v }

func sampleResult() winescan.ScanResult {
	margaux := winescan.Wine{
		Name: "Château Margaux", Vintage: "2015", RestaurantPrice: 1400,
		RealPrice: ptr(700), Markup: ptr(100), CriticScore: ptr(96.5), CriticCount: 3, TopCritic: "Vinous",
		DataSource: winescan.DataSourceIdentity, LWIN: "1012345",
	}
	garage := winescan.Wine{
		Name: "Garage | Red", RestaurantPrice: 60, DataSource: winescan.DataSourceWebSearch, SearchConfidence: ptr(0.45),
	}
	house := winescan.Wine{Name: "House Red", RestaurantPrice: 30}
	wines := []winescan.Wine{margaux, garage, house}
	return winescan.ScanResult{
		ID:        "scan-1",
		CreatedAt: time.Date(2024, 3, 1, 19, 30, 0, 0, time.UTC),
		Items:     []winescan.WineListItem{{Name: "Ch. Margaux"}, {Name: "Garage Red"}, {Name: "House Red"}},
		Matches:   []winescan.MatchCandidate{{Matched: true}, {Matched: true}, {}},
		Wines:     wines,
		Rankings:  winescan.Rank(wines),
		Metadata:  winescan.ScanMetadata{TotalItems: 3, IdentityMatched: 1, WebSearchMatched: 1, Unmatched: 1, Priced: 1, Scored: 1},
	}
}

func TestBuildMarkdown(t *testing.T) {
	md := BuildMarkdown(sampleResult())

	assert.Contains(t, md, "# Wine List Report")
	assert.Contains(t, md, "- Scan ID: scan-1")
	assert.Contains(t, md, "- Matched: 1 from the wine database, 1 from web search, 1 unmatched")
	assert.Contains(t, md, "| 1 | Château Margaux | 2015 | $1400.00 | $700.00 | 100% | 96.5 (top: Vinous) | database |")
	assert.Contains(t, md, `Garage \| Red`)
	assert.Contains(t, md, "web (45%)")
	assert.Contains(t, md, "## Unmatched\n\n- House Red\n")
	assert.NotContains(t, md, "Web search was unavailable")
}

func TestBuildMarkdownEmptyRankings(t *testing.T) {
	res := winescan.ScanResult{ID: "empty", Rankings: winescan.Rank(nil), Metadata: winescan.ScanMetadata{FallbackDegraded: true}}
	md := BuildMarkdown(res)
	assert.Equal(t, 3, strings.Count(md, "Not enough data to rank."))
	assert.Contains(t, md, "Web search was unavailable")
}

func TestRenderHTMLProducesTables(t *testing.T) {
	doc, err := RenderHTML("Scan <1>", BuildMarkdown(sampleResult()))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc, "<!doctype html>"))
	assert.Contains(t, doc, "<title>Scan &lt;1&gt;</title>")
	assert.Contains(t, doc, "<table>")
	assert.Contains(t, doc, "<td>Château Margaux</td>")
}

func TestPDFRendererProducesPDF(t *testing.T) {
	if DetectChromePath() == "" {
		t.Skip("chromium not installed")
	}
	doc, err := RenderHTML("scan", BuildMarkdown(sampleResult()))
	require.NoError(t, err)
	pdf, err := NewPDFRenderer("").Render(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
}
