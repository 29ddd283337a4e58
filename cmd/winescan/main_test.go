package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/winelist-scanner/internal/store"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

func ptr(v float64) *float64 { return &v }

func TestParseScanInputFormats(t *testing.T) {
	items, err := parseScanInput([]byte(`[{"name":"Margaux","vintage":"2015","price":850}]`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Margaux", items[0].Name)

	items, err = parseScanInput([]byte(`{"items":[{"name":"Sancerre","price":65},{"name":"Chablis","price":70}]}`))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = parseScanInput([]byte("WHITES\nSancerre 2022 ..... 65\nChablis Premier Cru $70.50\n"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Sancerre", items[0].Name)
	assert.Equal(t, "2022", items[0].Vintage)
	assert.Equal(t, 70.5, items[1].Price)

	_, err = parseScanInput([]byte("   "))
	assert.ErrorIs(t, err, winescan.ErrEmptyRequest)

	_, err = parseScanInput([]byte(`[{"name":`))
	assert.Error(t, err)
}

func TestParseWinesInput(t *testing.T) {
	wines, err := parseWinesInput([]byte(`[{"name":"A","restaurant_price":40}]`))
	require.NoError(t, err)
	require.Len(t, wines, 1)

	wines, err = parseWinesInput([]byte(`{"id":"s1","wines":[{"name":"A","restaurant_price":40},{"name":"B","restaurant_price":20}]}`))
	require.NoError(t, err)
	assert.Len(t, wines, 2)
}

func TestWriteJSONQuery(t *testing.T) {
	rankings := winescan.Rank([]winescan.Wine{
		{Name: "A", RestaurantPrice: 40},
		{Name: "B", RestaurantPrice: 20},
	})

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, rankings, "most_inexpensive[].name"))
	var names []string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &names))
	assert.Equal(t, []string{"B", "A"}, names)

	buf.Reset()
	assert.Error(t, writeJSON(&buf, rankings, "[[["))
}

type stubPDF struct{ got string }

func (s *stubPDF) Render(_ context.Context, htmlDoc string) ([]byte, error) {
	s.got = htmlDoc
	return []byte("%PDF-stub"), nil
}

func TestRenderReportByExtension(t *testing.T) {
	res := winescan.ScanResult{
		ID:    "s1",
		Wines: []winescan.Wine{{Name: "Margaux", RestaurantPrice: 850, RealPrice: ptr(425), Markup: ptr(100)}},
	}
	pdf := &stubPDF{}

	md, err := renderReport(context.Background(), res, "out.md", pdf)
	require.NoError(t, err)
	assert.Contains(t, string(md), "Margaux")

	html, err := renderReport(context.Background(), res, "out.HTML", pdf)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<table>")

	out, err := renderReport(context.Background(), res, "out.pdf", pdf)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-stub", string(out))
	assert.Contains(t, pdf.got, "Margaux")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, []store.ScanSummary{
		{ID: "scan-1", CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), TotalItems: 3, IdentityMatched: 2, Unmatched: 1},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "scan-1")
}

// isolateEnv points every file the CLI touches at a temp dir.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("WINESCAN_STORE_PATH", filepath.Join(dir, "scans.db"))
	t.Setenv("WINESCAN_CACHE_BACKEND", "none")
	t.Setenv("WINESCAN_LOG_LEVEL", "disabled")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	return dir
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func TestRankCommand(t *testing.T) {
	dir := isolateEnv(t)
	in := filepath.Join(dir, "wines.json")
	out := filepath.Join(dir, "rankings.json")
	wines := []winescan.Wine{
		{Name: "Cheap", RestaurantPrice: 30},
		{Name: "Scored", RestaurantPrice: 120, RealPrice: ptr(60), Markup: ptr(100), CriticScore: ptr(94), CriticCount: 1},
	}
	blob, err := json.Marshal(wines)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(in, blob, 0o600))

	require.NoError(t, runCLI(t, "rank", "-i", in, "-o", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	var rankings winescan.RankingResults
	require.NoError(t, json.Unmarshal(got, &rankings))
	require.Len(t, rankings.MostInexpensive, 2)
	assert.Equal(t, "Cheap", rankings.MostInexpensive[0].Name)
	require.Len(t, rankings.HighestRated, 1)
	assert.Equal(t, "Scored", rankings.HighestRated[0].Name)
}

func fakeWineDB(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/match", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Queries []string `json:"queries"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([]any, len(req.Queries))
		for i, q := range req.Queries {
			if strings.Contains(q, "Margaux") {
				out[i] = map[string]any{"lwin": "1012345", "display_name": "Château Margaux", "vintage": "2015", "region": "Bordeaux"}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": out})
	})
	mux.HandleFunc("/v1/prices/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"lwin":  strings.TrimPrefix(r.URL.Path, "/v1/prices/"),
			"stats": map[string]any{"median": 425, "min": 400, "max": 450, "count": 12},
		})
	})
	mux.HandleFunc("/v1/scores/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"scores":[{"critic":"Wine Advocate","score":98},{"critic":"Vinous","score":96}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScanCommandEndToEnd(t *testing.T) {
	dir := isolateEnv(t)
	srv := fakeWineDB(t)
	t.Setenv("WINEDB_BASE_URL", srv.URL)
	t.Setenv("WINEDB_API_KEY", "test-key")
	t.Setenv("WINEDB_RATE_LIMIT", "6000")
	t.Setenv("WINESCAN_WEB_SEARCH", "false")

	in := filepath.Join(dir, "list.txt")
	out := filepath.Join(dir, "scan.json")
	reportPath := filepath.Join(dir, "report.md")
	require.NoError(t, os.WriteFile(in, []byte("Ch. Margaux 2015 ....... $850\nHouse Red 35\n"), 0o600))

	require.NoError(t, runCLI(t, "scan", "-i", in, "-o", out, "-r", reportPath))

	blob, err := os.ReadFile(out)
	require.NoError(t, err)
	var res winescan.ScanResult
	require.NoError(t, json.Unmarshal(blob, &res))
	require.Len(t, res.Wines, 2)
	margaux := res.Wines[0]
	assert.Equal(t, "Château Margaux", margaux.Name)
	require.NotNil(t, margaux.RealPrice)
	assert.Equal(t, 425.0, *margaux.RealPrice)
	require.NotNil(t, margaux.Markup)
	assert.InDelta(t, 100.0, *margaux.Markup, 0.001)
	require.NotNil(t, margaux.CriticScore)
	assert.InDelta(t, 97.0, *margaux.CriticScore, 0.001)
	assert.Equal(t, 1, res.Metadata.IdentityMatched)
	assert.Equal(t, 1, res.Metadata.Unmatched)

	md, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "Château Margaux")

	require.NoError(t, runCLI(t, "report", "--id", res.ID, "-o", filepath.Join(dir, "again.html")))
	html, err := os.ReadFile(filepath.Join(dir, "again.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "House Red")
}

func TestScanCommandRequiresWineDBKey(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("WINEDB_API_KEY", "")
	in := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(in, []byte("House Red 35\n"), 0o600))

	err := runCLI(t, "scan", "-i", in, "-o", filepath.Join(dir, "scan.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WINEDB_API_KEY")
}
