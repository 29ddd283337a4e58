package report

import (
	"context"
	"encoding/base64"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const renderTimeout = 30 * time.Second

const pageFooter = `<div style="width:100%;text-align:right;font-size:8px;color:#777;padding-right:12px;">` +
	`winescan &middot; <span class="pageNumber"></span>/<span class="totalPages"></span></div>`

var chromeCandidates = []string{
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// PDFRenderer prints HTML reports to landscape US-letter PDFs with headless
// Chromium. Each Render starts and tears down its own browser.
type PDFRenderer struct {
	allocOpts []chromedp.ExecAllocatorOption
}

// NewPDFRenderer uses chromePath when set, otherwise the first Chromium
// found in the usual locations, otherwise whatever chromedp finds on PATH.
func NewPDFRenderer(chromePath string) *PDFRenderer {
	if chromePath == "" {
		chromePath = DetectChromePath()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	return &PDFRenderer{allocOpts: opts}
}

func (r *PDFRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()
	ctx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocOpts...)
	defer cancelAlloc()
	ctx, cancelTab := chromedp.NewContext(ctx)
	defer cancelTab()

	var pdf []byte
	err := chromedp.Run(ctx, chromedp.Tasks{
		chromedp.Navigate("data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))),
		chromedp.WaitReady("body", chromedp.ByQuery),
		printLandscape(&pdf),
	})
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

func printLandscape(dst *[]byte) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithLandscape(true).
			WithPaperWidth(8.5).
			WithPaperHeight(11).
			WithPrintBackground(true).
			WithDisplayHeaderFooter(true).
			WithHeaderTemplate(`<span></span>`).
			WithFooterTemplate(pageFooter).
			WithMarginTop(0.35).
			WithMarginBottom(0.55).
			WithMarginLeft(0.35).
			WithMarginRight(0.35).
			Do(ctx)
		*dst = buf
		return err
	}
}

func DetectChromePath() string {
	for _, p := range chromeCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
