package report

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const reportCSS = `body{font-family:Georgia,serif;color:#1c1917;background:#fff;margin:0;padding:1.5rem;}
.report{max-width:1000px;margin:0 auto;}
h1{color:#7f1d1d;border-bottom:3px solid #7f1d1d;padding-bottom:0.3rem;}
h2{color:#7f1d1d;margin-top:2rem;}
table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.85rem;}
th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
thead th{background:#fdf2f8;font-weight:700;}
html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}
@media print{@page{size:auto;margin:12mm;} body{padding:0;} .report{max-width:none;}}`

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts a markdown report into a standalone HTML document.
func RenderHTML(title, md string) (string, error) {
	var content bytes.Buffer
	if err := markdown.Convert([]byte(md), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + reportCSS + "</style></head><body><main class='report'>" +
		content.String() +
		"</main></body></html>", nil
}
