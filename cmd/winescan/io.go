package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/joelkehle/winelist-scanner/internal/report"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// parseScanInput accepts a JSON array of items, a {"items": [...]} object,
// or plain wine-list text with one wine per line.
func parseScanInput(blob []byte) ([]winescan.WineListItem, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, winescan.ErrEmptyRequest
	}
	switch trimmed[0] {
	case '[':
		var items []winescan.WineListItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return items, nil
	case '{':
		var req winescan.ScanRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, fmt.Errorf("decode scan request: %w", err)
		}
		return req.Items, nil
	default:
		return winescan.ParseWineList(string(trimmed)), nil
	}
}

// parseWinesInput accepts a JSON array of wines or a saved scan result.
func parseWinesInput(blob []byte) ([]winescan.Wine, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var wines []winescan.Wine
		if err := json.Unmarshal(trimmed, &wines); err != nil {
			return nil, fmt.Errorf("decode wines: %w", err)
		}
		return wines, nil
	}
	var res winescan.ScanResult
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return nil, fmt.Errorf("decode scan result: %w", err)
	}
	return res.Wines, nil
}

// writeJSON pretty-prints v, optionally narrowed by a JMESPath expression.
func writeJSON(w io.Writer, v any, query string) error {
	if query != "" {
		blob, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(blob, &doc); err != nil {
			return err
		}
		v, err = jmespath.Search(query, doc)
		if err != nil {
			return fmt.Errorf("query %q: %w", query, err)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOutput(path string, fn func(io.Writer) error) error {
	if path == "" || path == "-" {
		return fn(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type pdfRenderer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

// renderReport picks the format from the file extension: .pdf, .html/.htm,
// anything else is Markdown.
func renderReport(ctx context.Context, res winescan.ScanResult, path string, pdf pdfRenderer) ([]byte, error) {
	md := report.BuildMarkdown(res)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" && ext != ".html" && ext != ".htm" {
		return []byte(md), nil
	}
	doc, err := report.RenderHTML("Wine List Value Report", md)
	if err != nil {
		return nil, err
	}
	if ext != ".pdf" {
		return []byte(doc), nil
	}
	return pdf.Render(ctx, doc)
}
