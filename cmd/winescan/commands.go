package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/winelist-scanner/internal/httpapi"
	"github.com/joelkehle/winelist-scanner/internal/store"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		input      string
		output     string
		reportPath string
		query      string
		noSave     bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a wine list and rank it",
		Long: `Scan reads a wine list (JSON items or plain text, one wine per line with the
price last) from --input or stdin, runs the full enrichment pipeline and prints
the scan result as JSON. Use --report to also write a Markdown, HTML or PDF
report, chosen by file extension.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			blob, err := readInput(input)
			if err != nil {
				return err
			}
			items, err := parseScanInput(blob)
			if err != nil {
				return err
			}

			pipeline, cl, err := a.buildPipeline(ctx)
			if err != nil {
				return err
			}
			defer cl.closeAll()

			res, err := pipeline.RunWithProgress(ctx, winescan.ScanRequest{Items: items}, func(stage, message string) {
				a.log.Info().Str("stage", stage).Msg(message)
			})
			if err != nil {
				a.log.Error().Err(err).Str("stage", winescan.StageNameFromError(err)).Msg("scan failed")
				return errors.New(winescan.UserMessage(err))
			}

			if !noSave {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				if st != nil {
					defer st.Close()
					if err := st.Save(ctx, res); err != nil {
						a.log.Warn().Err(err).Str("scan_id", res.ID).Msg("persist scan failed")
					}
				}
			}
			if reportPath != "" {
				doc, err := renderReport(ctx, res, reportPath, a.pdfRenderer())
				if err != nil {
					return fmt.Errorf("render report: %w", err)
				}
				if err := os.WriteFile(reportPath, doc, 0o644); err != nil {
					return err
				}
				a.log.Info().Str("path", reportPath).Msg("report written")
			}
			return writeOutput(output, func(w io.Writer) error { return writeJSON(w, res, query) })
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "wine list file (JSON or text); - reads stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "scan result JSON file; - writes stdout")
	cmd.Flags().StringVarP(&reportPath, "report", "r", "", "also write a report (.md, .html or .pdf)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "JMESPath expression applied to the JSON output")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not record the scan in history")
	return cmd
}

func newRankCmd(a *app) *cobra.Command {
	var (
		input  string
		output string
		query  string
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank already-enriched wines without calling any service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			blob, err := readInput(input)
			if err != nil {
				return err
			}
			wines, err := parseWinesInput(blob)
			if err != nil {
				return err
			}
			rankings := winescan.Rank(wines)
			a.log.Debug().Int("wines", len(wines)).Int("best_value", len(rankings.BestValue)).Msg("ranked")
			return writeOutput(output, func(w io.Writer) error { return writeJSON(w, rankings, query) })
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "wines JSON array or saved scan result; - reads stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "rankings JSON file; - writes stdout")
	cmd.Flags().StringVarP(&query, "query", "q", "", "JMESPath expression applied to the JSON output")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var (
		input  string
		scanID string
		output string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a report for a saved scan",
		Long: `Report renders a scan result, read from --input or loaded from history with
--id, as Markdown, HTML or PDF depending on the --output extension.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var res winescan.ScanResult
			switch {
			case scanID != "":
				st, err := a.openStore()
				if err != nil {
					return err
				}
				if st == nil {
					return errors.New("scan history is disabled (store.path is empty)")
				}
				defer st.Close()
				res, err = st.Get(ctx, scanID)
				if err != nil {
					return err
				}
			default:
				blob, err := readInput(input)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(blob, &res); err != nil {
					return fmt.Errorf("decode scan result: %w", err)
				}
			}
			doc, err := renderReport(ctx, res, output, a.pdfRenderer())
			if err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			return writeOutput(output, func(w io.Writer) error {
				_, err := w.Write(doc)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "saved scan result JSON; - reads stdin")
	cmd.Flags().StringVar(&scanID, "id", "", "load the scan from history instead of --input")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "report file (.md, .html or .pdf); - writes Markdown to stdout")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("scan history is disabled (store.path is empty)")
			}
			defer st.Close()
			scans, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), scans)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultListLimit, "number of scans to show")
	return cmd
}

func printHistory(w io.Writer, scans []store.ScanSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tITEMS\tDATABASE\tWEB\tUNMATCHED")
	for _, s := range scans {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			s.ID, s.CreatedAt.Local().Format(time.DateTime), s.TotalItems, s.IdentityMatched, s.WebSearchMatched, s.Unmatched)
	}
	return tw.Flush()
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			pipeline, cl, err := a.buildPipeline(ctx)
			if err != nil {
				return err
			}
			defer cl.closeAll()

			opts := httpapi.Options{
				Scanner:        pipeline,
				PDF:            a.pdfRenderer(),
				Logger:         a.log,
				RequestTimeout: a.cfg.Server.RequestTimeout(),
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
				opts.Store = st
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewServer(opts),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", addr).Msg("winescan api listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}
