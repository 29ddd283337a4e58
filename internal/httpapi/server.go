package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/joelkehle/winelist-scanner/internal/report"
	"github.com/joelkehle/winelist-scanner/internal/store"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

const (
	maxBodyBytes          = 2 << 20
	maxItemsPerScan       = 500
	defaultRequestTimeout = 5 * time.Minute
)

type Scanner interface {
	Run(ctx context.Context, req winescan.ScanRequest) (winescan.ScanResult, error)
}

type ScanStore interface {
	Save(ctx context.Context, res winescan.ScanResult) error
	Get(ctx context.Context, id string) (winescan.ScanResult, error)
	List(ctx context.Context, limit int) ([]store.ScanSummary, error)
}

type PDFRenderer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

// Options wires the server. Store and PDF are optional; without a store the
// scan history endpoints answer 404 and scans are not persisted.
type Options struct {
	Scanner        Scanner
	Store          ScanStore
	PDF            PDFRenderer
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

type Server struct {
	scanner  Scanner
	store    ScanStore
	pdf      PDFRenderer
	log      zerolog.Logger
	validate *validator.Validate
}

type itemRequest struct {
	RawText       string   `json:"raw_text" validate:"max=1000"`
	Name          string   `json:"name" validate:"required,max=300"`
	Vintage       string   `json:"vintage" validate:"max=10"`
	Price         float64  `json:"price" validate:"gte=0"`
	OCRConfidence *float64 `json:"ocr_confidence" validate:"omitempty,gte=0,lte=1"`
}

type scanRequest struct {
	Items []itemRequest `json:"items" validate:"max=500,dive"`
	Text  string        `json:"text" validate:"max=200000"`
}

type rankRequest struct {
	Wines []winescan.Wine `json:"wines" validate:"max=2000"`
}

func NewServer(opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		scanner:  opts.Scanner,
		store:    opts.Store,
		pdf:      opts.PDF,
		log:      opts.Logger,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(opts.RequestTimeout))
		r.Get("/health", s.handleHealth)
		r.Post("/rank", s.handleRank)
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.handleCreateScan)
			r.Get("/", s.handleListScans)
			r.Get("/{scanID}", s.handleGetScan)
			r.Get("/{scanID}/report", s.handleScanReport)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	blob, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return false
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"status":  "healthy",
		"service": "winescan",
		"store":   s.store != nil,
		"pdf":     s.pdf != nil,
	})
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !s.decode(w, r, &req) {
		return
	}
	items := make([]winescan.WineListItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, winescan.WineListItem{
			RawText:       it.RawText,
			Name:          it.Name,
			Vintage:       it.Vintage,
			Price:         it.Price,
			OCRConfidence: it.OCRConfidence,
		})
	}
	if len(items) == 0 && strings.TrimSpace(req.Text) != "" {
		items = winescan.ParseWineList(req.Text)
		if len(items) > maxItemsPerScan {
			writeError(w, http.StatusBadRequest, "validation_failed", "wine list has too many items")
			return
		}
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "empty_request", winescan.UserMessage(winescan.ErrEmptyRequest))
		return
	}

	res, err := s.scanner.Run(r.Context(), winescan.ScanRequest{Items: items})
	if err != nil {
		status := http.StatusBadGateway
		code := "scan_failed"
		switch {
		case errors.Is(err, winescan.ErrEmptyRequest):
			status, code = http.StatusBadRequest, "empty_request"
		case errors.Is(err, context.DeadlineExceeded):
			status, code = http.StatusGatewayTimeout, "scan_timeout"
		}
		s.log.Warn().Err(err).Str("stage", winescan.StageNameFromError(err)).Msg("scan request failed")
		writeError(w, status, code, winescan.UserMessage(err))
		return
	}
	if s.store != nil {
		if err := s.store.Save(r.Context(), res); err != nil {
			s.log.Error().Err(err).Str("scan_id", res.ID).Msg("persist scan failed")
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "scan": res})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "scan history is not enabled")
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), store.DefaultListLimit)
	scans, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list scans failed")
		writeError(w, http.StatusInternalServerError, "store_error", "could not list scans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scans": scans})
}

func (s *Server) loadScan(w http.ResponseWriter, r *http.Request) (winescan.ScanResult, bool) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "scan history is not enabled")
		return winescan.ScanResult{}, false
	}
	id := chi.URLParam(r, "scanID")
	res, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "scan not found")
		return res, false
	}
	if err != nil {
		s.log.Error().Err(err).Str("scan_id", id).Msg("load scan failed")
		writeError(w, http.StatusInternalServerError, "store_error", "could not load scan")
		return res, false
	}
	return res, true
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	res, ok := s.loadScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scan": res})
}

func (s *Server) handleScanReport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.loadScan(w, r)
	if !ok {
		return
	}
	md := report.BuildMarkdown(res)
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, md)
	case "html", "pdf":
		doc, err := report.RenderHTML("Wine List Value Report", md)
		if err != nil {
			s.log.Error().Err(err).Str("scan_id", res.ID).Msg("render html failed")
			writeError(w, http.StatusInternalServerError, "render_failed", "could not render report")
			return
		}
		if format == "html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, doc)
			return
		}
		if s.pdf == nil {
			writeError(w, http.StatusNotImplemented, "pdf_unavailable", "PDF rendering is not configured")
			return
		}
		pdf, err := s.pdf.Render(r.Context(), doc)
		if err != nil {
			s.log.Error().Err(err).Str("scan_id", res.ID).Msg("render pdf failed")
			writeError(w, http.StatusInternalServerError, "render_failed", "could not render report")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="winescan-`+res.ID+`.pdf"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)
	default:
		writeError(w, http.StatusBadRequest, "invalid_format", "format must be md, html or pdf")
	}
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rankings": winescan.Rank(req.Wines)})
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
