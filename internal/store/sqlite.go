package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

var ErrNotFound = errors.New("scan not found")

const DefaultListLimit = 50

// Fixed-width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scans (
	scan_id            TEXT PRIMARY KEY,
	created_at         TEXT NOT NULL,
	total_items        INTEGER NOT NULL DEFAULT 0,
	identity_matched   INTEGER NOT NULL DEFAULT 0,
	web_search_matched INTEGER NOT NULL DEFAULT 0,
	unmatched          INTEGER NOT NULL DEFAULT 0,
	result             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS scans_created_at ON scans (created_at);
`

// ScanSummary is one row of the scan history listing.
type ScanSummary struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	TotalItems       int       `json:"total_items"`
	IdentityMatched  int       `json:"identity_matched"`
	WebSearchMatched int       `json:"web_search_matched"`
	Unmatched        int       `json:"unmatched"`
}

// SQLiteStore persists completed scans as JSON documents.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, res winescan.ScanResult) error {
	if res.ID == "" {
		return errors.New("scan id is required")
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal scan: %w", err)
	}
	md := res.Metadata
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (scan_id, created_at, total_items, identity_matched, web_search_matched, unmatched, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			created_at = excluded.created_at,
			total_items = excluded.total_items,
			identity_matched = excluded.identity_matched,
			web_search_matched = excluded.web_search_matched,
			unmatched = excluded.unmatched,
			result = excluded.result`,
		res.ID, res.CreatedAt.UTC().Format(timeLayout), md.TotalItems, md.IdentityMatched, md.WebSearchMatched, md.Unmatched, string(body))
	if err != nil {
		return fmt.Errorf("save scan %s: %w", res.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (winescan.ScanResult, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT result FROM scans WHERE scan_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return winescan.ScanResult{}, ErrNotFound
	}
	if err != nil {
		return winescan.ScanResult{}, fmt.Errorf("get scan %s: %w", id, err)
	}
	var res winescan.ScanResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return winescan.ScanResult{}, fmt.Errorf("decode scan %s: %w", id, err)
	}
	return res, nil
}

// List returns the most recent scans first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]ScanSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT scan_id, created_at, total_items, identity_matched, web_search_matched, unmatched
		FROM scans ORDER BY created_at DESC, scan_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	out := []ScanSummary{}
	for rows.Next() {
		var (
			sum     ScanSummary
			created string
		)
		if err := rows.Scan(&sum.ID, &created, &sum.TotalItems, &sum.IdentityMatched, &sum.WebSearchMatched, &sum.Unmatched); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, sum)
	}
	return out, rows.Err()
}
