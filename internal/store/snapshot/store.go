// Package snapshot keeps an offline SQLite copy of the accounting catalog so
// invoices can be resolved while the Firebird server is unreachable.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	_ "modernc.org/sqlite"

	"microvision.org/internal/catalog"
	"microvision.org/internal/obs"
)

const driverName = "sqlite"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS materials (
		code     TEXT PRIMARY KEY,
		code_key TEXT NOT NULL,
		name     TEXT NOT NULL,
		name_key TEXT NOT NULL,
		barcode  TEXT,
		uom      TEXT,
		price    TEXT,
		vat      TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS barcodes (
		barcode TEXT PRIMARY KEY,
		code    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS materials_code_key_idx ON materials(code_key)`,
	`CREATE INDEX IF NOT EXISTS barcodes_code_idx ON barcodes(code)`,
	`CREATE TABLE IF NOT EXISTS snapshot_meta (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		imported_at TEXT NOT NULL
	)`,
}

// Source is the live catalog read side used by Import.
type Source interface {
	EachItem(ctx context.Context, limit int, fn func(catalog.Item) error) error
	EachBarcode(ctx context.Context, limit int, fn func(catalog.BarcodeLink) error) error
}

// Store is a SQLite catalog snapshot. It implements catalog.Lookup.
type Store struct {
	db *sql.DB
}

var _ catalog.Lookup = (*Store)(nil)

// Open creates or opens the snapshot file at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range append(pragmas, schemaStatements...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot: init: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// codeKey folds full Unicode case; SQLite's UPPER only handles ASCII.
func codeKey(code string) string {
	return cases.Fold().String(strings.TrimSpace(code))
}

func nameKey(name string) string {
	return catalog.NormalizeToken(cases.Fold().String(name))
}

// Import replaces the snapshot with the current contents of src in a single
// transaction. A catalog without a barcode table imports materials only.
func (s *Store) Import(ctx context.Context, src Source) (catalog.Stats, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("snapshot: import: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"materials", "barcodes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return catalog.Stats{}, fmt.Errorf("snapshot: import: %w", err)
		}
	}

	insItem, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO materials (code, code_key, name, name_key, barcode, uom, price, vat) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("snapshot: import: %w", err)
	}
	defer insItem.Close()
	insBarcode, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO barcodes (barcode, code) VALUES (?, ?)`)
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("snapshot: import: %w", err)
	}
	defer insBarcode.Close()

	var stats catalog.Stats
	err = src.EachItem(ctx, 0, func(it catalog.Item) error {
		if it.Code == "" {
			return nil
		}
		_, err := insItem.ExecContext(ctx, it.Code, codeKey(it.Code), it.Name, nameKey(it.Name),
			nullString(it.Barcode), nullString(it.UOM), nullDecimal(it.Price), nullDecimal(it.VAT))
		if err == nil {
			stats.Materials++
		}
		return err
	})
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("snapshot: import materials: %w", err)
	}

	err = src.EachBarcode(ctx, 0, func(l catalog.BarcodeLink) error {
		if l.Barcode == "" || l.Code == "" {
			return nil
		}
		_, err := insBarcode.ExecContext(ctx, l.Barcode, l.Code)
		if err == nil {
			stats.Barcodes++
		}
		return err
	})
	if err != nil && !errors.Is(err, catalog.ErrNoBarcodes) {
		return catalog.Stats{}, fmt.Errorf("snapshot: import barcodes: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO snapshot_meta (id, imported_at) VALUES (1, ?)`,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return catalog.Stats{}, fmt.Errorf("snapshot: import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return catalog.Stats{}, fmt.Errorf("snapshot: import: %w", err)
	}
	obs.Info("snapshot_imported", map[string]any{
		"materials":   stats.Materials,
		"barcodes":    stats.Barcodes,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return stats, nil
}

// ImportedAt reports when Import last succeeded; ok is false for an empty
// snapshot.
func (s *Store) ImportedAt(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT imported_at FROM snapshot_meta WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("snapshot: %w", err)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("snapshot: %w", err)
	}
	return at, true, nil
}

// Counts returns the number of stored materials and barcodes.
func (s *Store) Counts(ctx context.Context) (catalog.Stats, error) {
	var st catalog.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM materials), (SELECT COUNT(*) FROM barcodes)`).Scan(&st.Materials, &st.Barcodes)
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("snapshot: counts: %w", err)
	}
	return st, nil
}

const itemColumns = `m.code, m.name, COALESCE(m.barcode, ''), COALESCE(m.uom, ''), m.price, m.vat`

// ByBarcode looks the barcode up in the link table first, then in the
// barcode stored on the material itself.
func (s *Store) ByBarcode(ctx context.Context, barcode string) (catalog.Item, bool, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return catalog.Item{}, false, nil
	}
	items, err := s.query(ctx, "by barcode",
		`SELECT `+itemColumns+` FROM barcodes b JOIN materials m ON m.code = b.code WHERE b.barcode = ?
		 UNION ALL
		 SELECT `+itemColumns+` FROM materials m WHERE m.barcode = ?
		 LIMIT 1`, barcode, barcode)
	if err != nil || len(items) == 0 {
		return catalog.Item{}, false, err
	}
	it := items[0]
	it.Barcode = barcode
	return it, true, nil
}

// ByCode matches the material code case-insensitively.
func (s *Store) ByCode(ctx context.Context, code string) (catalog.Item, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return catalog.Item{}, false, nil
	}
	items, err := s.query(ctx, "by code",
		`SELECT `+itemColumns+` FROM materials m WHERE m.code_key = ? LIMIT 1`, codeKey(code))
	if err != nil || len(items) == 0 {
		return catalog.Item{}, false, err
	}
	return items[0], true, nil
}

// ByName returns materials whose folded name contains the folded search
// text, shortest names first.
func (s *Store) ByName(ctx context.Context, name string, limit int) ([]catalog.Item, error) {
	key := nameKey(name)
	if key == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = catalog.DefaultNameLimit
	}
	return s.query(ctx, "by name",
		`SELECT `+itemColumns+` FROM materials m WHERE instr(m.name_key, ?) > 0
		 ORDER BY length(m.name), m.code LIMIT ?`, key, limit)
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", op, err)
	}
	defer rows.Close()
	var out []catalog.Item
	for rows.Next() {
		var (
			it         catalog.Item
			price, vat sql.NullString
		)
		if err := rows.Scan(&it.Code, &it.Name, &it.Barcode, &it.UOM, &price, &vat); err != nil {
			return nil, fmt.Errorf("snapshot: %s: %w", op, err)
		}
		it.Price = parseDecimal(price)
		it.VAT = parseDecimal(vat)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", op, err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
