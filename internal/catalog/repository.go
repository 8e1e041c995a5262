package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"microvision.org/internal/obs"
	"microvision.org/internal/schema"
)

// DefaultNameLimit caps fuzzy name candidates unless configured.
const DefaultNameLimit = 5

// PreviewRows is the sample size of Preview.
const PreviewRows = 10

var ErrNoBarcodes = errors.New("catalog: schema has no barcode table")

// Querier is satisfied by *sql.DB, *sql.Tx and session.Context.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FieldLengther reports the declared character length of a column.
type FieldLengther interface {
	FieldLength(ctx context.Context, table, column string) (int, error)
}

// Repository implements Lookup against the live database in Firebird SQL.
type Repository struct {
	db      Querier
	schema  schema.CatalogSchema
	lengths FieldLengther

	mu      sync.Mutex
	nameLen int
	lenDone bool
}

// NewRepository binds a resolved schema. lengths may be nil, in which case
// name searches are not truncated.
func NewRepository(db Querier, s schema.CatalogSchema, lengths FieldLengther) *Repository {
	return &Repository{db: db, schema: s, lengths: lengths}
}

// Schema returns the bound schema.
func (r *Repository) Schema() schema.CatalogSchema { return r.schema }

// itemColumns renders code, name, uom, price, vat for alias M.
func (r *Repository) itemColumns() string {
	s := r.schema
	opt := func(col string) string {
		if col == "" {
			return "NULL"
		}
		return "M." + col
	}
	return fmt.Sprintf("TRIM(M.%s), TRIM(M.%s), %s, %s, %s",
		s.MaterialsCodeCol, s.MaterialsNameCol,
		opt(s.MaterialsUOMCol), opt(s.MaterialsPriceCol), opt(s.MaterialsVATCol))
}

// firstBarcode is a correlated sub-select for the first barcode of M.
func (r *Repository) firstBarcode() string {
	s := r.schema
	if !s.HasBarcodes() {
		return "NULL"
	}
	return fmt.Sprintf("(SELECT FIRST 1 TRIM(B.%s) FROM %s B WHERE B.%s = M.%s)",
		s.BarcodeCodeCol, s.BarcodeTable, s.BarcodeFKCol, s.MaterialsCodeCol)
}

func (r *Repository) barcodeSQL() string {
	s := r.schema
	return fmt.Sprintf("SELECT FIRST 1 %s, TRIM(B.%s) FROM %s B JOIN %s M ON B.%s = M.%s WHERE TRIM(B.%s) = TRIM(?)",
		r.itemColumns(), s.BarcodeCodeCol, s.BarcodeTable, s.MaterialsTable, s.BarcodeFKCol, s.MaterialsCodeCol, s.BarcodeCodeCol)
}

func (r *Repository) codeSQL() string {
	s := r.schema
	return fmt.Sprintf("SELECT FIRST 1 %s, %s FROM %s M WHERE UPPER(TRIM(M.%s)) = UPPER(TRIM(?))",
		r.itemColumns(), r.firstBarcode(), s.MaterialsTable, s.MaterialsCodeCol)
}

func (r *Repository) nameSQL(limit int) string {
	s := r.schema
	return fmt.Sprintf("SELECT FIRST %d %s, %s FROM %s M WHERE M.%s CONTAINING ? ORDER BY CHAR_LENGTH(TRIM(M.%s))",
		limit, r.itemColumns(), r.firstBarcode(), s.MaterialsTable, s.MaterialsNameCol, s.MaterialsNameCol)
}

// ByBarcode finds the material linked to barcode. Without a barcode table
// it reports no match.
func (r *Repository) ByBarcode(ctx context.Context, barcode string) (Item, bool, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" || !r.schema.HasBarcodes() {
		return Item{}, false, nil
	}
	items, err := r.query(ctx, "by barcode", r.barcodeSQL(), barcode)
	if err != nil || len(items) == 0 {
		return Item{}, false, err
	}
	if items[0].Barcode == "" {
		items[0].Barcode = barcode
	}
	return items[0], true, nil
}

// ByCode finds a material by case-insensitive trimmed code.
func (r *Repository) ByCode(ctx context.Context, code string) (Item, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Item{}, false, nil
	}
	items, err := r.query(ctx, "by code", r.codeSQL(), code)
	if err != nil || len(items) == 0 {
		return Item{}, false, err
	}
	return items[0], true, nil
}

// ByName searches names containing the normalized text, shortest first.
// The search text is cut to the declared length of the name column.
func (r *Repository) ByName(ctx context.Context, name string, limit int) ([]Item, error) {
	name = NormalizeToken(name)
	if name == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = DefaultNameLimit
	}
	if n := r.nameLength(ctx); n > 0 {
		if runes := []rune(name); len(runes) > n {
			name = string(runes[:n])
		}
	}
	return r.query(ctx, "by name", r.nameSQL(limit), name)
}

// nameLength is looked up once; failures disable truncation.
func (r *Repository) nameLength(ctx context.Context) int {
	if r.lengths == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lenDone {
		n, err := r.lengths.FieldLength(ctx, r.schema.MaterialsTable, r.schema.MaterialsNameCol)
		if err != nil {
			obs.Warn("name column length unavailable", map[string]any{"table": r.schema.MaterialsTable, "column": r.schema.MaterialsNameCol, "error": err.Error()})
			return 0
		}
		r.nameLen, r.lenDone = n, true
	}
	return r.nameLen
}

func (r *Repository) query(ctx context.Context, op, query string, args ...any) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", op, err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var code, name, uom, price, vat, barcode any
		if err := rows.Scan(&code, &name, &uom, &price, &vat, &barcode); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", op, err)
		}
		out = append(out, Item{
			Code:    Text(code),
			Name:    Text(name),
			UOM:     Text(uom),
			Price:   Decimal(price),
			VAT:     Decimal(vat),
			Barcode: Text(barcode),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", op, err)
	}
	return out, nil
}

// Counts returns the row counts of the materials and barcode tables.
func (r *Repository) Counts(ctx context.Context) (Stats, error) {
	var st Stats
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.schema.MaterialsTable).Scan(&st.Materials); err != nil {
		return Stats{}, fmt.Errorf("catalog: count materials: %w", err)
	}
	if r.schema.HasBarcodes() {
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.schema.BarcodeTable).Scan(&st.Barcodes); err != nil {
			return Stats{}, fmt.Errorf("catalog: count barcodes: %w", err)
		}
	}
	return st, nil
}

// Preview returns the first PreviewRows materials and barcodes.
func (r *Repository) Preview(ctx context.Context) (Preview, error) {
	var p Preview
	err := r.EachItem(ctx, PreviewRows, func(it Item) error {
		p.Materials = append(p.Materials, it)
		return nil
	})
	if err != nil {
		return Preview{}, err
	}
	if !r.schema.HasBarcodes() {
		return p, nil
	}
	err = r.EachBarcode(ctx, PreviewRows, func(l BarcodeLink) error {
		p.Barcodes = append(p.Barcodes, l)
		return nil
	})
	if err != nil {
		return Preview{}, err
	}
	return p, nil
}

// EachItem streams materials in code order; limit <= 0 reads all.
func (r *Repository) EachItem(ctx context.Context, limit int, fn func(Item) error) error {
	first := ""
	if limit > 0 {
		first = fmt.Sprintf("FIRST %d ", limit)
	}
	query := fmt.Sprintf("SELECT %s%s, %s FROM %s M ORDER BY M.%s",
		first, r.itemColumns(), r.firstBarcode(), r.schema.MaterialsTable, r.schema.MaterialsCodeCol)
	items, err := r.query(ctx, "list materials", query)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := fn(it); err != nil {
			return err
		}
	}
	return nil
}

// EachBarcode streams barcode links; limit <= 0 reads all.
func (r *Repository) EachBarcode(ctx context.Context, limit int, fn func(BarcodeLink) error) error {
	s := r.schema
	if !s.HasBarcodes() {
		return ErrNoBarcodes
	}
	first := ""
	if limit > 0 {
		first = fmt.Sprintf("FIRST %d ", limit)
	}
	query := fmt.Sprintf("SELECT %sTRIM(B.%s), TRIM(B.%s) FROM %s B", first, s.BarcodeCodeCol, s.BarcodeFKCol, s.BarcodeTable)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("catalog: list barcodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bc, code any
		if err := rows.Scan(&bc, &code); err != nil {
			return fmt.Errorf("catalog: list barcodes: %w", err)
		}
		if err := fn(BarcodeLink{Barcode: Text(bc), Code: Text(code)}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: list barcodes: %w", err)
	}
	return nil
}
