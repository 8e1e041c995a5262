// Package schema locates the materials and barcode tables of an unknown
// accounting database and decides which columns carry code, name, unit,
// price, VAT and barcode data.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"microvision.org/internal/introspect"
	"microvision.org/internal/obs"
)

// ErrSchemaNotFound means neither the exact layout nor the heuristic found a
// materials table above threshold.
var ErrSchemaNotFound = errors.New("schema: materials table not found")

// errNoColumns marks a live catalog that answered but exposed no columns.
var errNoColumns = fmt.Errorf("%w: no readable columns", ErrSchemaNotFound)

// Discovery paths.
const (
	SourceFast      = "fast"
	SourceHeuristic = "heuristic"
	SourceDump      = "dump"
)

// CatalogSchema maps catalog roles to physical tables and columns. Optional
// columns are empty when absent.
type CatalogSchema struct {
	MaterialsTable    string `json:"materials_table"`
	MaterialsCodeCol  string `json:"materials_code_col"`
	MaterialsNameCol  string `json:"materials_name_col"`
	MaterialsUOMCol   string `json:"materials_uom_col,omitempty"`
	MaterialsPriceCol string `json:"materials_price_col,omitempty"`
	MaterialsVATCol   string `json:"materials_vat_col,omitempty"`
	BarcodeTable      string `json:"barcode_table,omitempty"`
	BarcodeCodeCol    string `json:"barcode_code_col,omitempty"`
	BarcodeFKCol      string `json:"barcode_fk_col,omitempty"`
	Source            string `json:"source"`
}

// HasBarcodes reports whether barcode lookups are possible.
func (s CatalogSchema) HasBarcodes() bool {
	return s.BarcodeTable != "" && s.BarcodeCodeCol != "" && s.BarcodeFKCol != ""
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDump registers a loader for the static schema used when the live
// catalog cannot be read.
func WithDump(load func() (introspect.Introspector, error)) Option {
	return func(r *Resolver) { r.dump = load }
}

// WithDumpFile is WithDump reading a CREATE TABLE script from path.
func WithDumpFile(path string) Option {
	return WithDump(func() (introspect.Introspector, error) {
		return introspect.LoadDump(path)
	})
}

// Resolver discovers a CatalogSchema. It does not cache.
type Resolver struct {
	intro introspect.Introspector
	dump  func() (introspect.Introspector, error)
}

// NewResolver returns a Resolver reading live metadata from intro.
func NewResolver(intro introspect.Introspector, opts ...Option) *Resolver {
	r := &Resolver{intro: intro}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries the exact layout, then the heuristic. If the live catalog
// fails or yields no columns and a dump is configured, both are retried
// against the dump.
func (r *Resolver) Resolve(ctx context.Context) (CatalogSchema, error) {
	s, err := resolveWith(ctx, r.intro)
	if err == nil {
		return observed(s), nil
	}
	var ie *introspect.Error
	degradable := errors.As(err, &ie) || errors.Is(err, errNoColumns)
	if !degradable || r.dump == nil {
		obs.ObserveSchemaDiscovery("failed")
		return CatalogSchema{}, err
	}
	obs.Warn("live catalog unreadable, using schema dump", map[string]any{"error": err.Error()})
	static, derr := r.dump()
	if derr != nil {
		obs.ObserveSchemaDiscovery("failed")
		return CatalogSchema{}, fmt.Errorf("%w (schema dump: %v)", err, derr)
	}
	s, err = resolveWith(ctx, static)
	if err != nil {
		obs.ObserveSchemaDiscovery("failed")
		return CatalogSchema{}, err
	}
	s.Source = SourceDump
	return observed(s), nil
}

func observed(s CatalogSchema) CatalogSchema {
	obs.ObserveSchemaDiscovery(s.Source)
	obs.Info("catalog schema detected", map[string]any{
		"source":          s.Source,
		"materials_table": s.MaterialsTable,
		"code_col":        s.MaterialsCodeCol,
		"name_col":        s.MaterialsNameCol,
		"barcode_table":   s.BarcodeTable,
	})
	return s
}

func resolveWith(ctx context.Context, intro introspect.Introspector) (CatalogSchema, error) {
	matCols, err := intro.ListColumns(ctx, ExactMaterialsTable)
	if err != nil {
		return CatalogSchema{}, err
	}
	var bcCols []introspect.ColumnDescriptor
	if len(matCols) > 0 {
		if bcCols, err = intro.ListColumns(ctx, ExactBarcodeTable); err != nil {
			return CatalogSchema{}, err
		}
	}
	if s, ok := FastPath(introspect.ColumnNames(matCols), introspect.ColumnNames(bcCols)); ok {
		return s, nil
	}

	tables, err := intro.ListTables(ctx)
	if err != nil {
		return CatalogSchema{}, err
	}
	columns := make(map[string][]string, len(tables))
	total := 0
	for _, t := range tables {
		cols, err := intro.ListColumns(ctx, t)
		if err != nil {
			return CatalogSchema{}, err
		}
		columns[t] = introspect.ColumnNames(cols)
		total += len(cols)
	}
	if total == 0 {
		return CatalogSchema{}, errNoColumns
	}
	return Heuristic(tables, columns)
}

// FastPath matches the exact MATERIAL/BARCODE layout. Column names must be
// upper case as returned by the catalog. Unit, price and VAT columns are
// still picked by pattern since their names vary between versions.
func FastPath(materialColumns, barcodeColumns []string) (CatalogSchema, bool) {
	if !containsExact(materialColumns, ExactMaterialsCode) || !containsExact(materialColumns, ExactMaterialsName) {
		return CatalogSchema{}, false
	}
	code := firstExact(barcodeColumns, ExactBarcodeCodeColumns)
	fk := firstExact(barcodeColumns, ExactBarcodeFKColumns)
	if code == "" || fk == "" {
		return CatalogSchema{}, false
	}
	return CatalogSchema{
		MaterialsTable:    ExactMaterialsTable,
		MaterialsCodeCol:  ExactMaterialsCode,
		MaterialsNameCol:  ExactMaterialsName,
		MaterialsUOMCol:   SelectColumn(materialColumns, UnitRolePatterns),
		MaterialsPriceCol: SelectColumn(materialColumns, PriceRolePatterns),
		MaterialsVATCol:   SelectColumn(materialColumns, VATRolePatterns),
		BarcodeTable:      ExactBarcodeTable,
		BarcodeCodeCol:    code,
		BarcodeFKCol:      fk,
		Source:            SourceFast,
	}, true
}

// Heuristic scores every table. tables fixes iteration order; on equal
// scores the earlier table wins.
func Heuristic(tables []string, columns map[string][]string) (CatalogSchema, error) {
	best, bestScore := "", -1.0
	for _, t := range tables {
		if score := MaterialsScore(t, columns[t]); score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == "" || bestScore < MaterialsThreshold {
		return CatalogSchema{}, fmt.Errorf("%w: best candidate %q scored %.1f", ErrSchemaNotFound, best, bestScore)
	}
	cols := columns[best]
	s := CatalogSchema{
		MaterialsTable:    best,
		MaterialsCodeCol:  SelectColumn(cols, CodeRolePatterns),
		MaterialsUOMCol:   SelectColumn(cols, UnitRolePatterns),
		MaterialsPriceCol: SelectColumn(cols, PriceRolePatterns),
		MaterialsVATCol:   SelectColumn(cols, VATRolePatterns),
		Source:            SourceHeuristic,
	}
	s.MaterialsNameCol = selectColumnExcept(cols, NameRolePatterns, s.MaterialsCodeCol)
	if s.MaterialsCodeCol == "" || s.MaterialsNameCol == "" {
		return CatalogSchema{}, fmt.Errorf("%w: %s has no code/name columns", ErrSchemaNotFound, best)
	}

	bcBest, bcScore := "", -1.0
	for _, t := range tables {
		if t == best {
			continue
		}
		if score := BarcodeScore(t, columns[t]); score > bcScore {
			bcBest, bcScore = t, score
		}
	}
	if bcBest != "" && bcScore >= BarcodeThreshold {
		bcCols := columns[bcBest]
		code := SelectColumn(bcCols, BarcodeColumnRolePatterns)
		fk := selectColumnExcept(bcCols, append([]string{s.MaterialsCodeCol}, BarcodeFKRolePatterns...), code)
		if code != "" && fk != "" {
			s.BarcodeTable, s.BarcodeCodeCol, s.BarcodeFKCol = bcBest, code, fk
		}
	}
	return s, nil
}

func containsExact(columns []string, want string) bool {
	for _, c := range columns {
		if strings.EqualFold(c, want) {
			return true
		}
	}
	return false
}

func firstExact(columns, candidates []string) string {
	for _, want := range candidates {
		if containsExact(columns, want) {
			return want
		}
	}
	return ""
}
