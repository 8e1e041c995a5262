// Package catalog reads materials and barcodes through a discovered schema.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MatchKind tells which strategy produced a candidate.
type MatchKind string

const (
	MatchBarcode MatchKind = "barcode"
	MatchCode    MatchKind = "code"
	MatchName    MatchKind = "name"
	MatchManual  MatchKind = "manual"
	MatchMapping MatchKind = "mapping"
)

// Source tells where a candidate came from.
type Source string

const (
	SourceDB      Source = "db"
	SourceMapping Source = "mapping"
	SourceManual  Source = "manual"
)

// Item is one catalog material.
type Item struct {
	Code    string              `json:"code"`
	Name    string              `json:"name"`
	Barcode string              `json:"barcode,omitempty"`
	UOM     string              `json:"uom,omitempty"`
	Price   decimal.NullDecimal `json:"price"`
	VAT     decimal.NullDecimal `json:"vat"`
}

// Candidate is an Item produced by a resolution strategy. Candidates are
// values; copy before changing.
type Candidate struct {
	Item
	Match  MatchKind `json:"match_kind"`
	Source Source    `json:"source"`
}

// Lookup is the read side used by the resolution engine. Implementations
// return ok=false, not an error, when nothing matches.
type Lookup interface {
	ByBarcode(ctx context.Context, barcode string) (Item, bool, error)
	ByCode(ctx context.Context, code string) (Item, bool, error)
	ByName(ctx context.Context, name string, limit int) ([]Item, error)
}

// Stats are row counts of the catalog tables.
type Stats struct {
	Materials int64 `json:"materials"`
	Barcodes  int64 `json:"barcodes"`
}

// BarcodeLink is one row of the barcode table.
type BarcodeLink struct {
	Barcode string `json:"barcode"`
	Code    string `json:"code"`
}

// Preview is a small sample of both tables for diagnostics.
type Preview struct {
	Materials []Item        `json:"materials"`
	Barcodes  []BarcodeLink `json:"barcodes"`
}

// NormalizeToken collapses whitespace the way every lookup expects.
func NormalizeToken(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Text renders a database value as trimmed text.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case decimal.Decimal:
		return x.String()
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Decimal converts a database value; anything unparseable is invalid.
func Decimal(v any) decimal.NullDecimal {
	switch x := v.(type) {
	case nil:
		return decimal.NullDecimal{}
	case decimal.Decimal:
		return decimal.NewNullDecimal(x)
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(x))
	case int32:
		return decimal.NewNullDecimal(decimal.NewFromInt32(x))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(x)))
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(x))
	case float32:
		return decimal.NewNullDecimal(decimal.NewFromFloat32(x))
	}
	s := strings.ReplaceAll(Text(v), ",", ".")
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
