package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"microvision.org/internal/catalog"
)

type fakeSource struct {
	items    []catalog.Item
	links    []catalog.BarcodeLink
	barcodes error
}

func (f fakeSource) EachItem(_ context.Context, _ int, fn func(catalog.Item) error) error {
	for _, it := range f.items {
		if err := fn(it); err != nil {
			return err
		}
	}
	return nil
}

func (f fakeSource) EachBarcode(_ context.Context, _ int, fn func(catalog.BarcodeLink) error) error {
	if f.barcodes != nil {
		return f.barcodes
	}
	for _, l := range f.links {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "snap", "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var source = fakeSource{
	items: []catalog.Item{
		{Code: "1001", Name: "Кафе Арабика 250г", Price: price("10.40"), VAT: price("20")},
		{Code: "1002", Name: "Чай Зелен", Barcode: "3800000000002"},
		{Code: "1003", Name: "Кафе", UOM: "бр"},
		{Code: "", Name: "orphan"},
	},
	links: []catalog.BarcodeLink{
		{Barcode: "3801234567890", Code: "1001"},
		{Barcode: "", Code: "1002"},
	},
}

func TestImportAndLookup(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if _, ok, err := s.ImportedAt(ctx); err != nil || ok {
		t.Fatalf("fresh snapshot should have no import time, ok=%v err=%v", ok, err)
	}
	stats, err := s.Import(ctx, source)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Materials != 3 || stats.Barcodes != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got, err := s.Counts(ctx); err != nil || got != stats {
		t.Fatalf("Counts = %+v, %v", got, err)
	}
	if _, ok, err := s.ImportedAt(ctx); err != nil || !ok {
		t.Fatalf("ImportedAt ok=%v err=%v", ok, err)
	}

	it, ok, err := s.ByBarcode(ctx, " 3801234567890 ")
	if err != nil || !ok {
		t.Fatalf("ByBarcode ok=%v err=%v", ok, err)
	}
	if it.Code != "1001" || it.Barcode != "3801234567890" || !it.Price.Valid || it.Price.Decimal.String() != "10.4" {
		t.Fatalf("unexpected item %+v", it)
	}

	it, ok, err = s.ByBarcode(ctx, "3800000000002")
	if err != nil || !ok || it.Code != "1002" {
		t.Fatalf("material barcode lookup: %+v ok=%v err=%v", it, ok, err)
	}

	if _, ok, err := s.ByBarcode(ctx, "0000"); err != nil || ok {
		t.Fatalf("unknown barcode ok=%v err=%v", ok, err)
	}

	it, ok, err = s.ByCode(ctx, "1003")
	if err != nil || !ok || it.UOM != "бр" || it.Price.Valid {
		t.Fatalf("ByCode: %+v ok=%v err=%v", it, ok, err)
	}
}

func TestByNameFoldsCaseShortestFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if _, err := s.Import(ctx, source); err != nil {
		t.Fatalf("Import: %v", err)
	}
	items, err := s.ByName(ctx, "  КАФЕ ", 5)
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if len(items) != 2 || items[0].Code != "1003" || items[1].Code != "1001" {
		t.Fatalf("unexpected order %+v", items)
	}
	items, err = s.ByName(ctx, "кафе", 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("limit not applied: %+v %v", items, err)
	}
	if items, err := s.ByName(ctx, " ", 5); err != nil || items != nil {
		t.Fatalf("blank name: %+v %v", items, err)
	}
}

func TestByCodeFoldsCyrillic(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	src := fakeSource{items: []catalog.Item{{Code: "КФ-01", Name: "Кафе Мляно"}}}
	if _, err := s.Import(ctx, src); err != nil {
		t.Fatalf("Import: %v", err)
	}
	for _, code := range []string{"КФ-01", "кф-01", " Кф-01 "} {
		it, ok, err := s.ByCode(ctx, code)
		if err != nil || !ok || it.Code != "КФ-01" {
			t.Fatalf("ByCode(%q) = %+v ok=%v err=%v", code, it, ok, err)
		}
	}
}

func TestImportReplacesAndToleratesMissingBarcodeTable(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if _, err := s.Import(ctx, source); err != nil {
		t.Fatalf("Import: %v", err)
	}
	second := fakeSource{
		items:    []catalog.Item{{Code: "2001", Name: "Захар"}},
		barcodes: catalog.ErrNoBarcodes,
	}
	stats, err := s.Import(ctx, second)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Materials != 1 || stats.Barcodes != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, ok, _ := s.ByCode(ctx, "1001"); ok {
		t.Fatalf("old rows should be replaced")
	}
}

func TestImportFailureKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if _, err := s.Import(ctx, source); err != nil {
		t.Fatalf("Import: %v", err)
	}
	boom := errors.New("connection reset")
	_, err := s.Import(ctx, fakeSource{items: []catalog.Item{{Code: "9", Name: "x"}}, barcodes: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if _, ok, _ := s.ByCode(ctx, "1001"); !ok {
		t.Fatalf("previous snapshot should survive a failed import")
	}
}
