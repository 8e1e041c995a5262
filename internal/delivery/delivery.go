// Package delivery pushes resolved invoice lines into the OPEN delivery
// tables of the accounting database.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"microvision.org/internal/config"
	"microvision.org/internal/introspect"
	"microvision.org/internal/obs"
	"microvision.org/internal/resolve"
)

// Note written into the header of every delivery.
const Note = "MicroVision импорт от MicroVision Invoice Parser"

const tablePrefix = "TEMPDELIVERY"

var (
	ErrNoHeaderTable = errors.New("delivery: no OPEN delivery table (TEMPDELIVERY)")
	ErrNoDetailTable = errors.New("delivery: no OPEN delivery lines table (TEMPDELIVERYSDR)")
	ErrNoOperator    = errors.New("delivery: operator id is required")
	ErrNoItems       = errors.New("delivery: nothing to push")
)

// Metadata is the catalog access the writer needs; *introspect.Firebird
// satisfies it.
type Metadata interface {
	ListTables(ctx context.Context) ([]string, error)
	ListGenerators(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]introspect.ColumnDescriptor, error)
}

// DB runs the reads and the write transaction.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Tables names the header and detail tables with their generators.
type Tables struct {
	Header          string `json:"header"`
	Detail          string `json:"detail"`
	HeaderGenerator string `json:"header_generator,omitempty"`
	DetailGenerator string `json:"detail_generator,omitempty"`
}

// Row is one INSERT in column order.
type Row struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Values  []any    `json:"values"`
}

func (r *Row) set(col string, v any) {
	r.Columns = append(r.Columns, col)
	r.Values = append(r.Values, v)
}

// SQL renders the INSERT statement.
func (r Row) SQL() string {
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(r.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.Table, strings.Join(r.Columns, ", "), ph)
}

// Result describes a push. In dry-run mode nothing was written and ids are
// previews.
type Result struct {
	DeliveryID int64  `json:"delivery_id"`
	Nomer      int64  `json:"nomer,omitempty"`
	Live       bool   `json:"live"`
	Tables     Tables `json:"tables"`
	Header     Row    `json:"header"`
	Lines      []Row  `json:"lines"`
}

// Writer creates OPEN deliveries.
type Writer struct {
	db      DB
	meta    Metadata
	profile config.Profile
	live    bool
	now     func() time.Time
}

// NewWriter returns a writer. With live false every statement is computed
// and logged but none is executed.
func NewWriter(db DB, meta Metadata, profile config.Profile, live bool) *Writer {
	return &Writer{db: db, meta: meta, profile: profile, live: live, now: time.Now}
}

// DiscoverTables finds the delivery tables and generators.
func (w *Writer) DiscoverTables(ctx context.Context) (Tables, error) {
	names, err := w.meta.ListTables(ctx)
	if err != nil {
		return Tables{}, err
	}
	var t Tables
	for _, n := range names {
		up := strings.ToUpper(n)
		if !strings.HasPrefix(up, tablePrefix) {
			continue
		}
		if strings.HasSuffix(up, "SDR") || strings.Contains(up, "DETAIL") || strings.Contains(up, "ITEM") {
			t.Detail = n
		} else {
			t.Header = n
		}
	}
	if t.Header == "" {
		return Tables{}, ErrNoHeaderTable
	}
	if t.Detail == "" {
		return Tables{}, ErrNoDetailTable
	}
	gens, err := w.meta.ListGenerators(ctx)
	if err != nil {
		return Tables{}, err
	}
	for _, g := range gens {
		up := strings.ToUpper(g)
		if !strings.Contains(up, tablePrefix) {
			continue
		}
		if strings.Contains(up, "SDR") || strings.Contains(up, "DETAIL") {
			t.DetailGenerator = g
		} else {
			t.HeaderGenerator = g
		}
	}
	return t, nil
}

func (w *Writer) columns(ctx context.Context, table string) (map[string]bool, error) {
	cols, err := w.meta.ListColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(cols))
	for _, c := range cols {
		out[strings.ToUpper(c.Column)] = true
	}
	return out, nil
}

// Push creates a delivery header for operatorID and one detail row per item
// inside a single transaction.
func (w *Writer) Push(ctx context.Context, operatorID int64, items []resolve.FinalLineItem) (Result, error) {
	if operatorID == 0 {
		return Result{}, ErrNoOperator
	}
	if len(items) == 0 {
		return Result{}, ErrNoItems
	}
	tables, err := w.DiscoverTables(ctx)
	if err != nil {
		return Result{}, err
	}
	headerCols, err := w.columns(ctx, tables.Header)
	if err != nil {
		return Result{}, err
	}
	detailCols, err := w.columns(ctx, tables.Detail)
	if err != nil {
		return Result{}, err
	}

	res := Result{Live: w.live, Tables: tables}
	if !w.live {
		if err := w.plan(ctx, w.db, &res, headerCols, detailCols, operatorID, items, w.previewID); err != nil {
			return Result{}, err
		}
		obs.Info("OPEN delivery not written (dry-run)", map[string]any{
			"header_table": tables.Header, "detail_table": tables.Detail,
			"delivery_id": res.DeliveryID, "items": len(res.Lines),
		})
		return res, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("delivery: begin: %w", err)
	}
	defer tx.Rollback()
	if err := w.plan(ctx, tx, &res, headerCols, detailCols, operatorID, items, w.generatorID); err != nil {
		return Result{}, err
	}
	if _, err := tx.ExecContext(ctx, res.Header.SQL(), res.Header.Values...); err != nil {
		return Result{}, fmt.Errorf("delivery: create header: %w", err)
	}
	for i, line := range res.Lines {
		if _, err := tx.ExecContext(ctx, line.SQL(), line.Values...); err != nil {
			return Result{}, fmt.Errorf("delivery: line %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("delivery: commit: %w", err)
	}
	obs.Info("OPEN delivery written", map[string]any{
		"header_table": tables.Header, "delivery_id": res.DeliveryID, "nomer": res.Nomer, "items": len(res.Lines),
	})
	return res, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type idFunc func(ctx context.Context, q rowQuerier, table, generator string) (int64, error)

// generatorID advances the generator, or falls back to MAX(ID)+1.
func (w *Writer) generatorID(ctx context.Context, q rowQuerier, table, generator string) (int64, error) {
	if generator == "" {
		return w.previewID(ctx, q, table, "")
	}
	return scanInt(ctx, q, fmt.Sprintf("SELECT GEN_ID(%s, 1) FROM RDB$DATABASE", generator))
}

// previewID reads MAX(ID)+1 without touching generators.
func (w *Writer) previewID(ctx context.Context, q rowQuerier, table, _ string) (int64, error) {
	id, err := scanInt(ctx, q, fmt.Sprintf("SELECT COALESCE(MAX(ID), 0) + 1 FROM %s", table))
	if err == nil && id == 0 {
		id = 1
	}
	return id, err
}

func scanInt(ctx context.Context, q rowQuerier, query string, args ...any) (int64, error) {
	var n sql.NullInt64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("delivery: %s: %w", query, err)
	}
	return n.Int64, nil
}

func (w *Writer) plan(ctx context.Context, q rowQuerier, res *Result, headerCols, detailCols map[string]bool, operatorID int64, items []resolve.FinalLineItem, nextID idFunc) error {
	t := res.Tables
	id, err := nextID(ctx, q, t.Header, t.HeaderGenerator)
	if err != nil {
		return err
	}
	res.DeliveryID = id
	p := w.profile
	now := w.now()

	h := Row{Table: t.Header}
	h.set("ID", id)
	var obekt any
	if headerCols["OBEKTID"] && p.LocationID != nil {
		obekt = *p.LocationID
		h.set("OBEKTID", obekt)
	}
	if headerCols["LOCATIONID"] && p.LocationID != nil {
		h.set("LOCATIONID", *p.LocationID)
	}
	if headerCols["STORAGEID"] && p.StorageID != nil {
		h.set("STORAGEID", *p.StorageID)
	}
	if headerCols["NOMER"] {
		query := fmt.Sprintf("SELECT COALESCE(MAX(NOMER), 0) + 1 FROM %s", t.Header)
		var args []any
		if obekt != nil {
			query += " WHERE OBEKTID = ?"
			args = append(args, obekt)
		}
		nomer, err := scanInt(ctx, q, query, args...)
		if err != nil {
			return err
		}
		if nomer == 0 {
			nomer = id
		}
		res.Nomer = nomer
		h.set("NOMER", nomer)
	}
	if headerCols["USERSID"] {
		h.set("USERSID", operatorID)
	}
	if headerCols["DTSAVE"] {
		h.set("DTSAVE", now)
	}
	if headerCols["DOCDATE"] {
		y, m, d := now.Date()
		h.set("DOCDATE", time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
	}
	if headerCols["DOCTYPEID"] && p.OperationDocType != nil {
		h.set("DOCTYPEID", *p.OperationDocType)
	}
	if headerCols["TYPEDB"] {
		h.set("TYPEDB", 0)
	}
	if headerCols["RAZCR"] {
		h.set("RAZCR", "O")
	}
	if headerCols["CHRFORCHECK"] {
		h.set("CHRFORCHECK", "0")
	}
	if headerCols["NOTE"] {
		h.set("NOTE", Note)
	}
	res.Header = h

	find := func(candidates ...string) string {
		for _, c := range candidates {
			if detailCols[c] {
				return c
			}
		}
		return ""
	}
	var (
		headerRef     = find("TEMPDELIVERYID", "TEMPDELIVERY_ID", "HEADERID")
		obektCol      = find("OBEKTID", "LOCATIONID")
		skladCol      = find("CKLADID", "STORAGEID")
		artCol        = find("ARTNOMER", "MATERIALCODE", "ITEMCODE")
		qtyCol        = find("QTY", "KOL", "KOLICHESTVO")
		priceCol      = find("EDPRICE", "PRICE", "DELIVERYPRICE")
		priceVATCol   = find("EDPRICEDDS", "PRICEVAT")
		sumCol        = find("SUMA", "SUMPRICE")
		sumVATCol     = find("SUMADDS", "SUMPRICEVAT")
		barcodeCol    = find("BARCODE")
		saleCol       = find("SALESPRICE")
		saleVATCol    = find("SALESPRICEDDS")
		sumSaleCol    = find("SUMASALESPRICE")
		sumSaleVATCol = find("SUMASALESPRICEDDS")
	)

	res.Lines = make([]Row, 0, len(items))
	for _, it := range items {
		lineID, err := nextID(ctx, q, t.Detail, t.DetailGenerator)
		if err != nil {
			return err
		}
		a := Amounts(it)
		r := Row{Table: t.Detail}
		r.set("ID", lineID)
		if headerRef != "" {
			r.set(headerRef, id)
		}
		if detailCols["NOMER"] && res.Nomer != 0 {
			r.set("NOMER", res.Nomer)
		}
		if obektCol != "" && p.LocationID != nil {
			r.set(obektCol, *p.LocationID)
		}
		if skladCol != "" && p.StorageID != nil {
			r.set(skladCol, *p.StorageID)
		}
		if artCol != "" {
			r.set(artCol, materialCode(it.Code))
		}
		if qtyCol != "" {
			r.set(qtyCol, it.Qty)
		}
		if priceCol != "" {
			r.set(priceCol, it.Price)
		}
		if priceVATCol != "" {
			r.set(priceVATCol, a.PriceWithVAT)
		}
		if sumCol != "" {
			r.set(sumCol, a.Sum)
		}
		if sumVATCol != "" {
			r.set(sumVATCol, a.SumWithVAT)
		}
		if barcodeCol != "" && it.Barcode != "" {
			r.set(barcodeCol, it.Barcode)
		}
		if saleCol != "" && it.SalePrice.Valid {
			r.set(saleCol, it.SalePrice.Decimal)
			if saleVATCol != "" {
				r.set(saleVATCol, a.SalePriceWithVAT)
			}
			if sumSaleCol != "" {
				r.set(sumSaleCol, a.SaleSum)
			}
			if sumSaleVATCol != "" {
				r.set(sumSaleVATCol, a.SaleSumWithVAT)
			}
		}
		res.Lines = append(res.Lines, r)
	}
	return nil
}

// materialCode passes numeric codes as integers.
func materialCode(code string) any {
	if n, err := strconv.ParseInt(strings.TrimSpace(code), 10, 64); err == nil {
		return n
	}
	return strings.TrimSpace(code)
}

// LineAmounts are the derived money columns of a detail row.
type LineAmounts struct {
	PriceWithVAT     decimal.Decimal
	Sum              decimal.Decimal
	SumWithVAT       decimal.Decimal
	SalePriceWithVAT decimal.Decimal
	SaleSum          decimal.Decimal
	SaleSumWithVAT   decimal.Decimal
}

// Amounts computes sums rounded half-up to 4 places.
func Amounts(it resolve.FinalLineItem) LineAmounts {
	var a LineAmounts
	a.PriceWithVAT = resolve.WithVAT(it.Price, it.VAT)
	a.Sum = it.Price.Mul(it.Qty).Round(4)
	a.SumWithVAT = a.Sum
	if !it.VAT.IsZero() {
		a.SumWithVAT = a.PriceWithVAT.Mul(it.Qty).Round(4)
	}
	if it.SalePrice.Valid {
		a.SalePriceWithVAT = resolve.WithVAT(it.SalePrice.Decimal, it.VAT)
		a.SaleSum = it.SalePrice.Decimal.Mul(it.Qty).Round(4)
		a.SaleSumWithVAT = a.SalePriceWithVAT.Mul(it.Qty).Round(4)
	}
	return a
}
