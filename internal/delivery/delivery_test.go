package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"microvision.org/internal/config"
	"microvision.org/internal/introspect"
	"microvision.org/internal/resolve"
)

type fakeMeta struct {
	tables  []string
	gens    []string
	columns map[string][]string
}

func (f fakeMeta) ListTables(context.Context) ([]string, error)     { return f.tables, nil }
func (f fakeMeta) ListGenerators(context.Context) ([]string, error) { return f.gens, nil }
func (f fakeMeta) ListColumns(_ context.Context, table string) ([]introspect.ColumnDescriptor, error) {
	return introspect.Columns(f.columns[table]...), nil
}

var mistralMeta = fakeMeta{
	tables: []string{"MATERIAL", "TEMPDELIVERY", "TEMPDELIVERYSDR"},
	gens:   []string{"GEN_TEMPDELIVERYSDR_ID", "GEN_TEMPDELIVERY_ID"},
	columns: map[string][]string{
		"TEMPDELIVERY":    {"ID", "NOMER", "USERSID", "OBEKTID", "NOTE"},
		"TEMPDELIVERYSDR": {"ID", "TEMPDELIVERYID", "ARTNOMER", "QTY", "EDPRICE", "EDPRICEDDS", "SUMA", "SUMADDS"},
	},
}

func location(id int64) *int64 { return &id }

var items = []resolve.FinalLineItem{{
	Code:  "1001",
	Name:  "Кафе Арабика",
	Qty:   decimal.NewFromInt(2),
	Price: decimal.NewFromInt(10),
	VAT:   decimal.NewFromInt(20),
}}

func TestDiscoverTables(t *testing.T) {
	w := NewWriter(nil, mistralMeta, config.Profile{}, false)
	got, err := w.DiscoverTables(context.Background())
	if err != nil {
		t.Fatalf("DiscoverTables: %v", err)
	}
	want := Tables{Header: "TEMPDELIVERY", Detail: "TEMPDELIVERYSDR", HeaderGenerator: "GEN_TEMPDELIVERY_ID", DetailGenerator: "GEN_TEMPDELIVERYSDR_ID"}
	if got != want {
		t.Fatalf("DiscoverTables = %+v", got)
	}

	_, err = NewWriter(nil, fakeMeta{tables: []string{"TEMPDELIVERYSDR"}}, config.Profile{}, false).DiscoverTables(context.Background())
	if !errors.Is(err, ErrNoHeaderTable) {
		t.Fatalf("expected ErrNoHeaderTable, got %v", err)
	}
}

func TestPushDryRunWritesNothing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT COALESCE(MAX(ID), 0) + 1 FROM TEMPDELIVERY").WillReturnRows(sqlmock.NewRows([]string{"N"}).AddRow(int64(12)))
	mock.ExpectQuery("SELECT COALESCE(MAX(NOMER), 0) + 1 FROM TEMPDELIVERY WHERE OBEKTID = ?").WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"N"}).AddRow(int64(4)))
	mock.ExpectQuery("SELECT COALESCE(MAX(ID), 0) + 1 FROM TEMPDELIVERYSDR").WillReturnRows(sqlmock.NewRows([]string{"N"}).AddRow(nil))

	w := NewWriter(db, mistralMeta, config.Profile{LocationID: location(3)}, false)
	res, err := w.Push(context.Background(), 7, items)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Live || res.DeliveryID != 12 || res.Nomer != 4 || len(res.Lines) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := res.Header.SQL(); got != "INSERT INTO TEMPDELIVERY (ID, OBEKTID, NOMER, USERSID, NOTE) VALUES (?, ?, ?, ?, ?)" {
		t.Fatalf("header SQL = %s", got)
	}
	if res.Lines[0].Values[0] != int64(1) {
		t.Fatalf("empty detail table should start at id 1, got %v", res.Lines[0].Values[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPushLiveUsesGeneratorsInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GEN_ID(GEN_TEMPDELIVERY_ID, 1) FROM RDB$DATABASE").WillReturnRows(sqlmock.NewRows([]string{"GEN_ID"}).AddRow(int64(55)))
	mock.ExpectQuery("SELECT COALESCE(MAX(NOMER), 0) + 1 FROM TEMPDELIVERY WHERE OBEKTID = ?").WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"N"}).AddRow(int64(8)))
	mock.ExpectQuery("SELECT GEN_ID(GEN_TEMPDELIVERYSDR_ID, 1) FROM RDB$DATABASE").WillReturnRows(sqlmock.NewRows([]string{"GEN_ID"}).AddRow(int64(900)))
	mock.ExpectExec("INSERT INTO TEMPDELIVERY (ID, OBEKTID, NOMER, USERSID, NOTE) VALUES (?, ?, ?, ?, ?)").
		WithArgs(55, 3, 8, 7, Note).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO TEMPDELIVERYSDR (ID, TEMPDELIVERYID, ARTNOMER, QTY, EDPRICE, EDPRICEDDS, SUMA, SUMADDS) VALUES (?, ?, ?, ?, ?, ?, ?, ?)").
		WithArgs(900, 55, 1001, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := NewWriter(db, mistralMeta, config.Profile{LocationID: location(3)}, true)
	w.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	res, err := w.Push(context.Background(), 7, items)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !res.Live || res.DeliveryID != 55 || res.Nomer != 8 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPushRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	meta := mistralMeta
	meta.columns = map[string][]string{"TEMPDELIVERY": {"ID"}, "TEMPDELIVERYSDR": {"ID"}}
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GEN_ID(GEN_TEMPDELIVERY_ID, 1) FROM RDB$DATABASE").WillReturnRows(sqlmock.NewRows([]string{"GEN_ID"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT GEN_ID(GEN_TEMPDELIVERYSDR_ID, 1) FROM RDB$DATABASE").WillReturnRows(sqlmock.NewRows([]string{"GEN_ID"}).AddRow(int64(2)))
	mock.ExpectExec("INSERT INTO TEMPDELIVERY (ID) VALUES (?)").WithArgs(1).WillReturnError(errors.New("violation of PRIMARY KEY"))
	mock.ExpectRollback()

	_, err = NewWriter(db, meta, config.Profile{}, true).Push(context.Background(), 7, items)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPushValidatesInput(t *testing.T) {
	w := NewWriter(nil, mistralMeta, config.Profile{}, false)
	if _, err := w.Push(context.Background(), 0, items); !errors.Is(err, ErrNoOperator) {
		t.Fatalf("expected ErrNoOperator, got %v", err)
	}
	if _, err := w.Push(context.Background(), 1, nil); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}
}

func TestAmountsRoundHalfUp(t *testing.T) {
	a := Amounts(resolve.FinalLineItem{
		Qty:       decimal.NewFromInt(3),
		Price:     decimal.RequireFromString("1.11115"),
		VAT:       decimal.NewFromInt(20),
		SalePrice: decimal.NewNullDecimal(decimal.RequireFromString("2")),
	})
	checks := map[string]struct{ got, want decimal.Decimal }{
		"price with vat": {a.PriceWithVAT, decimal.RequireFromString("1.3334")},
		"sum":            {a.Sum, decimal.RequireFromString("3.3335")},
		"sum with vat":   {a.SumWithVAT, decimal.RequireFromString("4.0002")},
		"sale with vat":  {a.SalePriceWithVAT, decimal.RequireFromString("2.4")},
		"sale sum vat":   {a.SaleSumWithVAT, decimal.RequireFromString("7.2")},
	}
	for name, c := range checks {
		if !c.got.Equal(c.want) {
			t.Fatalf("%s = %s, want %s", name, c.got, c.want)
		}
	}
	zero := Amounts(resolve.FinalLineItem{Qty: decimal.NewFromInt(2), Price: decimal.NewFromInt(5)})
	if !zero.SumWithVAT.Equal(decimal.NewFromInt(10)) || !zero.PriceWithVAT.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("zero VAT amounts = %+v", zero)
	}
}
