package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"

	"microvision.org/internal/catalog"
	"microvision.org/internal/mapping"
	"microvision.org/internal/resolve"
)

func TestParseLines(t *testing.T) {
	input := "# invoice 42\n3801234567890\t2\t10,40\n\nКафе Арабика\t\t\t14\r\n"
	lines, err := parseLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Qty.String() != "2" || !lines[0].Price.Valid || lines[0].Price.Decimal.String() != "10.4" {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].Token != "Кафе Арабика" || !lines[1].Qty.IsZero() || lines[1].Price.Valid || lines[1].SalePrice.Decimal.String() != "14" {
		t.Fatalf("unexpected second line %+v", lines[1])
	}

	if _, err := parseLines(strings.NewReader("x\tmany\n")); err == nil {
		t.Fatal("expected bad quantity error")
	}
}

func TestAskDecision(t *testing.T) {
	nd := &resolve.NeedsDecision{Index: 0, Token: "кафе", Candidates: []catalog.Candidate{
		{Item: catalog.Item{Code: "1001", Name: "Кафе Арабика"}},
		{Item: catalog.Item{Code: "1002", Name: "Кафе Бразилия"}},
	}}
	cases := []struct {
		input string
		want  resolve.Decision
	}{
		{"2\n", resolve.Decision{Kind: resolve.DecideChoose, Index: 1}},
		{"9\nx\n1\n", resolve.Decision{Kind: resolve.DecideChoose, Index: 0}},
		{"s\n", resolve.Decision{Kind: resolve.DecideSkip}},
		{"m 2001\n", resolve.Decision{Kind: resolve.DecideManual, Code: "2001"}},
		{"", resolve.Decision{Kind: resolve.DecideCancel}},
	}
	for _, tc := range cases {
		got := askDecision(bufio.NewScanner(strings.NewReader(tc.input)), io.Discard, nd)
		if got != tc.want {
			t.Fatalf("input %q: got %+v, want %+v", tc.input, got, tc.want)
		}
	}
}

type codeCatalog map[string]string

func (c codeCatalog) ByBarcode(context.Context, string) (catalog.Item, bool, error) {
	return catalog.Item{}, false, nil
}

func (c codeCatalog) ByCode(_ context.Context, code string) (catalog.Item, bool, error) {
	name, ok := c[code]
	return catalog.Item{Code: code, Name: name}, ok, nil
}

func (c codeCatalog) ByName(context.Context, string, int) ([]catalog.Item, error) {
	return nil, nil
}

func TestAskManualCodes(t *testing.T) {
	ctx := context.Background()
	maps := mapping.Open("")
	engine := resolve.NewEngine(codeCatalog{"1001": "Кафе Арабика"}, maps)
	pass := resolve.NewPass("ACME", []resolve.Line{{Token: "арабика 1кг"}, {Token: "захар"}}, true)
	if nd, err := engine.Run(ctx, pass); err != nil || nd != nil {
		t.Fatalf("Run = %v, %v", nd, err)
	}

	var out strings.Builder
	in := bufio.NewScanner(strings.NewReader("9999\n1001\n\n"))
	if err := askManualCodes(ctx, in, &out, engine, pass); err != nil {
		t.Fatalf("askManualCodes: %v", err)
	}
	if !strings.Contains(out.String(), `no material with code "9999"`) {
		t.Fatalf("unknown code not reported:\n%s", out.String())
	}
	lines := pass.Snapshot().Lines
	if lines[0].Status != resolve.StatusResolved || lines[0].Chosen.Code != "1001" || lines[0].Via != resolve.ViaManual {
		t.Fatalf("first line not settled manually: %+v", lines[0])
	}
	if lines[1].Status != resolve.StatusUnresolved {
		t.Fatalf("second line should stay unresolved: %+v", lines[1])
	}
	if code, ok := maps.LookupText("ACME", "арабика 1кг"); !ok || code != "1001" {
		t.Fatalf("manual code not learned: %q %v", code, ok)
	}
}
