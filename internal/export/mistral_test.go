package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"microvision.org/internal/resolve"
)

func decode(t *testing.T, raw []byte) string {
	t.Helper()
	s, err := charmap.Windows1251.NewDecoder().Bytes(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return string(s)
}

func TestWriteWindows1251(t *testing.T) {
	items := []resolve.FinalLineItem{
		{
			Code:      "1001",
			Name:      "Кафе\tАрабика",
			Barcode:   "3801234567890",
			Qty:       decimal.RequireFromString("2.5"),
			Price:     decimal.RequireFromString("10.40"),
			SalePrice: decimal.NewNullDecimal(decimal.RequireFromString("14")),
		},
		{Code: "1002", Name: "Чай ☕", Qty: decimal.NewFromInt(1), Price: decimal.Zero},
	}
	var buf bytes.Buffer
	if err := Write(&buf, "", items); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(decode(t, buf.Bytes()), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", lines)
	}
	if lines[0] != Header {
		t.Fatalf("header = %q", lines[0])
	}
	if want := "1.00\tСклад\t1001\tКафе Арабика\t2.5\t10.4\t14\t3801234567890"; lines[1] != want {
		t.Fatalf("line = %q, want %q", lines[1], want)
	}
	if want := "1.00\tСклад\t1002\tЧай ?\t1\t0\t\t"; lines[2] != want {
		t.Fatalf("line = %q, want %q", lines[2], want)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mistral.txt")
	if err := WriteFile(path, "2.00", nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := decode(t, raw); got != Header+"\n" {
		t.Fatalf("unexpected file: %q", got)
	}
}
