package mapping

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"  Зелен   ЧАЙ\tпремиум ",
		"Кафе Арабика",
		"STRASSE Straße",
		"",
		"\n\n",
		"a  b c",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
	if got := Normalize("  Зелен   ЧАЙ\tпремиум "); got != "зелен чай премиум" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestLastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	s := Open(path)
	if err := s.PutText("ACME", "Зелен чай", "1001"); err != nil {
		t.Fatalf("PutText: %v", err)
	}
	if err := s.PutText("ACME", "  зелен   ЧАЙ ", "1002"); err != nil {
		t.Fatalf("PutText: %v", err)
	}
	if code, ok := s.LookupText("ACME", "ЗЕЛЕН ЧАЙ"); !ok || code != "1002" {
		t.Fatalf("LookupText = %q, %v", code, ok)
	}
	if n := s.Len("ACME"); n != 1 {
		t.Fatalf("expected a single entry, got %d", n)
	}

	reopened := Open(path)
	if code, ok := reopened.LookupText("ACME", "зелен чай"); !ok || code != "1002" {
		t.Fatalf("persisted LookupText = %q, %v", code, ok)
	}
}

func TestFileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	s := Open(path)
	if err := s.PutBarcode("ACME", " 3801234567890 ", "1001"); err != nil {
		t.Fatalf("PutBarcode: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Suppliers map[string]struct {
			ByText    map[string]string `json:"by_text"`
			ByBarcode map[string]string `json:"by_barcode"`
		} `json:"suppliers"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Suppliers["ACME"].ByBarcode["3801234567890"] != "1001" {
		t.Fatalf("unexpected file: %s", raw)
	}
}

func TestSupplierScope(t *testing.T) {
	s := Open("")
	if err := s.PutText("A", "мляко", "1"); err != nil {
		t.Fatalf("PutText: %v", err)
	}
	if _, ok := s.LookupText("B", "мляко"); ok {
		t.Fatalf("mapping leaked across suppliers")
	}
	if _, ok := s.LookupBarcode("A", "мляко"); ok {
		t.Fatalf("mapping leaked across indexes")
	}
	if err := s.PutText("A", "  ", "1"); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestCorruptFileDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := Open(path)
	if _, ok := s.LookupText("ACME", "x"); ok {
		t.Fatalf("corrupt file should yield no mappings")
	}
	if err := s.PutText("ACME", "чай", "1002"); err != nil {
		t.Fatalf("PutText: %v", err)
	}
	kept, err := os.ReadFile(path + ".corrupt")
	if err != nil || string(kept) != "{not json" {
		t.Fatalf("corrupt file not preserved: %q, %v", kept, err)
	}
	if code, ok := Open(path).LookupText("ACME", "чай"); !ok || code != "1002" {
		t.Fatalf("new file not written: %q %v", code, ok)
	}
	if got := Open(filepath.Join(t.TempDir(), "missing.json")).Suppliers(); len(got) != 0 {
		t.Fatalf("missing file should be empty, got %v", got)
	}
}
