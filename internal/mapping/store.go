// Package mapping persists supplier-scoped shortcuts from invoice text or
// barcodes to confirmed catalog codes.
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"microvision.org/internal/obs"
)

// DefaultSupplier scopes entries written without a supplier label.
const DefaultSupplier = "default"

var ErrEmptyKey = errors.New("mapping: empty key or code")

// Kind names one of the two per-supplier indexes.
type Kind string

const (
	ByText    Kind = "by_text"
	ByBarcode Kind = "by_barcode"
)

type supplierEntries struct {
	ByText    map[string]string `json:"by_text"`
	ByBarcode map[string]string `json:"by_barcode"`
}

type document struct {
	Suppliers map[string]*supplierEntries `json:"suppliers"`
}

// Store is a file-backed mapping cache. The zero path keeps it in memory.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// Open loads path. A missing or unreadable file yields an empty store; the
// problem is logged, never returned. A corrupt file is moved to
// path+".corrupt" so the next write does not destroy it.
func Open(path string) *Store {
	s := &Store{path: path, doc: document{Suppliers: map[string]*supplierEntries{}}}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			obs.Warn("mapping file unreadable", map[string]any{"path": path, "error": err.Error()})
		}
		return s
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		fields := map[string]any{"path": path, "error": err.Error()}
		aside := path + ".corrupt"
		if rerr := os.Rename(path, aside); rerr != nil {
			fields["rename_error"] = rerr.Error()
		} else {
			fields["moved_to"] = aside
		}
		obs.Warn("mapping file corrupt, starting empty", fields)
		return s
	}
	for label, e := range doc.Suppliers {
		if e == nil {
			continue
		}
		dst := s.supplier(label)
		for k, v := range e.ByText {
			if k = Normalize(k); k != "" && strings.TrimSpace(v) != "" {
				dst.ByText[k] = strings.TrimSpace(v)
			}
		}
		for k, v := range e.ByBarcode {
			if k = normalizeBarcode(k); k != "" && strings.TrimSpace(v) != "" {
				dst.ByBarcode[k] = strings.TrimSpace(v)
			}
		}
	}
	return s
}

// Normalize collapses internal whitespace, case-folds and strips text.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	return strings.Join(strings.Fields(cases.Fold().String(text)), " ")
}

func normalizeBarcode(barcode string) string {
	return strings.Join(strings.Fields(barcode), "")
}

func supplierKey(label string) string {
	if label = strings.TrimSpace(label); label == "" {
		return DefaultSupplier
	}
	return label
}

// Lookup returns the code stored for key in the given index.
func (s *Store) Lookup(supplier string, kind Kind, key string) (string, bool) {
	key = indexKey(kind, key)
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.doc.Suppliers[supplierKey(supplier)]
	if !ok {
		return "", false
	}
	code, ok := e.index(kind)[key]
	return code, ok
}

func (s *Store) LookupText(supplier, text string) (string, bool) {
	return s.Lookup(supplier, ByText, text)
}

func (s *Store) LookupBarcode(supplier, barcode string) (string, bool) {
	return s.Lookup(supplier, ByBarcode, barcode)
}

// Put writes key → code and persists immediately. Writing the same code
// again is a no-op; a different code overwrites.
func (s *Store) Put(supplier string, kind Kind, key, code string) error {
	key = indexKey(kind, key)
	code = strings.TrimSpace(code)
	if key == "" || code == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.supplier(supplierKey(supplier)).index(kind)
	prev, existed := idx[key]
	if existed && prev == code {
		return nil
	}
	idx[key] = code
	if err := s.persist(); err != nil {
		if existed {
			idx[key] = prev
		} else {
			delete(idx, key)
		}
		return err
	}
	obs.Info("mapping stored", map[string]any{"supplier": supplierKey(supplier), "kind": string(kind), "key": key, "code": code, "replaced": prev})
	return nil
}

func (s *Store) PutText(supplier, text, code string) error {
	return s.Put(supplier, ByText, text, code)
}

func (s *Store) PutBarcode(supplier, barcode, code string) error {
	return s.Put(supplier, ByBarcode, barcode, code)
}

// Suppliers lists supplier labels in order.
func (s *Store) Suppliers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.doc.Suppliers))
	for k := range s.doc.Suppliers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len counts entries of one supplier across both indexes.
func (s *Store) Len(supplier string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.doc.Suppliers[supplierKey(supplier)]
	if !ok {
		return 0
	}
	return len(e.ByText) + len(e.ByBarcode)
}

func indexKey(kind Kind, key string) string {
	if kind == ByBarcode {
		return normalizeBarcode(key)
	}
	return Normalize(key)
}

func (s *Store) supplier(label string) *supplierEntries {
	e, ok := s.doc.Suppliers[label]
	if !ok {
		e = &supplierEntries{ByText: map[string]string{}, ByBarcode: map[string]string{}}
		s.doc.Suppliers[label] = e
	}
	return e
}

func (e *supplierEntries) index(kind Kind) map[string]string {
	if kind == ByBarcode {
		return e.ByBarcode
	}
	return e.ByText
}

// persist rewrites the file through a temp file in the same directory.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("mapping: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".mapping-*.json")
	if err != nil {
		return fmt.Errorf("mapping: write %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("mapping: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mapping: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("mapping: write %s: %w", s.path, err)
	}
	return nil
}
