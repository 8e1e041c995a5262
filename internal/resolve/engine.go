// Package resolve maps invoice line tokens to catalog items through the
// mapping cache and the catalog, suspending for a human when the catalog
// offers several names.
package resolve

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"microvision.org/internal/catalog"
	"microvision.org/internal/mapping"
	"microvision.org/internal/obs"
)

var (
	ErrResolutionCancelled = errors.New("resolve: resolution cancelled")
	ErrNoPendingDecision   = errors.New("resolve: no decision pending")
	ErrInvalidDecision     = errors.New("resolve: invalid decision")
	ErrUnknownCode         = errors.New("resolve: code not found in catalog")
)

// Strategy names reported in Outcome.Via.
const (
	ViaMappingBarcode = "mapping-barcode"
	ViaMappingText    = "mapping-text"
	ViaDBBarcode      = "db-barcode"
	ViaDBCode         = "db-code"
	ViaDBText         = "db-text"
	ViaHuman          = "human"
	ViaManual         = "manual"
)

var barcodePattern = regexp.MustCompile(`^\d{8,14}$`)

// Line is one invoice line as extracted upstream. Token is the raw text;
// Barcode, Code and Name are optional separately extracted fields.
type Line struct {
	Token     string              `json:"token"`
	Barcode   string              `json:"barcode,omitempty"`
	Code      string              `json:"code,omitempty"`
	Name      string              `json:"name,omitempty"`
	Qty       decimal.Decimal     `json:"qty"`
	Price     decimal.NullDecimal `json:"price"`
	SalePrice decimal.NullDecimal `json:"sale_price"`
}

func (l Line) barcodeKey() string {
	if b := strings.TrimSpace(l.Barcode); b != "" {
		return b
	}
	if t := strings.TrimSpace(l.Token); barcodePattern.MatchString(t) {
		return t
	}
	return ""
}

func (l Line) textKey() string {
	if n := catalog.NormalizeToken(l.Name); n != "" {
		return n
	}
	return catalog.NormalizeToken(l.Token)
}

// Mappings is the mapping cache as seen by the engine.
type Mappings interface {
	LookupText(supplier, text string) (string, bool)
	LookupBarcode(supplier, barcode string) (string, bool)
	PutText(supplier, text, code string) error
	PutBarcode(supplier, barcode, code string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithNameLimit caps fuzzy name candidates.
func WithNameLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.nameLimit = n
		}
	}
}

// Engine runs the match cascade. It keeps no per-pass state.
type Engine struct {
	lookup    catalog.Lookup
	maps      Mappings
	nameLimit int
}

// NewEngine builds an engine. maps may be nil when no cache is configured.
func NewEngine(lookup catalog.Lookup, maps Mappings, opts ...Option) *Engine {
	e := &Engine{lookup: lookup, maps: maps, nameLimit: catalog.DefaultNameLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match is the result of the cascade for one line.
type Match struct {
	Status     Status
	Via        string
	Candidates []catalog.Candidate
}

// Resolve runs mapping-barcode, mapping-text, db-barcode, db-code and
// db-text in that order and stops at the first strategy that decides.
// No match is StatusUnresolved, not an error.
func (e *Engine) Resolve(ctx context.Context, supplier string, line Line) (Match, error) {
	bc, text := line.barcodeKey(), line.textKey()
	if bc == "" && text == "" && strings.TrimSpace(line.Code) == "" {
		return Match{Status: StatusUnresolved}, nil
	}

	if e.maps != nil {
		if bc != "" {
			if code, ok := e.maps.LookupBarcode(supplier, bc); ok {
				if m, ok := e.fromMapping(ctx, code, ViaMappingBarcode); ok {
					return m, nil
				}
			}
		}
		if text != "" {
			if code, ok := e.maps.LookupText(supplier, text); ok {
				if m, ok := e.fromMapping(ctx, code, ViaMappingText); ok {
					return m, nil
				}
			}
		}
	}

	for _, b := range distinct(bc, strings.TrimSpace(line.Token)) {
		it, ok, err := e.lookup.ByBarcode(ctx, b)
		if err != nil {
			return Match{}, err
		}
		if ok {
			return single(it, catalog.MatchBarcode, catalog.SourceDB, ViaDBBarcode), nil
		}
	}

	for _, c := range distinct(strings.TrimSpace(line.Code), strings.TrimSpace(line.Token)) {
		it, ok, err := e.lookup.ByCode(ctx, c)
		if err != nil {
			return Match{}, err
		}
		if ok {
			return single(it, catalog.MatchCode, catalog.SourceDB, ViaDBCode), nil
		}
	}

	if text == "" {
		return Match{Status: StatusUnresolved}, nil
	}
	items, err := e.lookup.ByName(ctx, text, e.nameLimit)
	if err != nil {
		return Match{}, err
	}
	switch len(items) {
	case 0:
		return Match{Status: StatusUnresolved}, nil
	case 1:
		return single(items[0], catalog.MatchName, catalog.SourceDB, ViaDBText), nil
	}
	cands := make([]catalog.Candidate, len(items))
	for i, it := range items {
		cands[i] = catalog.Candidate{Item: it, Match: catalog.MatchName, Source: catalog.SourceDB}
	}
	return Match{Status: StatusAmbiguous, Via: ViaDBText, Candidates: cands}, nil
}

// fromMapping enriches a cached code from the catalog. A code the catalog no
// longer knows is skipped; a failing catalog accepts the bare code.
func (e *Engine) fromMapping(ctx context.Context, code, via string) (Match, bool) {
	it, ok, err := e.lookup.ByCode(ctx, code)
	switch {
	case err != nil:
		obs.Warn("mapping code not verified", map[string]any{"code": code, "via": via, "error": err.Error()})
		it = catalog.Item{Code: code}
	case !ok:
		obs.Warn("stale mapping ignored", map[string]any{"code": code, "via": via})
		return Match{}, false
	}
	return single(it, catalog.MatchMapping, catalog.SourceMapping, via), true
}

// VerifyCode checks a manually entered code. When the catalog cannot be
// queried the code is accepted as-is.
func (e *Engine) VerifyCode(ctx context.Context, code string) (catalog.Candidate, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return catalog.Candidate{}, ErrInvalidDecision
	}
	it, ok, err := e.lookup.ByCode(ctx, code)
	switch {
	case err != nil:
		obs.Warn("manual code not verified", map[string]any{"code": code, "error": err.Error()})
		it = catalog.Item{Code: code}
	case !ok:
		return catalog.Candidate{}, ErrUnknownCode
	}
	return catalog.Candidate{Item: it, Match: catalog.MatchManual, Source: catalog.SourceManual}, nil
}

// Learn writes the confirmed code under the line's barcode and text keys.
// Failures are logged; the cache is best effort.
func (e *Engine) Learn(supplier string, line Line, code string) {
	if e.maps == nil || strings.TrimSpace(code) == "" {
		return
	}
	bc, text := line.barcodeKey(), line.textKey()
	if bc != "" {
		if err := e.maps.PutBarcode(supplier, bc, code); err != nil {
			obs.Warn("mapping write failed", map[string]any{"supplier": supplier, "barcode": bc, "error": err.Error()})
		}
	}
	if text != "" && text != bc {
		if err := e.maps.PutText(supplier, text, code); err != nil {
			obs.Warn("mapping write failed", map[string]any{"supplier": supplier, "text": text, "error": err.Error()})
		}
	}
}

func single(it catalog.Item, kind catalog.MatchKind, src catalog.Source, via string) Match {
	return Match{Status: StatusResolved, Via: via, Candidates: []catalog.Candidate{{Item: it, Match: kind, Source: src}}}
}

func distinct(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, o := range out {
			if o == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

var _ Mappings = (*mapping.Store)(nil)
