package resolve

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"microvision.org/internal/catalog"
	"microvision.org/internal/ids"
	"microvision.org/internal/obs"
)

// Status of one line.
type Status string

const (
	StatusPending    Status = "pending"
	StatusResolved   Status = "resolved"
	StatusAmbiguous  Status = "ambiguous"
	StatusUnresolved Status = "unresolved"
	StatusCancelled  Status = "cancelled"
)

// State of a pass.
type State string

const (
	StateRunning  State = "running"
	StateAwaiting State = "awaiting_decision"
	StateDone     State = "done"
	StateCanceled State = "cancelled"
)

var vatBase = decimal.NewFromInt(100)

// FinalLineItem is what gets exported or pushed for a resolved line.
type FinalLineItem struct {
	Code      string              `json:"code"`
	Name      string              `json:"name"`
	Barcode   string              `json:"barcode,omitempty"`
	UOM       string              `json:"uom,omitempty"`
	Qty       decimal.Decimal     `json:"qty"`
	Price     decimal.Decimal     `json:"price"`
	VAT       decimal.Decimal     `json:"vat"`
	SalePrice decimal.NullDecimal `json:"sale_price"`
}

// PriceWithVAT is Price plus VAT percent, rounded half-up to 4 places.
func (f FinalLineItem) PriceWithVAT() decimal.Decimal {
	return WithVAT(f.Price, f.VAT)
}

// WithVAT adds vat percent to price, rounded half-up to 4 places.
func WithVAT(price, vat decimal.Decimal) decimal.Decimal {
	if vat.IsZero() {
		return price
	}
	return price.Mul(decimal.NewFromInt(1).Add(vat.Div(vatBase))).Round(4)
}

// NewFinalLineItem combines the invoice line with the chosen catalog item.
// Quantity defaults to 1, purchase price to the catalog price and the sale
// price is the catalog price.
func NewFinalLineItem(line Line, c catalog.Candidate) FinalLineItem {
	f := FinalLineItem{
		Code:    c.Code,
		Name:    c.Name,
		Barcode: c.Barcode,
		UOM:     c.UOM,
		Qty:     line.Qty,
		Price:   decimal.Zero,
		VAT:     decimal.Zero,
	}
	if f.Name == "" {
		f.Name = catalog.NormalizeToken(firstNonEmpty(line.Name, line.Token))
	}
	if b := strings.TrimSpace(line.Barcode); b != "" {
		f.Barcode = b
	}
	if f.Qty.IsZero() {
		f.Qty = decimal.NewFromInt(1)
	}
	switch {
	case line.Price.Valid:
		f.Price = line.Price.Decimal
	case c.Price.Valid:
		f.Price = c.Price.Decimal
	}
	if c.VAT.Valid {
		f.VAT = c.VAT.Decimal
	}
	switch {
	case line.SalePrice.Valid:
		f.SalePrice = line.SalePrice
	case c.Price.Valid:
		f.SalePrice = c.Price
	}
	return f
}

// Outcome is the per-line result of a pass.
type Outcome struct {
	Index      int                 `json:"index"`
	Line       Line                `json:"line"`
	Status     Status              `json:"status"`
	Via        string              `json:"via,omitempty"`
	Candidates []catalog.Candidate `json:"candidates"`
	Chosen     *catalog.Candidate  `json:"chosen,omitempty"`
	Final      *FinalLineItem      `json:"final_item,omitempty"`
	Skipped    bool                `json:"skipped,omitempty"`
}

// NeedsDecision is returned when a pass suspends on an ambiguous line.
type NeedsDecision struct {
	PassID     string              `json:"pass_id"`
	Index      int                 `json:"index"`
	Token      string              `json:"token"`
	Candidates []catalog.Candidate `json:"candidates"`
}

// DecisionKind selects how an ambiguous line is settled.
type DecisionKind string

const (
	DecideChoose DecisionKind = "choose"
	DecideSkip   DecisionKind = "skip"
	DecideCancel DecisionKind = "cancel"
	DecideManual DecisionKind = "manual"
)

// Decision is the human answer to NeedsDecision.
type Decision struct {
	Kind  DecisionKind `json:"kind"`
	Index int          `json:"index,omitempty"`
	Code  string       `json:"code,omitempty"`
}

// Stats aggregates a pass for the final report.
type Stats struct {
	Total      int `json:"total"`
	Resolved   int `json:"resolved"`
	Ambiguous  int `json:"ambiguous"`
	Unresolved int `json:"unresolved"`
	Cancelled  int `json:"cancelled"`
	Pending    int `json:"pending"`
	Manual     int `json:"manual"`
	ViaMapping int `json:"via_mapping"`
	ViaDB      int `json:"via_db"`
	ViaHuman   int `json:"via_human"`
}

// Pass is one resolution run over an invoice. Lines are processed strictly
// in order; a mapping learned on line N is visible to line N+1.
type Pass struct {
	mu          sync.Mutex
	id          string
	supplier    string
	interactive bool
	created     time.Time
	state       State
	next        int
	lines       []Outcome
}

// NewPass prepares a pass. Interactive passes suspend on ambiguous lines;
// batch passes leave them ambiguous and continue.
func NewPass(supplier string, lines []Line, interactive bool) *Pass {
	p := &Pass{
		id:          ids.New(),
		supplier:    strings.TrimSpace(supplier),
		interactive: interactive,
		created:     time.Now().UTC(),
		state:       StateRunning,
		lines:       make([]Outcome, len(lines)),
	}
	for i, l := range lines {
		p.lines[i] = Outcome{Index: i, Line: l, Status: StatusPending, Candidates: []catalog.Candidate{}}
	}
	return p
}

func (p *Pass) ID() string       { return p.id }
func (p *Pass) Supplier() string { return p.supplier }

// Snapshot is a copy of the pass for presentation.
type Snapshot struct {
	ID          string         `json:"id"`
	Supplier    string         `json:"supplier"`
	Interactive bool           `json:"interactive"`
	State       State          `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	Lines       []Outcome      `json:"lines"`
	Stats       Stats          `json:"stats"`
	Pending     *NeedsDecision `json:"pending,omitempty"`
}

func (p *Pass) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := make([]Outcome, len(p.lines))
	copy(lines, p.lines)
	return Snapshot{
		ID:          p.id,
		Supplier:    p.supplier,
		Interactive: p.interactive,
		State:       p.state,
		CreatedAt:   p.created,
		Lines:       lines,
		Stats:       p.stats(),
		Pending:     p.pendingLocked(),
	}
}

// Final returns the final items of resolved lines in document order.
func (p *Pass) Final() []FinalLineItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []FinalLineItem
	for _, o := range p.lines {
		if o.Status == StatusResolved && o.Final != nil {
			out = append(out, *o.Final)
		}
	}
	return out
}

func (p *Pass) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats()
}

func (p *Pass) stats() Stats {
	st := Stats{Total: len(p.lines)}
	for _, o := range p.lines {
		switch o.Status {
		case StatusResolved:
			st.Resolved++
		case StatusAmbiguous:
			st.Ambiguous++
		case StatusUnresolved:
			st.Unresolved++
		case StatusCancelled:
			st.Cancelled++
		case StatusPending:
			st.Pending++
		}
		if o.Status != StatusResolved {
			continue
		}
		switch {
		case o.Via == ViaManual:
			st.Manual++
		case o.Via == ViaHuman:
			st.ViaHuman++
		case strings.HasPrefix(o.Via, "mapping-"):
			st.ViaMapping++
		default:
			st.ViaDB++
		}
	}
	return st
}

func (p *Pass) pendingLocked() *NeedsDecision {
	if p.state != StateAwaiting {
		return nil
	}
	o := p.lines[p.next]
	cands := make([]catalog.Candidate, len(o.Candidates))
	copy(cands, o.Candidates)
	return &NeedsDecision{PassID: p.id, Index: o.Index, Token: o.Line.Token, Candidates: cands}
}

// Run processes lines until the pass completes or suspends. A nil
// NeedsDecision means the pass is done.
func (e *Engine) Run(ctx context.Context, p *Pass) (*NeedsDecision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateAwaiting:
		return p.pendingLocked(), nil
	case StateCanceled:
		return nil, ErrResolutionCancelled
	case StateDone:
		return nil, nil
	}
	return e.runLocked(ctx, p)
}

func (e *Engine) runLocked(ctx context.Context, p *Pass) (*NeedsDecision, error) {
	for p.next < len(p.lines) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o := &p.lines[p.next]
		m, err := e.Resolve(ctx, p.supplier, o.Line)
		if err != nil {
			return nil, fmt.Errorf("resolve line %d: %w", o.Index, err)
		}
		o.Via = m.Via
		if m.Candidates != nil {
			o.Candidates = m.Candidates
		}
		switch m.Status {
		case StatusResolved:
			e.settle(p, o, m.Candidates[0], m.Via, !strings.HasPrefix(m.Via, "mapping-"))
		case StatusAmbiguous:
			o.Status = StatusAmbiguous
			if p.interactive {
				p.state = StateAwaiting
				obs.Info("resolution awaiting decision", map[string]any{"pass_id": p.id, "line": o.Index, "candidates": len(o.Candidates)})
				return p.pendingLocked(), nil
			}
			obs.ObserveResolution(string(StatusAmbiguous), m.Via)
		default:
			o.Status = StatusUnresolved
			obs.ObserveResolution(string(StatusUnresolved), "none")
		}
		p.next++
	}
	p.state = StateDone
	st := p.stats()
	obs.Info("resolution pass finished", map[string]any{
		"pass_id": p.id, "supplier": p.supplier, "total": st.Total, "resolved": st.Resolved,
		"ambiguous": st.Ambiguous, "unresolved": st.Unresolved, "manual": st.Manual,
	})
	return nil, nil
}

func (e *Engine) settle(p *Pass, o *Outcome, c catalog.Candidate, via string, learn bool) {
	chosen := c
	final := NewFinalLineItem(o.Line, chosen)
	o.Status = StatusResolved
	o.Via = via
	o.Chosen = &chosen
	o.Final = &final
	o.Skipped = false
	if learn {
		e.Learn(p.supplier, o.Line, chosen.Code)
	}
	obs.ObserveResolution(string(StatusResolved), via)
}

// Decide answers the pending decision and resumes the pass. Cancel marks
// the pending and all remaining lines cancelled and returns
// ErrResolutionCancelled.
func (e *Engine) Decide(ctx context.Context, p *Pass, d Decision) (*NeedsDecision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateAwaiting {
		return nil, ErrNoPendingDecision
	}
	o := &p.lines[p.next]
	switch d.Kind {
	case DecideChoose:
		if d.Index < 0 || d.Index >= len(o.Candidates) {
			return nil, fmt.Errorf("%w: candidate %d of %d", ErrInvalidDecision, d.Index, len(o.Candidates))
		}
		e.settle(p, o, o.Candidates[d.Index], ViaHuman, true)
	case DecideManual:
		c, err := e.VerifyCode(ctx, d.Code)
		if err != nil {
			return nil, err
		}
		e.settle(p, o, c, ViaManual, true)
	case DecideSkip:
		o.Status = StatusUnresolved
		o.Skipped = true
		obs.ObserveResolution(string(StatusUnresolved), "skip")
	case DecideCancel:
		for i := p.next; i < len(p.lines); i++ {
			p.lines[i].Status = StatusCancelled
		}
		p.state = StateCanceled
		obs.ObserveResolution(string(StatusCancelled), "human")
		obs.Info("resolution pass cancelled", map[string]any{"pass_id": p.id, "line": o.Index})
		return nil, ErrResolutionCancelled
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidDecision, d.Kind)
	}
	p.next++
	p.state = StateRunning
	return e.runLocked(ctx, p)
}

// ApplyManual settles an unresolved or ambiguous line of a finished pass
// with a manually entered code.
func (e *Engine) ApplyManual(ctx context.Context, p *Pass, index int, code string) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.lines) {
		return Outcome{}, fmt.Errorf("%w: line %d", ErrInvalidDecision, index)
	}
	o := &p.lines[index]
	switch {
	case p.state == StateCanceled:
		return Outcome{}, ErrResolutionCancelled
	case o.Status != StatusUnresolved && o.Status != StatusAmbiguous:
		return Outcome{}, fmt.Errorf("%w: line %d is %s", ErrInvalidDecision, index, o.Status)
	case p.state == StateAwaiting && index == p.next:
		return Outcome{}, fmt.Errorf("%w: line %d awaits a decision", ErrInvalidDecision, index)
	}
	c, err := e.VerifyCode(ctx, code)
	if err != nil {
		return Outcome{}, err
	}
	e.settle(p, o, c, ViaManual, true)
	return *o, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
