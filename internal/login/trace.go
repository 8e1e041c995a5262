package login

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Mask replaces every password-like value before it is stored.
const Mask = "***"

// Entry is one step of a login attempt.
type Entry struct {
	Action    string
	Timestamp time.Time
	Fields    map[string]any
}

// MarshalJSON flattens the entry into {"action","timestamp",...fields}.
func (e Entry) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["action"] = e.Action
	m["timestamp"] = e.Timestamp.Format(time.RFC3339)
	return json.Marshal(m)
}

// Trace is the ordered step log of the most recent login attempt.
type Trace struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewTrace() *Trace {
	return &Trace{now: time.Now}
}

// Reset drops all entries.
func (t *Trace) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Add appends a step. Fields are masked on the way in.
func (t *Trace) Add(action string, fields map[string]any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	t.entries = append(t.entries, Entry{Action: action, Timestamp: now(), Fields: MaskFields(fields)})
}

// Entries returns a copy of the steps.
func (t *Trace) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Actions lists the step actions in order.
func (t *Trace) Actions() []string {
	entries := t.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

// MarshalJSON renders the entries as a list.
func (t *Trace) MarshalJSON() ([]byte, error) {
	entries := t.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}

// Sensitive reports whether a field name carries a secret.
func Sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "pass") || strings.Contains(k, "pwd")
}

// MaskFields returns a copy of fields with sensitive keys masked, including
// inside nested maps.
func MaskFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch {
		case Sensitive(k):
			out[k] = Mask
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = MaskFields(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
