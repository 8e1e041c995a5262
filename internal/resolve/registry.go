package resolve

import (
	"errors"
	"sync"
)

var ErrPassNotFound = errors.New("resolve: pass not found")

// Registry keeps recent passes in memory, dropping the oldest beyond limit.
type Registry struct {
	mu     sync.RWMutex
	limit  int
	passes map[string]*Pass
	order  []string
}

func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = 100
	}
	return &Registry{limit: limit, passes: make(map[string]*Pass)}
}

func (r *Registry) Put(p *Pass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.passes[p.id]; !ok {
		r.order = append(r.order, p.id)
	}
	r.passes[p.id] = p
	for len(r.order) > r.limit {
		delete(r.passes, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Registry) Get(id string) (*Pass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.passes[id]
	if !ok {
		return nil, ErrPassNotFound
	}
	return p, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.passes)
}
