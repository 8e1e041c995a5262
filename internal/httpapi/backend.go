package httpapi

import (
	"context"

	"microvision.org/internal/catalog"
	"microvision.org/internal/config"
	"microvision.org/internal/delivery"
	"microvision.org/internal/login"
	"microvision.org/internal/obs"
	"microvision.org/internal/resolve"
	"microvision.org/internal/schema"
	"microvision.org/internal/session"
	"microvision.org/internal/store/snapshot"
)

// Backend is the accounting database as seen by the handlers.
type Backend interface {
	Profile() config.Profile
	Ping(ctx context.Context) error
	Login(ctx context.Context, cred login.Credentials) (login.Operator, error)
	LastTrace() *login.Trace
	LastLoginStatus() session.LoginStatus
	Schema(ctx context.Context, refresh bool) (schema.CatalogSchema, error)
	Lookup(ctx context.Context) (catalog.Lookup, error)
	Counts(ctx context.Context) (catalog.Stats, error)
	Push(ctx context.Context, operatorID int64, items []resolve.FinalLineItem) (delivery.Result, error)
}

// SessionBackend serves a live session and falls back to the offline
// snapshot for catalog reads while the database is unreachable.
type SessionBackend struct {
	*session.Context
	Snapshot *snapshot.Store
	// Live enables writes for Push; otherwise pushes are dry-runs.
	Live bool
}

var _ Backend = (*SessionBackend)(nil)

func (b *SessionBackend) offline(ctx context.Context) bool {
	if b.Snapshot == nil {
		return false
	}
	if err := b.Ping(ctx); err != nil {
		obs.Warn("catalog served from snapshot", map[string]any{"profile": b.Profile().Label, "error": err.Error()})
		return true
	}
	return false
}

// Lookup returns the live catalog repository or the snapshot.
func (b *SessionBackend) Lookup(ctx context.Context) (catalog.Lookup, error) {
	if b.offline(ctx) {
		return b.Snapshot, nil
	}
	return b.Catalog(ctx)
}

// Counts returns catalog table sizes.
func (b *SessionBackend) Counts(ctx context.Context) (catalog.Stats, error) {
	if b.offline(ctx) {
		return b.Snapshot.Counts(ctx)
	}
	repo, err := b.Catalog(ctx)
	if err != nil {
		return catalog.Stats{}, err
	}
	return repo.Counts(ctx)
}

// Push writes an OPEN delivery for the final items.
func (b *SessionBackend) Push(ctx context.Context, operatorID int64, items []resolve.FinalLineItem) (delivery.Result, error) {
	w := delivery.NewWriter(b.Context, b.Introspector(), b.Profile(), b.Live)
	return w.Push(ctx, operatorID, items)
}
