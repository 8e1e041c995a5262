// Package httpapi exposes login, catalog diagnostics and invoice resolution
// over HTTP.
package httpapi

import (
	_ "embed"
	"net/http"
	"time"

	"microvision.org/internal/config"
	"microvision.org/internal/mapping"
	"microvision.org/internal/obs"
	"microvision.org/internal/resolve"
	"microvision.org/internal/stream"
)

//go:embed openapi.yaml
var openAPI []byte

const serviceName = "microvision-api"

// API serves the connector over HTTP: login, schema, mappings and
// resolution passes.
type API struct {
	mux      *http.ServeMux
	backend  Backend
	mappings *mapping.Store
	stream   *stream.Stream
	passes   *resolve.Registry
	version  string

	nameLimit  int
	tokenTTL   time.Duration
	rateBurst  int
	ratePerSec int
}

// Option tweaks an API.
type Option func(*API)

// WithNameLimit caps name-search candidates per line.
func WithNameLimit(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.nameLimit = n
		}
	}
}

// WithTokenTTL sets the lifetime of issued operator tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.tokenTTL = d
		}
	}
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst, a.ratePerSec = burst, perSecond
	}
}

// WithRegistry replaces the in-memory pass registry.
func WithRegistry(r *resolve.Registry) Option {
	return func(a *API) { a.passes = r }
}

func New(backend Backend, maps *mapping.Store, events *stream.Stream, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		backend:    backend,
		mappings:   maps,
		stream:     events,
		passes:     resolve.NewRegistry(0),
		version:    version,
		nameLimit:  config.DefaultNameLikeLimit,
		tokenTTL:   8 * time.Hour,
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/login", a.handleLogin)
	a.mux.HandleFunc("/v1/login/trace", a.handleLoginTrace)
	a.mux.HandleFunc("/v1/login/status", a.handleLoginStatus)
	a.mux.HandleFunc("/v1/schema", a.handleSchema)
	a.mux.HandleFunc("/v1/catalog/stats", a.handleCatalogStats)
	a.mux.HandleFunc("/v1/mappings", a.handleMappings)
	a.mux.HandleFunc("/v1/passes", a.handlePasses)
	a.mux.HandleFunc("/v1/passes/", a.handlePassResource)
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 4<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.backend == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	if err := a.backend.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.backend != nil {
		info["profile"] = a.backend.Profile().Label
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(openAPI)
}
