// Package session owns one live connection to an accounting database
// together with everything discovered about it.
package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/nakagami/firebirdsql"

	"microvision.org/internal/catalog"
	"microvision.org/internal/config"
	"microvision.org/internal/introspect"
	"microvision.org/internal/login"
	"microvision.org/internal/obs"
	"microvision.org/internal/schema"
)

// DriverName is the database/sql driver registered by firebirdsql.
const DriverName = "firebirdsql"

const pingSQL = "SELECT 1 FROM RDB$DATABASE"

var (
	// ErrConnection means the database cannot be reached.
	ErrConnection = errors.New("session: cannot connect to database")
	// ErrNoConnection is returned after Close. It wraps driver.ErrBadConn
	// so the authenticator treats it as a lost connection.
	ErrNoConnection = fmt.Errorf("session: no active connection: %w", driver.ErrBadConn)
)

// Opener connects to the database described by a profile.
type Opener func(ctx context.Context, p config.Profile) (*sql.DB, error)

// OpenFirebird is the default Opener.
func OpenFirebird(ctx context.Context, p config.Profile) (*sql.DB, error) {
	db, err := sql.Open(DriverName, p.DSN())
	if err != nil {
		return nil, err
	}
	var one int
	if err := db.QueryRowContext(ctx, pingSQL).Scan(&one); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// LoginStatus describes the most recent login attempt.
type LoginStatus struct {
	Mode     string          `json:"mode,omitempty"`
	Error    string          `json:"error,omitempty"`
	Operator *login.Operator `json:"operator,omitempty"`
	At       time.Time       `json:"at,omitempty"`
}

// Option configures a Context.
type Option func(*Context)

func WithOpener(open Opener) Option {
	return func(c *Context) { c.open = open }
}

func WithForceTableLogin(force bool) Option {
	return func(c *Context) { c.forceTable = force }
}

func WithHashGuessing(enabled bool) Option {
	return func(c *Context) { c.hashGuessing = enabled }
}

// WithSchemaOptions passes options to every schema discovery.
func WithSchemaOptions(opts ...schema.Option) Option {
	return func(c *Context) { c.schemaOpts = append(c.schemaOpts, opts...) }
}

// Context is a connection plus its lazily discovered catalog schema and
// login mechanism. Both caches are dropped by Reconnect.
type Context struct {
	profile      config.Profile
	open         Opener
	forceTable   bool
	hashGuessing bool
	schemaOpts   []schema.Option

	connMu sync.RWMutex
	db     *sql.DB
	closed bool

	mu     sync.Mutex
	schema *schema.CatalogSchema
	mech   *login.Mechanism
	trace  *login.Trace
	status LoginStatus
}

// Open connects using the profile.
func Open(ctx context.Context, p config.Profile, opts ...Option) (*Context, error) {
	c := newContext(p, opts)
	db, err := c.open(ctx, p)
	if err != nil {
		obs.Warn("database connection failed", map[string]any{"profile": p.Label, "host": p.Host, "error": err.Error()})
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, p.Label, err)
	}
	c.db = db
	obs.Info("database connected", map[string]any{"profile": p.Label, "host": p.Host, "database": p.Database})
	return c, nil
}

func newContext(p config.Profile, opts []Option) *Context {
	c := &Context{profile: p, open: OpenFirebird, hashGuessing: true, trace: login.NewTrace()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Context) Profile() config.Profile { return c.profile }

func (c *Context) conn() (*sql.DB, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.closed || c.db == nil {
		return nil, ErrNoConnection
	}
	return c.db, nil
}

func (c *Context) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := c.conn()
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

// QueryRowContext on a closed context yields a row whose Scan fails with
// "sql: database is closed".
func (c *Context) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	c.connMu.RLock()
	db := c.db
	c.connMu.RUnlock()
	return db.QueryRowContext(ctx, query, args...)
}

func (c *Context) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := c.conn()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}

func (c *Context) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	db, err := c.conn()
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx, opts)
}

// Ping checks the connection with a trivial query.
func (c *Context) Ping(ctx context.Context) error {
	rows, err := c.QueryContext(ctx, pingSQL)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnection, c.profile.Label, err)
	}
	return rows.Close()
}

// Introspector reads live metadata through this context.
func (c *Context) Introspector() *introspect.Firebird {
	return introspect.NewFirebird(c)
}

// Schema returns the cached catalog schema, discovering it on first use or
// when refresh is set.
func (c *Context) Schema(ctx context.Context, refresh bool) (schema.CatalogSchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schema != nil && !refresh {
		return *c.schema, nil
	}
	s, err := schema.NewResolver(c.Introspector(), c.schemaOpts...).Resolve(ctx)
	if err != nil {
		return schema.CatalogSchema{}, err
	}
	c.schema = &s
	return s, nil
}

// Catalog returns a repository bound to the current schema.
func (c *Context) Catalog(ctx context.Context) (*catalog.Repository, error) {
	s, err := c.Schema(ctx, false)
	if err != nil {
		return nil, err
	}
	return catalog.NewRepository(c, s, c.Introspector()), nil
}

// LoginMechanism returns the cached login mechanism, detecting it on first
// use.
func (c *Context) LoginMechanism(ctx context.Context) (login.Mechanism, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mech != nil {
		return *c.mech, nil
	}
	m, err := login.NewDetector(c.Introspector()).Detect(ctx)
	if err != nil {
		return login.Mechanism{}, err
	}
	c.mech = &m
	return m, nil
}

// Login authenticates an operator. Each call records into its own trace;
// the trace and status of the attempt that finishes last are kept together.
func (c *Context) Login(ctx context.Context, cred login.Credentials) (login.Operator, error) {
	trace := login.NewTrace()
	mech, err := c.LoginMechanism(ctx)
	if err != nil {
		trace.Add("detect_failed", map[string]any{"error": err.Error()})
		c.finishLogin(trace, LoginStatus{Error: err.Error(), At: time.Now().UTC()})
		return login.Operator{}, err
	}
	auth := login.NewAuthenticator(c,
		login.WithForceTable(c.forceTable),
		login.WithHashGuessing(c.hashGuessing),
		login.WithReconnect(c.Reconnect),
	)
	op, err := auth.Login(ctx, mech, cred, trace)
	st := LoginStatus{Mode: string(mech.Mode), At: time.Now().UTC()}
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Mode = string(op.Mode)
		st.Operator = &op
	}
	c.finishLogin(trace, st)
	return op, err
}

func (c *Context) finishLogin(trace *login.Trace, st LoginStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = trace
	c.status = st
}

// LastTrace is the trace of the most recent completed login.
func (c *Context) LastTrace() *login.Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trace
}

// LastLoginStatus reports mode and error of the most recent login.
func (c *Context) LastLoginStatus() LoginStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Reconnect replaces the connection and drops the discovered schema and
// login mechanism.
func (c *Context) Reconnect(ctx context.Context) error {
	db, err := c.open(ctx, c.profile)
	if err != nil {
		obs.Warn("database reconnect failed", map[string]any{"profile": c.profile.Label, "error": err.Error()})
		return fmt.Errorf("%w: %s: %v", ErrConnection, c.profile.Label, err)
	}
	c.connMu.Lock()
	old := c.db
	c.db, c.closed = db, false
	c.connMu.Unlock()
	if old != nil {
		old.Close()
	}

	c.mu.Lock()
	c.schema, c.mech = nil, nil
	c.mu.Unlock()
	obs.Info("database reconnected", map[string]any{"profile": c.profile.Label})
	return nil
}

// Close releases the connection. Further queries fail with ErrNoConnection.
func (c *Context) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed || c.db == nil {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
