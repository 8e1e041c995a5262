package login

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"microvision.org/internal/obs"
)

// Credentials supplied by the operator. Username may be empty for
// password-only login. PCID is passed to procedures that take a terminal id.
type Credentials struct {
	Username string
	Password string
	PCID     string
}

// Operator is the authenticated identity.
type Operator struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Mode  Mode   `json:"mode"`
	Via   string `json:"via"`
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithForceTable authenticates against the credentials tables even when a
// procedure was discovered.
func WithForceTable(force bool) Option {
	return func(a *Authenticator) { a.forceTable = force }
}

// WithHashGuessing enables matching hash-only tables with the fixed list of
// algorithms. When disabled such tables fail with ErrUnsupportedAuthSchema.
func WithHashGuessing(enabled bool) Option {
	return func(a *Authenticator) { a.hashGuessing = enabled }
}

// WithReconnect sets the hook used once per login when a table query finds
// no active connection.
func WithReconnect(fn func(context.Context) error) Option {
	return func(a *Authenticator) { a.reconnect = fn }
}

// Authenticator runs the procedure → table state machine.
type Authenticator struct {
	db           Querier
	forceTable   bool
	hashGuessing bool
	reconnect    func(context.Context) error
}

func NewAuthenticator(db Querier, opts ...Option) *Authenticator {
	a := &Authenticator{db: db, hashGuessing: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Login authenticates cred using mech. trace is reset first and receives
// every step; it may be nil.
func (a *Authenticator) Login(ctx context.Context, mech Mechanism, cred Credentials, trace *Trace) (Operator, error) {
	if trace == nil {
		trace = NewTrace()
	}
	trace.Reset()
	username := strings.TrimSpace(cred.Username)
	start := map[string]any{"username": displayUser(username)}
	if cred.PCID != "" {
		start["pc_id"] = cred.PCID
	}
	trace.Add("start", start)

	op, err := a.login(ctx, mech, cred, trace)
	mode := string(mech.Mode)
	if err != nil {
		trace.Add("error", map[string]any{"message": err.Error()})
		obs.ObserveLogin(mode, "failure")
		obs.Warn("login failed", map[string]any{"username": displayUser(username), "mechanism": mech.Name(), "error": err.Error()})
		return Operator{}, err
	}
	trace.Add("success", map[string]any{"mode": string(op.Mode), "operator_id": op.ID, "operator_login": op.Login})
	obs.ObserveLogin(string(op.Mode), "success")
	obs.Info("login succeeded", map[string]any{"username": displayUser(username), "mode": string(op.Mode), "via": op.Via, "operator_id": op.ID})
	return op, nil
}

func (a *Authenticator) login(ctx context.Context, mech Mechanism, cred Credentials, trace *Trace) (Operator, error) {
	if cred.Password == "" {
		trace.Add("missing_password", nil)
		return Operator{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	trace.Add("detected_mode", map[string]any{"mode": string(mech.Mode), "name": mech.Name()})

	if mech.Mode == ModeProcedure && mech.Procedure != nil {
		if a.forceTable {
			trace.Add("force_table_login", map[string]any{"procedure": mech.Procedure.Name})
		} else {
			res := a.runProcedure(ctx, *mech.Procedure, cred, trace)
			switch res.Outcome {
			case OutcomeSuccess:
				return res.Operator, nil
			case OutcomeError:
				return Operator{}, res.Err
			}
			if len(mech.Tables) == 0 {
				if res.Reason == ReasonDenied {
					return Operator{}, ErrInvalidCredentials
				}
				return Operator{}, fmt.Errorf("%w: procedure %s gave no usable result", ErrNoMechanism, mech.Procedure.Name)
			}
			trace.Add("procedure_fallback_table", map[string]any{"procedure": mech.Procedure.Name, "table": mech.Tables[0].Name, "reason": res.Reason})
		}
	}
	if len(mech.Tables) == 0 {
		return Operator{}, ErrNoMechanism
	}
	return a.runTables(ctx, mech.Tables, cred, trace)
}

// runProcedure tries the declared convention, then the other one only when
// the first reported that it produced no result set.
func (a *Authenticator) runProcedure(ctx context.Context, p Procedure, cred Credentials, trace *Trace) AttemptResult {
	conv := p.Convention
	if conv == "" {
		conv = Executable
	}
	params := map[string]any{"username": displayUser(cred.Username), "password": cred.Password}
	for attempt := 0; attempt < 2; attempt++ {
		trace.Add("procedure_call", map[string]any{"procedure": p.Name, "convention": string(conv), "sql": procedureSQL(p, conv), "params": params})
		res := callProcedure(ctx, a.db, p, conv, cred)
		switch res.Outcome {
		case OutcomeSuccess:
			trace.Add("procedure_ok", map[string]any{"procedure": p.Name, "operator_id": res.Operator.ID, "operator_login": res.Operator.Login})
			return res
		case OutcomeError:
			trace.Add("procedure_error", map[string]any{"procedure": p.Name, "convention": string(conv), "error": res.Err.Error()})
			return res
		}
		trace.Add("procedure_no_result", map[string]any{"procedure": p.Name, "convention": string(conv), "reason": res.Reason})
		if res.Reason != ReasonNoResultSet || attempt == 1 {
			return res
		}
		conv = conv.Other()
	}
	return AttemptResult{Outcome: OutcomeNoResult, Reason: ReasonNoResultSet}
}

// runTables walks the candidates. Only "no matching row" moves on; every
// other failure is final.
func (a *Authenticator) runTables(ctx context.Context, tables []Table, cred Credentials, trace *Trace) (Operator, error) {
	reconnected := false
	var err error
	for i, t := range tables {
		var op Operator
		op, err = a.tryTable(ctx, t, cred, trace, &reconnected)
		if err == nil {
			return op, nil
		}
		if !errors.Is(err, errNoRow) {
			return Operator{}, err
		}
		if i+1 < len(tables) {
			trace.Add("table_next_candidate", map[string]any{"from": t.Name, "to": tables[i+1].Name})
		}
	}
	return Operator{}, err
}

func (a *Authenticator) tryTable(ctx context.Context, t Table, cred Credentials, trace *Trace, reconnected *bool) (Operator, error) {
	username := strings.TrimSpace(cred.Username)
	if username != "" && t.LoginCol == "" {
		trace.Add("table_no_login_column", map[string]any{"table": t.Name})
		username = ""
	}
	mode := "password"
	if username != "" {
		mode = "username"
	}

	secretCol := t.PasswordCol
	if t.HashOnly() {
		trace.Add("table_hash_detected", map[string]any{"table": t.Name, "hash_column": t.PasswordHashCol})
		if !a.hashGuessing {
			return Operator{}, fmt.Errorf("%w: %s stores only password hashes", ErrUnsupportedAuthSchema, t.Name)
		}
		secretCol = t.PasswordHashCol
	}

	cols := []string{t.IDCol}
	if t.LoginCol != "" {
		cols = append(cols, t.LoginCol)
	}
	cols = append(cols, secretCol)
	if t.HashOnly() && t.SaltCol != "" {
		cols = append(cols, t.SaltCol)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), t.Name)
	var args []any
	switch {
	case username != "":
		query += fmt.Sprintf(" WHERE UPPER(TRIM(%s)) = UPPER(TRIM(?))", t.LoginCol)
		args = append(args, username)
	case !t.HashOnly():
		query += fmt.Sprintf(" WHERE TRIM(%s) = TRIM(?)", secretCol)
		args = append(args, strings.TrimSpace(cred.Password))
	}
	trace.Add("table_lookup", map[string]any{"table": t.Name, "mode": mode, "username": username, "sql": query})

	rows, err := a.queryAll(ctx, query, args, trace, reconnected)
	if err != nil {
		trace.Add("table_error", map[string]any{"table": t.Name, "error": err.Error()})
		return Operator{}, err
	}
	trace.Add("table_rows", map[string]any{"table": t.Name, "count": len(rows)})

	recs := make([]credentialRow, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, splitRow(t, r))
	}

	if t.HashOnly() {
		return a.matchHashed(t, recs, cred.Password, username, trace)
	}
	if len(recs) == 0 {
		trace.Add("table_no_match", map[string]any{"table": t.Name, "mode": mode})
		return Operator{}, errNoRow
	}
	if username == "" && len(recs) > 1 {
		trace.Add("table_ambiguous", map[string]any{"table": t.Name, "matches": len(recs)})
		return Operator{}, ErrAmbiguousCredentials
	}
	rec := recs[0]
	if username != "" && strings.TrimSpace(rec.secret) != strings.TrimSpace(cred.Password) {
		trace.Add("table_no_match", map[string]any{"table": t.Name, "mode": mode, "reason": "password-mismatch"})
		return Operator{}, ErrInvalidCredentials
	}
	return rec.operator(t, username, trace)
}

func (a *Authenticator) matchHashed(t Table, recs []credentialRow, password, username string, trace *Trace) (Operator, error) {
	if len(recs) == 0 {
		trace.Add("table_no_match", map[string]any{"table": t.Name})
		return Operator{}, errNoRow
	}
	if username != "" {
		rec := recs[0]
		m := MatchPassword(password, rec.secret, []string{rec.salt}, t.PasswordHashCol)
		trace.Add("hash_guess", map[string]any{"table": t.Name, "matched": m.Matched, "algorithm": string(m.Algorithm), "unknown": m.Unknown})
		switch {
		case m.Matched:
			return rec.operator(t, username, trace)
		case m.Unknown:
			return Operator{}, ErrUnknownHashAlgorithm
		}
		return Operator{}, ErrInvalidCredentials
	}

	var (
		matches []credentialRow
		unknown bool
	)
	for _, rec := range recs {
		m := MatchPassword(password, rec.secret, []string{rec.salt}, t.PasswordHashCol)
		if m.Matched {
			matches = append(matches, rec)
		} else if m.Unknown {
			unknown = true
		}
	}
	trace.Add("hash_guess", map[string]any{"table": t.Name, "rows": len(recs), "matches": len(matches), "unknown": unknown})
	switch {
	case len(matches) > 1:
		trace.Add("table_ambiguous", map[string]any{"table": t.Name, "matches": len(matches)})
		return Operator{}, ErrAmbiguousCredentials
	case len(matches) == 1:
		return matches[0].operator(t, "", trace)
	case unknown:
		return Operator{}, ErrUnknownHashAlgorithm
	}
	return Operator{}, errNoRow
}

// queryAll runs query, reconnecting once per login when the connection is gone.
func (a *Authenticator) queryAll(ctx context.Context, query string, args []any, trace *Trace, reconnected *bool) ([][]any, error) {
	for {
		data, err := a.queryOnce(ctx, query, args)
		if err == nil || !connectionLost(err) || a.reconnect == nil || *reconnected {
			return data, err
		}
		*reconnected = true
		trace.Add("reconnect", map[string]any{"error": err.Error()})
		if rerr := a.reconnect(ctx); rerr != nil {
			return nil, rerr
		}
	}
}

func (a *Authenticator) queryOnce(ctx context.Context, query string, args []any) ([][]any, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	_, data, err := readRows(rows, 0)
	return data, err
}

func connectionLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

type credentialRow struct {
	id     any
	login  string
	secret string
	salt   string
}

func splitRow(t Table, row []any) credentialRow {
	var rec credentialRow
	i := 0
	next := func() any {
		if i >= len(row) {
			return nil
		}
		v := row[i]
		i++
		return v
	}
	rec.id = next()
	if t.LoginCol != "" {
		rec.login = strings.TrimSpace(asString(next()))
	}
	rec.secret = asString(next())
	if t.HashOnly() && t.SaltCol != "" {
		rec.salt = asString(next())
	}
	return rec
}

func (r credentialRow) operator(t Table, username string, trace *Trace) (Operator, error) {
	id, ok := asInt(r.id)
	if !ok {
		return Operator{}, fmt.Errorf("%w: %s.%s is not numeric", ErrUnsupportedAuthSchema, t.Name, t.IDCol)
	}
	login := r.login
	if login == "" {
		login = username
	}
	if login == "" {
		login = fmt.Sprint(id)
	}
	trace.Add("table_ok", map[string]any{"table": t.Name, "operator_id": id, "operator_login": login})
	return Operator{ID: id, Login: login, Mode: ModeTable, Via: t.Name}, nil
}

func displayUser(u string) string {
	if strings.TrimSpace(u) == "" {
		return "<password-only>"
	}
	return strings.TrimSpace(u)
}
