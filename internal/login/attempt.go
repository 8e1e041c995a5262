package login

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"microvision.org/internal/introspect"
)

// Outcome tags an AttemptResult.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeNoResult
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoResult:
		return "no_result"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// NoResult reasons.
const (
	ReasonNoResultSet       = "no-result-set"
	ReasonEmpty             = "empty"
	ReasonDenied            = "denied"
	ReasonMissingIdentifier = "missing-identifier"
)

// AttemptResult is the outcome of one procedure call.
type AttemptResult struct {
	Outcome  Outcome
	Operator Operator
	Reason   string
	Err      error
}

// Procedure argument and result column patterns.
var (
	LoginParamNames    = []string{"LOGIN", "USERNAME", "USER_NAME", "CODE", "OPERATOR"}
	PasswordParamNames = []string{"PASS", "PASSWORD", "PAROLA", "PWD"}
	PCParamNames       = []string{"PCID", "PC_ID", "PC", "TERMINAL", "TERMINALID", "TERMINAL_ID", "WORKPLACE", "WORKPLACEID", "WORKPLACE_ID", "TABLE", "TABLENO", "TABLE_NO", "TABLEID", "TABLE_ID", "STATION"}

	SuccessColumnTokens  = []string{"OK", "SUCCESS", "VALID", "ALLOW", "ALLOWED", "STATUS", "RESULT", "ISVALID", "IS_OK", "AUTHORIZED", "AUTH"}
	OperatorIDTokens     = []string{"OP", "USER", "OPER", "ID"}
	OperatorLoginTokens  = []string{"LOGIN", "USER", "NAME", "CODE"}
	affirmativeSpellings = []string{"1", "TRUE", "T", "YES", "Y", "OK", "ДА", "VALID", "SUCCESS"}
)

// Querier runs credential queries.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// procedureSQL renders the call for conv with one placeholder per input.
func procedureSQL(p Procedure, conv CallingConvention) string {
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(p.Inputs)), ", ")
	if conv == Selectable {
		if ph == "" {
			return "SELECT * FROM " + p.Name
		}
		return fmt.Sprintf("SELECT * FROM %s(%s)", p.Name, ph)
	}
	if ph == "" {
		return "EXECUTE PROCEDURE " + p.Name
	}
	return fmt.Sprintf("EXECUTE PROCEDURE %s %s", p.Name, ph)
}

// procedureArgs fills inputs by name; unknown inputs are NULL.
func procedureArgs(inputs []introspect.ParamDescriptor, cred Credentials) []any {
	args := make([]any, len(inputs))
	for i, in := range inputs {
		name := strings.ToUpper(strings.TrimSpace(in.Name))
		switch {
		case containsName(LoginParamNames, name):
			if u := strings.TrimSpace(cred.Username); u != "" {
				args[i] = u
			}
		case containsName(PasswordParamNames, name):
			args[i] = cred.Password
		case containsName(PCParamNames, name):
			args[i] = normalizePCID(cred.PCID)
		}
	}
	return args
}

func normalizePCID(pc string) any {
	pc = strings.TrimSpace(pc)
	if pc == "" {
		return nil
	}
	if n, err := strconv.ParseInt(pc, 10, 64); err == nil {
		return n
	}
	return pc
}

// isNoResultSet classifies driver errors raised when a call convention does
// not match the procedure.
func isNoResultSet(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not produce result set") || strings.Contains(msg, "no result set")
}

// callProcedure executes one convention and reads the first row.
func callProcedure(ctx context.Context, db Querier, p Procedure, conv CallingConvention, cred Credentials) AttemptResult {
	rows, err := db.QueryContext(ctx, procedureSQL(p, conv), procedureArgs(p.Inputs, cred)...)
	if err != nil {
		return procedureFailure(p, err)
	}
	defer rows.Close()
	cols, data, err := readRows(rows, 1)
	if err != nil {
		return procedureFailure(p, err)
	}
	if len(data) == 0 {
		return AttemptResult{Outcome: OutcomeNoResult, Reason: ReasonEmpty}
	}
	names := resultNames(p.Outputs, cols)
	if !allowsLogin(names, data[0]) {
		return AttemptResult{Outcome: OutcomeNoResult, Reason: ReasonDenied}
	}
	op, ok := extractOperator(names, data[0], cred.Username)
	if !ok {
		return AttemptResult{Outcome: OutcomeNoResult, Reason: ReasonMissingIdentifier}
	}
	op.Mode, op.Via = ModeProcedure, p.Name
	return AttemptResult{Outcome: OutcomeSuccess, Operator: op}
}

func procedureFailure(p Procedure, err error) AttemptResult {
	if isNoResultSet(err) {
		return AttemptResult{Outcome: OutcomeNoResult, Reason: ReasonNoResultSet, Err: err}
	}
	return AttemptResult{Outcome: OutcomeError, Err: fmt.Errorf("%w: %s: %v", ErrProcedure, p.Name, err)}
}

// resultNames prefers declared output names, then driver column names.
func resultNames(outputs []introspect.ParamDescriptor, cols []string) []string {
	n := len(cols)
	if len(outputs) > n {
		n = len(outputs)
	}
	out := make([]string, n)
	for i := range out {
		if i < len(outputs) && strings.TrimSpace(outputs[i].Name) != "" {
			out[i] = strings.ToUpper(strings.TrimSpace(outputs[i].Name))
		} else if i < len(cols) {
			out[i] = strings.ToUpper(strings.TrimSpace(cols[i]))
		}
	}
	return out
}

// allowsLogin rejects the row when any success-like column is not
// affirmative. A row without such columns is accepted.
func allowsLogin(names []string, row []any) bool {
	for i, v := range row {
		if i >= len(names) {
			break
		}
		norm := strings.NewReplacer("_", "", " ", "").Replace(names[i])
		if norm == "" || !containsToken(norm, SuccessColumnTokens) {
			continue
		}
		if !Affirmative(v) {
			return false
		}
	}
	return true
}

// extractOperator picks the operator id and login from a result row.
func extractOperator(names []string, row []any, username string) (Operator, bool) {
	var (
		id       int64
		haveID   bool
		login    string
		haveName bool
	)
	for i, v := range row {
		if i >= len(names) || names[i] == "" {
			continue
		}
		if !haveID && containsToken(names[i], OperatorIDTokens) {
			if n, ok := asInt(v); ok {
				id, haveID = n, true
			}
		}
		if !haveName && containsToken(names[i], OperatorLoginTokens) && v != nil {
			login, haveName = strings.TrimSpace(asString(v)), true
		}
	}
	if !haveID && len(row) > 0 {
		id, haveID = asInt(row[0])
	}
	if !haveID {
		return Operator{}, false
	}
	if !haveName || login == "" {
		switch {
		case len(row) > 1 && asString(row[1]) != "":
			login = strings.TrimSpace(asString(row[1]))
		case strings.TrimSpace(username) != "":
			login = strings.TrimSpace(username)
		default:
			login = strconv.FormatInt(id, 10)
		}
	}
	return Operator{ID: id, Login: login}, true
}

// Affirmative interprets a success flag returned by the database.
func Affirmative(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case decimal.Decimal:
		return !x.IsZero()
	case float32:
		return x != 0
	case float64:
		return x != 0
	}
	if n, ok := asInt(v); ok {
		return n != 0
	}
	s := strings.ToUpper(strings.TrimSpace(asString(v)))
	if s == "" {
		return false
	}
	if containsName(affirmativeSpellings, s) {
		return true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0
	}
	return false
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	case decimal.Decimal:
		if x.Equal(x.Truncate(0)) {
			return x.IntPart(), true
		}
	case string, []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(asString(x)), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// readRows reads up to limit rows (all when limit <= 0).
func readRows(rows *sql.Rows, limit int) ([]string, [][]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return cols, out, rows.Err()
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func containsToken(name string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}
