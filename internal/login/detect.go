package login

import (
	"context"
	"strings"

	"microvision.org/internal/introspect"
	"microvision.org/internal/obs"
)

// Discovery patterns.
var (
	ProcedureNameTokens = []string{"LOGIN", "USER", "AUTH"}
	CandidateTables     = []string{"USERS", "LOGUSERS"}

	IDColumns       = []string{"ID", "CODE", "KOD", "USER_ID", "OP_ID"}
	LoginColumns    = []string{"NAME", "LOGIN", "USERNAME", "USER_NAME", "CODE", "USERCODE", "OPERATOR"}
	PasswordColumns = []string{"PASS", "PASSWORD", "PAROLA", "PWD"}
	HashColumns     = []string{"PASS_HASH", "PASSWORD_HASH", "PWD_HASH", "PAROLA_HASH"}
	SaltColumns     = []string{"SALT", "PASS_SALT", "PASSWORD_SALT", "SALT1"}
)

// Detector resolves the login mechanism from catalog metadata.
type Detector struct {
	intro introspect.Introspector
}

func NewDetector(intro introspect.Introspector) *Detector {
	return &Detector{intro: intro}
}

// Detect returns the first login procedure with inputs, in catalog name
// order, with credentials tables attached as fallback. Without a procedure
// the first qualifying table is the mechanism.
func (d *Detector) Detect(ctx context.Context) (Mechanism, error) {
	procs, err := d.intro.ListProcedures(ctx)
	if err != nil {
		return Mechanism{}, err
	}
	for _, p := range procs {
		if !matchesAny(p.Name, ProcedureNameTokens) {
			continue
		}
		sig, err := d.intro.ProcedureSignature(ctx, p.Name)
		if err != nil {
			return Mechanism{}, err
		}
		if len(sig.Inputs) == 0 {
			continue
		}
		kind := sig.Kind
		if kind == introspect.KindUnknown {
			kind = p.Kind
		}
		conv := Executable
		if kind == introspect.KindSelectable || strings.Contains(strings.ToUpper(sig.Source), "SUSPEND") {
			conv = Selectable
		}
		tables, err := d.Tables(ctx)
		if err != nil {
			return Mechanism{}, err
		}
		obs.Info("login procedure detected", map[string]any{"procedure": p.Name, "convention": string(conv), "fallback_tables": len(tables)})
		return Mechanism{
			Mode:      ModeProcedure,
			Procedure: &Procedure{Name: p.Name, Inputs: sig.Inputs, Outputs: sig.Outputs, Convention: conv},
			Tables:    tables,
		}, nil
	}

	tables, err := d.Tables(ctx)
	if err != nil {
		return Mechanism{}, err
	}
	if len(tables) == 0 {
		return Mechanism{}, ErrNoMechanism
	}
	obs.Info("login table detected", map[string]any{"table": tables[0].Name, "has_login": tables[0].LoginCol != "", "hash_only": tables[0].HashOnly()})
	return Mechanism{Mode: ModeTable, Tables: tables}, nil
}

// Tables probes the candidate credentials tables. A table qualifies when it
// has an identifier column and a password or password-hash column.
func (d *Detector) Tables(ctx context.Context) ([]Table, error) {
	var out []Table
	for _, name := range CandidateTables {
		cols, err := d.intro.ListColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			continue
		}
		names := introspect.ColumnNames(cols)
		t := Table{
			Name:            name,
			IDCol:           firstColumn(names, IDColumns),
			LoginCol:        firstColumn(names, LoginColumns),
			PasswordCol:     firstColumn(names, PasswordColumns),
			PasswordHashCol: firstColumn(names, HashColumns),
			SaltCol:         firstColumn(names, SaltColumns),
		}
		if t.IDCol == "" || (t.PasswordCol == "" && t.PasswordHashCol == "") {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func firstColumn(columns, candidates []string) string {
	for _, want := range candidates {
		for _, c := range columns {
			if strings.EqualFold(c, want) {
				return c
			}
		}
	}
	return ""
}

func matchesAny(name string, tokens []string) bool {
	upper := strings.ToUpper(name)
	for _, t := range tokens {
		if strings.Contains(upper, t) {
			return true
		}
	}
	return false
}
