package login

import (
	"context"
	"errors"
	"testing"

	"microvision.org/internal/introspect"
)

type procIntrospector struct {
	*introspect.Static
	procs []introspect.ProcedureInfo
	sigs  map[string]introspect.ProcedureSignature
}

func (p *procIntrospector) ListProcedures(context.Context) ([]introspect.ProcedureInfo, error) {
	return p.procs, nil
}

func (p *procIntrospector) ProcedureSignature(_ context.Context, name string) (introspect.ProcedureSignature, error) {
	return p.sigs[name], nil
}

func params(names ...string) []introspect.ParamDescriptor {
	out := make([]introspect.ParamDescriptor, len(names))
	for i, n := range names {
		out[i] = introspect.ParamDescriptor{Name: n, Position: i}
	}
	return out
}

func TestDetectPrefersProcedureWithInputs(t *testing.T) {
	intro := &procIntrospector{
		Static: introspect.NewStatic(introspect.Table{Name: "USERS", Columns: introspect.Columns("ID", "NAME", "PASS")}),
		procs: []introspect.ProcedureInfo{
			{Name: "GET_USER_COUNT", Kind: introspect.KindSelectable},
			{Name: "P_LOGIN", Kind: introspect.KindExecutable},
		},
		sigs: map[string]introspect.ProcedureSignature{
			"GET_USER_COUNT": {Name: "GET_USER_COUNT", Outputs: params("CNT")},
			"P_LOGIN":        {Name: "P_LOGIN", Inputs: params("LOGIN", "PASS"), Outputs: params("ID"), Source: "BEGIN ... SUSPEND; END"},
		},
	}
	mech, err := NewDetector(intro).Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if mech.Mode != ModeProcedure || mech.Procedure == nil || mech.Procedure.Name != "P_LOGIN" {
		t.Fatalf("unexpected mechanism: %+v", mech)
	}
	if mech.Procedure.Convention != Selectable {
		t.Fatalf("SUSPEND in source should mark the procedure selectable, got %s", mech.Procedure.Convention)
	}
	fb, ok := mech.FallbackTable()
	if !ok || fb.Name != "USERS" || fb.PasswordCol != "PASS" {
		t.Fatalf("unexpected fallback table: %+v", fb)
	}
}

func TestDetectTableMode(t *testing.T) {
	intro := introspect.NewStatic(
		introspect.Table{Name: "USERS", Columns: introspect.Columns("NAME", "PASS")},
		introspect.Table{Name: "LOGUSERS", Columns: introspect.Columns("ID", "PASSWORD_HASH", "SALT")},
	)
	mech, err := NewDetector(intro).Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if mech.Mode != ModeTable || len(mech.Tables) != 1 {
		t.Fatalf("unexpected mechanism: %+v", mech)
	}
	tbl := mech.Tables[0]
	if tbl.Name != "LOGUSERS" || !tbl.HashOnly() || tbl.SaltCol != "SALT" || tbl.LoginCol != "" {
		t.Fatalf("unexpected table: %+v", tbl)
	}
}

func TestDetectNothing(t *testing.T) {
	_, err := NewDetector(introspect.NewStatic()).Detect(context.Background())
	if !errors.Is(err, ErrNoMechanism) || !errors.Is(err, ErrUnsupportedAuthSchema) {
		t.Fatalf("expected ErrNoMechanism, got %v", err)
	}
}
