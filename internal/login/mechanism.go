// Package login discovers how an accounting database checks operator
// credentials and authenticates operators against it.
package login

import "microvision.org/internal/introspect"

type Mode string

const (
	ModeProcedure Mode = "procedure"
	ModeTable     Mode = "table"
)

type CallingConvention string

const (
	Selectable CallingConvention = "selectable"
	Executable CallingConvention = "executable"
)

// Other returns the opposite convention.
func (c CallingConvention) Other() CallingConvention {
	if c == Selectable {
		return Executable
	}
	return Selectable
}

// Procedure describes a credential-checking stored procedure.
type Procedure struct {
	Name       string                       `json:"name"`
	Inputs     []introspect.ParamDescriptor `json:"inputs"`
	Outputs    []introspect.ParamDescriptor `json:"outputs"`
	Convention CallingConvention            `json:"calling_convention"`
}

// Table describes a credentials table. LoginCol empty means only
// password-only login is possible; one of PasswordCol/PasswordHashCol is set.
type Table struct {
	Name            string `json:"name"`
	IDCol           string `json:"id_col"`
	LoginCol        string `json:"login_col,omitempty"`
	PasswordCol     string `json:"password_col,omitempty"`
	PasswordHashCol string `json:"password_hash_col,omitempty"`
	SaltCol         string `json:"salt_col,omitempty"`
}

// HashOnly reports whether the table stores no plaintext password.
func (t Table) HashOnly() bool { return t.PasswordCol == "" && t.PasswordHashCol != "" }

// Mechanism is either a procedure with optional fallback tables or a table
// mechanism. Tables holds every qualifying credentials table in probe order;
// for ModeTable the first one is the primary.
type Mechanism struct {
	Mode      Mode       `json:"mode"`
	Procedure *Procedure `json:"procedure,omitempty"`
	Tables    []Table    `json:"tables,omitempty"`
}

// Name returns the procedure or primary table name.
func (m Mechanism) Name() string {
	if m.Mode == ModeProcedure && m.Procedure != nil {
		return m.Procedure.Name
	}
	if len(m.Tables) > 0 {
		return m.Tables[0].Name
	}
	return ""
}

// FallbackTable returns the table used when the procedure yields nothing.
func (m Mechanism) FallbackTable() (Table, bool) {
	if len(m.Tables) == 0 {
		return Table{}, false
	}
	return m.Tables[0], true
}
