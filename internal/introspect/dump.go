package introspect

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	createTableRE = regexp.MustCompile(`(?is)CREATE\s+TABLE\s+"?([A-Z0-9_$]+)"?\s*\((.*?)\)\s*;`)
	columnNameRE  = regexp.MustCompile(`(?i)^"?([A-Z0-9_$]+)"?`)
)

var constraintPrefixes = []string{"CONSTRAINT", "PRIMARY", "FOREIGN", "UNIQUE", "CHECK"}

// Table is one table of a static schema.
type Table struct {
	Name    string
	Columns []ColumnDescriptor
}

// Static serves metadata from an in-memory table list, typically parsed
// from a schema dump. It has no procedures.
type Static struct {
	tables []Table
}

// NewStatic builds a Static introspector. Table order is preserved.
func NewStatic(tables ...Table) *Static {
	out := make([]Table, 0, len(tables))
	for _, t := range tables {
		t.Name = strings.ToUpper(strings.TrimSpace(t.Name))
		cols := make([]ColumnDescriptor, len(t.Columns))
		for i, c := range t.Columns {
			c.Table = t.Name
			c.Column = strings.ToUpper(strings.TrimSpace(c.Column))
			cols[i] = c
		}
		t.Columns = cols
		out = append(out, t)
	}
	return &Static{tables: out}
}

// Columns is a shorthand for building text columns in fixtures.
func Columns(names ...string) []ColumnDescriptor {
	out := make([]ColumnDescriptor, len(names))
	for i, n := range names {
		out[i] = ColumnDescriptor{Column: n, DataType: TypeText, Nullable: true}
	}
	return out
}

func (s *Static) ListTables(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t.Name)
	}
	return out, nil
}

func (s *Static) ListColumns(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	table = strings.ToUpper(strings.TrimSpace(table))
	for _, t := range s.tables {
		if t.Name == table {
			out := make([]ColumnDescriptor, len(t.Columns))
			copy(out, t.Columns)
			return out, nil
		}
	}
	return nil, nil
}

func (s *Static) ListProcedures(ctx context.Context) ([]ProcedureInfo, error) {
	return nil, nil
}

func (s *Static) ProcedureSignature(ctx context.Context, name string) (ProcedureSignature, error) {
	return ProcedureSignature{Name: name}, wrap("procedure signature", ErrUnavailable)
}

// LoadDump reads a schema dump from path. Files that are not valid UTF-8
// are decoded as Windows-1251.
func LoadDump(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrap("load dump", err)
	}
	return ParseDump(decodeLegacy(data))
}

func decodeLegacy(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// ParseDump extracts tables and columns from CREATE TABLE statements.
func ParseDump(content string) (*Static, error) {
	var tables []Table
	for _, m := range createTableRE.FindAllStringSubmatch(content, -1) {
		name := strings.ToUpper(m[1])
		var cols []ColumnDescriptor
		for _, def := range splitTopLevel(m[2]) {
			def = strings.TrimSpace(def)
			if def == "" || hasConstraintPrefix(def) {
				continue
			}
			cm := columnNameRE.FindStringSubmatch(def)
			if cm == nil {
				continue
			}
			cols = append(cols, ColumnDescriptor{
				Table:    name,
				Column:   strings.ToUpper(cm[1]),
				DataType: declaredType(def[len(cm[0]):]),
				Nullable: !strings.Contains(strings.ToUpper(def), "NOT NULL"),
				Length:   declaredLength(def[len(cm[0]):]),
			})
		}
		if len(cols) > 0 {
			tables = append(tables, Table{Name: name, Columns: cols})
		}
	}
	if len(tables) == 0 {
		return nil, wrap("parse dump", fmt.Errorf("%w: no CREATE TABLE statements", ErrUnavailable))
	}
	return NewStatic(tables...), nil
}

func hasConstraintPrefix(def string) bool {
	upper := strings.ToUpper(def)
	for _, p := range constraintPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// splitTopLevel splits a column list on commas outside parentheses.
func splitTopLevel(body string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, body[start:])
}

var typeKeywords = []struct {
	prefix string
	typ    DataType
}{
	{"VARCHAR", TypeText},
	{"CHAR", TypeText},
	{"BLOB SUB_TYPE 1", TypeText},
	{"BLOB SUB_TYPE TEXT", TypeText},
	{"BLOB", TypeBlob},
	{"SMALLINT", TypeInteger},
	{"INTEGER", TypeInteger},
	{"BIGINT", TypeInteger},
	{"INT", TypeInteger},
	{"NUMERIC", TypeNumeric},
	{"DECIMAL", TypeNumeric},
	{"DOUBLE", TypeFloat},
	{"FLOAT", TypeFloat},
	{"TIMESTAMP", TypeTimestamp},
	{"DATE", TypeDate},
	{"TIME", TypeTime},
	{"BOOLEAN", TypeBoolean},
}

func declaredType(rest string) DataType {
	rest = strings.ToUpper(strings.TrimSpace(rest))
	for _, k := range typeKeywords {
		if strings.HasPrefix(rest, k.prefix) {
			return k.typ
		}
	}
	return TypeUnknown
}

var lengthRE = regexp.MustCompile(`^\s*(?i:VARCHAR|CHAR)\s*\(\s*(\d+)`)

func declaredLength(rest string) int {
	m := lengthRE.FindStringSubmatch(rest)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
