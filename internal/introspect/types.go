// Package introspect reads table, column and stored procedure metadata from
// the accounting database's system catalog, or from a static schema dump
// when the live catalog cannot be read.
package introspect

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable reports that a metadata source cannot answer a query at all,
// as opposed to answering it with an empty result.
var ErrUnavailable = errors.New("introspect: metadata unavailable")

// Error wraps any metadata query failure with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("introspect: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// DataType is the normalized declared type of a column or parameter.
type DataType int

const (
	TypeUnknown DataType = iota
	TypeText
	TypeInteger
	TypeNumeric
	TypeFloat
	TypeDate
	TypeTime
	TypeTimestamp
	TypeBlob
	TypeBoolean
)

func (t DataType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeNumeric:
		return "numeric"
	case TypeFloat:
		return "float"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeTimestamp:
		return "timestamp"
	case TypeBlob:
		return "blob"
	case TypeBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// ColumnDescriptor is produced fresh on every call.
type ColumnDescriptor struct {
	Table    string   `json:"table"`
	Column   string   `json:"column"`
	DataType DataType `json:"data_type"`
	Nullable bool     `json:"nullable"`
	Length   int      `json:"length,omitempty"`
}

// ProcedureKind mirrors RDB$PROCEDURE_TYPE.
type ProcedureKind int

const (
	KindUnknown    ProcedureKind = 0
	KindSelectable ProcedureKind = 1
	KindExecutable ProcedureKind = 2
)

// ProcedureInfo is one row of the procedure listing.
type ProcedureInfo struct {
	Name string
	Kind ProcedureKind
}

// ParamDescriptor describes one procedure parameter.
type ParamDescriptor struct {
	Name     string   `json:"name"`
	Position int      `json:"position"`
	DataType DataType `json:"data_type"`
}

// ProcedureSignature carries input/output parameters in positional order
// together with the declared kind and the procedure source text.
type ProcedureSignature struct {
	Name    string
	Inputs  []ParamDescriptor
	Outputs []ParamDescriptor
	Kind    ProcedureKind
	Source  string
}

// Introspector is the read-only metadata contract consumed by the schema and
// login resolvers. Implementations do not cache.
type Introspector interface {
	// ListTables returns user tables in the catalog's natural name order.
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]ColumnDescriptor, error)
	// ListProcedures returns user procedures in natural name order.
	ListProcedures(ctx context.Context) ([]ProcedureInfo, error)
	ProcedureSignature(ctx context.Context, name string) (ProcedureSignature, error)
}

// ColumnNames returns the column names of cols in order.
func ColumnNames(cols []ColumnDescriptor) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, c.Column)
	}
	return out
}
