package introspect

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Querier is the subset of *sql.DB / *sql.Tx used for metadata reads.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Firebird reads metadata from the RDB$ system tables.
type Firebird struct {
	db Querier
}

// NewFirebird returns an introspector bound to db.
func NewFirebird(db Querier) *Firebird {
	return &Firebird{db: db}
}

const (
	listTablesSQL = `SELECT TRIM(r.RDB$RELATION_NAME)
FROM RDB$RELATIONS r
WHERE COALESCE(r.RDB$SYSTEM_FLAG, 0) = 0 AND r.RDB$VIEW_BLR IS NULL
ORDER BY 1`

	listColumnsSQL = `SELECT TRIM(rf.RDB$FIELD_NAME), COALESCE(rf.RDB$NULL_FLAG, 0),
  f.RDB$FIELD_TYPE, COALESCE(f.RDB$FIELD_SUB_TYPE, 0), COALESCE(f.RDB$FIELD_SCALE, 0),
  COALESCE(f.RDB$CHARACTER_LENGTH, f.RDB$FIELD_LENGTH, 0)
FROM RDB$RELATION_FIELDS rf
JOIN RDB$FIELDS f ON f.RDB$FIELD_NAME = rf.RDB$FIELD_SOURCE
WHERE rf.RDB$RELATION_NAME = ?
ORDER BY rf.RDB$FIELD_POSITION`

	listProceduresSQL = `SELECT TRIM(p.RDB$PROCEDURE_NAME), COALESCE(p.RDB$PROCEDURE_TYPE, 0)
FROM RDB$PROCEDURES p
WHERE COALESCE(p.RDB$SYSTEM_FLAG, 0) = 0
ORDER BY 1`

	procedureParamsSQL = `SELECT COALESCE(pp.RDB$PARAMETER_TYPE, 0), TRIM(pp.RDB$PARAMETER_NAME),
  COALESCE(pp.RDB$PARAMETER_NUMBER, 0), f.RDB$FIELD_TYPE, COALESCE(f.RDB$FIELD_SUB_TYPE, 0),
  COALESCE(f.RDB$FIELD_SCALE, 0)
FROM RDB$PROCEDURE_PARAMETERS pp
JOIN RDB$FIELDS f ON f.RDB$FIELD_NAME = pp.RDB$FIELD_SOURCE
WHERE pp.RDB$PROCEDURE_NAME = ?
ORDER BY 1, 3`

	procedureSourceSQL = `SELECT COALESCE(p.RDB$PROCEDURE_TYPE, 0), p.RDB$PROCEDURE_SOURCE
FROM RDB$PROCEDURES p
WHERE p.RDB$PROCEDURE_NAME = ?`

	fieldLengthSQL = `SELECT COALESCE(f.RDB$CHARACTER_LENGTH, f.RDB$FIELD_LENGTH)
FROM RDB$RELATION_FIELDS rf
JOIN RDB$FIELDS f ON f.RDB$FIELD_NAME = rf.RDB$FIELD_SOURCE
WHERE UPPER(rf.RDB$RELATION_NAME) = ? AND UPPER(rf.RDB$FIELD_NAME) = ?`

	listGeneratorsSQL = `SELECT TRIM(g.RDB$GENERATOR_NAME)
FROM RDB$GENERATORS g
WHERE COALESCE(g.RDB$SYSTEM_FLAG, 0) = 0
ORDER BY 1`
)

func (f *Firebird) ListTables(ctx context.Context) ([]string, error) {
	return f.names(ctx, "list tables", listTablesSQL)
}

// ListGenerators returns user sequence (generator) names.
func (f *Firebird) ListGenerators(ctx context.Context) ([]string, error) {
	return f.names(ctx, "list generators", listGeneratorsSQL)
}

func (f *Firebird) names(ctx context.Context, op, query string) ([]string, error) {
	rows, err := f.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, wrap(op, err)
		}
		if n := strings.TrimSpace(name.String); n != "" {
			out = append(out, n)
		}
	}
	return out, wrap(op, rows.Err())
}

func (f *Firebird) ListColumns(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	table = strings.ToUpper(strings.TrimSpace(table))
	rows, err := f.db.QueryContext(ctx, listColumnsSQL, table)
	if err != nil {
		return nil, wrap("list columns", err)
	}
	defer rows.Close()
	var out []ColumnDescriptor
	for rows.Next() {
		var (
			name                              string
			nullFlag, typ, sub, scale, length int64
		)
		if err := rows.Scan(&name, &nullFlag, &typ, &sub, &scale, &length); err != nil {
			return nil, wrap("list columns", err)
		}
		out = append(out, ColumnDescriptor{
			Table:    table,
			Column:   strings.TrimSpace(name),
			DataType: fieldType(typ, sub, scale),
			Nullable: nullFlag == 0,
			Length:   int(length),
		})
	}
	return out, wrap("list columns", rows.Err())
}

func (f *Firebird) ListProcedures(ctx context.Context) ([]ProcedureInfo, error) {
	rows, err := f.db.QueryContext(ctx, listProceduresSQL)
	if err != nil {
		return nil, wrap("list procedures", err)
	}
	defer rows.Close()
	var out []ProcedureInfo
	for rows.Next() {
		var (
			name string
			kind int64
		)
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, wrap("list procedures", err)
		}
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, ProcedureInfo{Name: name, Kind: ProcedureKind(kind)})
		}
	}
	return out, wrap("list procedures", rows.Err())
}

func (f *Firebird) ProcedureSignature(ctx context.Context, name string) (ProcedureSignature, error) {
	name = strings.TrimSpace(name)
	sig := ProcedureSignature{Name: name}
	rows, err := f.db.QueryContext(ctx, procedureParamsSQL, name)
	if err != nil {
		return sig, wrap("procedure parameters", err)
	}
	for rows.Next() {
		var (
			direction, position, typ, sub, scale int64
			pname                                string
		)
		if err := rows.Scan(&direction, &pname, &position, &typ, &sub, &scale); err != nil {
			rows.Close()
			return sig, wrap("procedure parameters", err)
		}
		p := ParamDescriptor{Name: strings.TrimSpace(pname), Position: int(position), DataType: fieldType(typ, sub, scale)}
		if direction == 0 {
			sig.Inputs = append(sig.Inputs, p)
		} else {
			sig.Outputs = append(sig.Outputs, p)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return sig, wrap("procedure parameters", err)
	}
	rows.Close()

	var (
		kind   int64
		source sql.NullString
	)
	err = f.db.QueryRowContext(ctx, procedureSourceSQL, name).Scan(&kind, &source)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return sig, wrap("procedure source", err)
	default:
		sig.Kind = ProcedureKind(kind)
		sig.Source = source.String
	}
	return sig, nil
}

// FieldLength returns the declared character length of table.column, or 0
// when the column is unknown.
func (f *Firebird) FieldLength(ctx context.Context, table, column string) (int, error) {
	var n sql.NullInt64
	err := f.db.QueryRowContext(ctx, fieldLengthSQL,
		strings.ToUpper(strings.TrimSpace(table)), strings.ToUpper(strings.TrimSpace(column))).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("field length", err)
	}
	return int(n.Int64), nil
}

// fieldType maps RDB$FIELD_TYPE/SUB_TYPE/SCALE to a DataType.
func fieldType(typ, sub, scale int64) DataType {
	switch typ {
	case 7, 8, 16:
		if scale < 0 || sub == 1 || sub == 2 {
			return TypeNumeric
		}
		return TypeInteger
	case 10, 27:
		return TypeFloat
	case 12:
		return TypeDate
	case 13:
		return TypeTime
	case 35:
		return TypeTimestamp
	case 14, 37, 40:
		return TypeText
	case 23:
		return TypeBoolean
	case 261:
		if sub == 1 {
			return TypeText
		}
		return TypeBlob
	}
	return TypeUnknown
}
