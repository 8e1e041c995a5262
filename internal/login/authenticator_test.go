package login

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var usersTable = Table{Name: "USERS", IDCol: "ID", LoginCol: "NAME", PasswordCol: "PASS"}

func procedureMechanism(conv CallingConvention, tables ...Table) Mechanism {
	return Mechanism{
		Mode: ModeProcedure,
		Procedure: &Procedure{
			Name:       "P_LOGIN",
			Inputs:     params("LOGIN", "PASS"),
			Outputs:    params("OPERATOR_ID", "OPERATOR_NAME", "OK"),
			Convention: conv,
		},
		Tables: tables,
	}
}

func TestLoginProcedureSuccess(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT * FROM P_LOGIN(?, ?)").
		WithArgs("ivan", "secret").
		WillReturnRows(sqlmock.NewRows([]string{"OPERATOR_ID", "OPERATOR_NAME", "OK"}).AddRow(int64(7), "Ivan ", int64(1)))

	op, err := NewAuthenticator(db).Login(context.Background(), procedureMechanism(Selectable, usersTable), Credentials{Username: "ivan", Password: "secret"}, nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if op.ID != 7 || op.Login != "Ivan" || op.Mode != ModeProcedure || op.Via != "P_LOGIN" {
		t.Fatalf("unexpected operator: %+v", op)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoginRetriesOtherConventionBeforeTable(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT * FROM P_LOGIN(?, ?)").
		WithArgs("ivan", "secret").
		WillReturnError(errors.New("Dynamic SQL Error: procedure P_LOGIN does not produce result set"))
	mock.ExpectQuery("EXECUTE PROCEDURE P_LOGIN ?, ?").
		WithArgs("ivan", "secret").
		WillReturnRows(sqlmock.NewRows([]string{"OPERATOR_ID", "OPERATOR_NAME", "OK"}))
	mock.ExpectQuery("SELECT ID, NAME, PASS FROM USERS WHERE UPPER(TRIM(NAME)) = UPPER(TRIM(?))").
		WithArgs("ivan").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "NAME", "PASS"}).AddRow(int64(3), "IVAN", "secret  "))

	trace := NewTrace()
	op, err := NewAuthenticator(db).Login(context.Background(), procedureMechanism(Selectable, usersTable), Credentials{Username: "ivan", Password: "secret"}, trace)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if op.ID != 3 || op.Login != "IVAN" || op.Mode != ModeTable || op.Via != "USERS" {
		t.Fatalf("unexpected operator: %+v", op)
	}
	actions := strings.Join(trace.Actions(), ",")
	want := "start,detected_mode,procedure_call,procedure_no_result,procedure_call,procedure_no_result,procedure_fallback_table,table_lookup,table_rows,table_ok,success"
	if actions != want {
		t.Fatalf("trace actions:\n got %s\nwant %s", actions, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoginProcedureDeniedWithoutTables(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("EXECUTE PROCEDURE P_LOGIN ?, ?").
		WithArgs("ivan", "bad").
		WillReturnRows(sqlmock.NewRows([]string{"OPERATOR_ID", "OPERATOR_NAME", "OK"}).AddRow(int64(7), "ivan", "N"))

	_, err := NewAuthenticator(db).Login(context.Background(), procedureMechanism(Executable), Credentials{Username: "ivan", Password: "bad"}, nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginProcedureErrorIsFinal(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("EXECUTE PROCEDURE P_LOGIN ?, ?").
		WithArgs("ivan", "secret").
		WillReturnError(errors.New("lock conflict on no wait transaction"))

	_, err := NewAuthenticator(db).Login(context.Background(), procedureMechanism(Executable, usersTable), Credentials{Username: "ivan", Password: "secret"}, nil)
	if !errors.Is(err, ErrProcedure) {
		t.Fatalf("expected ErrProcedure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoginForceTableSkipsProcedure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT ID, NAME, PASS FROM USERS WHERE UPPER(TRIM(NAME)) = UPPER(TRIM(?))").
		WithArgs("ivan").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "NAME", "PASS"}).AddRow(int64(3), "ivan", "secret"))

	op, err := NewAuthenticator(db, WithForceTable(true)).Login(context.Background(), procedureMechanism(Selectable, usersTable), Credentials{Username: "ivan", Password: "secret"}, nil)
	if err != nil || op.Via != "USERS" {
		t.Fatalf("Login = %+v, %v", op, err)
	}
}

func TestLoginPasswordOnlyAmbiguous(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT ID, NAME, PASS FROM USERS WHERE TRIM(PASS) = TRIM(?)").
		WithArgs("1234").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "NAME", "PASS"}).
			AddRow(int64(1), "anna", "1234").
			AddRow(int64(2), "boris", "1234"))

	mech := Mechanism{Mode: ModeTable, Tables: []Table{usersTable, {Name: "LOGUSERS", IDCol: "ID", PasswordCol: "PWD"}}}
	_, err := NewAuthenticator(db).Login(context.Background(), mech, Credentials{Password: "1234"}, nil)
	if !errors.Is(err, ErrAmbiguousCredentials) {
		t.Fatalf("expected ErrAmbiguousCredentials, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoginMovesToNextTableOnlyWhenNoRow(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT ID, NAME, PASS FROM USERS WHERE TRIM(PASS) = TRIM(?)").
		WithArgs("1234").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "NAME", "PASS"}))
	mock.ExpectQuery("SELECT ID, PWD FROM LOGUSERS WHERE TRIM(PWD) = TRIM(?)").
		WithArgs("1234").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "PWD"}).AddRow(int64(9), "1234"))

	mech := Mechanism{Mode: ModeTable, Tables: []Table{usersTable, {Name: "LOGUSERS", IDCol: "ID", PasswordCol: "PWD"}}}
	op, err := NewAuthenticator(db).Login(context.Background(), mech, Credentials{Password: "1234"}, nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if op.ID != 9 || op.Login != "9" || op.Via != "LOGUSERS" {
		t.Fatalf("unexpected operator: %+v", op)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT ID, NAME, PASS FROM USERS WHERE UPPER(TRIM(NAME)) = UPPER(TRIM(?))").
		WithArgs("ivan").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "NAME", "PASS"}).AddRow(int64(3), "ivan", "secret"))

	mech := Mechanism{Mode: ModeTable, Tables: []Table{usersTable}}
	_, err := NewAuthenticator(db).Login(context.Background(), mech, Credentials{Username: "ivan", Password: "nope"}, nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginHashOnlyTable(t *testing.T) {
	hashed := Table{Name: "LOGUSERS", IDCol: "ID", LoginCol: "LOGIN", PasswordHashCol: "PASS_HASH", SaltCol: "SALT"}
	mech := Mechanism{Mode: ModeTable, Tables: []Table{hashed}}
	query := "SELECT ID, LOGIN, PASS_HASH, SALT FROM LOGUSERS WHERE UPPER(TRIM(LOGIN)) = UPPER(TRIM(?))"

	t.Run("salted sha1", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(query).WithArgs("ivan").
			WillReturnRows(sqlmock.NewRows([]string{"ID", "LOGIN", "PASS_HASH", "SALT"}).AddRow(int64(5), "ivan", Digest(HashSHA1, "secret", "xy"), "xy"))
		op, err := NewAuthenticator(db).Login(context.Background(), mech, Credentials{Username: "ivan", Password: "secret"}, nil)
		if err != nil || op.ID != 5 {
			t.Fatalf("Login = %+v, %v", op, err)
		}
	})

	t.Run("unknown scheme", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(query).WithArgs("ivan").
			WillReturnRows(sqlmock.NewRows([]string{"ID", "LOGIN", "PASS_HASH", "SALT"}).AddRow(int64(5), "ivan", "$2a$10$abcdefghijklmnopqrstuv", nil))
		_, err := NewAuthenticator(db).Login(context.Background(), mech, Credentials{Username: "ivan", Password: "secret"}, nil)
		if !errors.Is(err, ErrUnknownHashAlgorithm) {
			t.Fatalf("expected ErrUnknownHashAlgorithm, got %v", err)
		}
	})

	t.Run("guessing disabled", func(t *testing.T) {
		db, mock := newMock(t)
		_, err := NewAuthenticator(db, WithHashGuessing(false)).Login(context.Background(), mech, Credentials{Username: "ivan", Password: "secret"}, nil)
		if !errors.Is(err, ErrUnsupportedAuthSchema) {
			t.Fatalf("expected ErrUnsupportedAuthSchema, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})
}

func TestLoginReconnectsOnce(t *testing.T) {
	db, mock := newMock(t)
	query := "SELECT ID, NAME, PASS FROM USERS WHERE UPPER(TRIM(NAME)) = UPPER(TRIM(?))"
	mock.ExpectQuery(query).WithArgs("ivan").WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery(query).WithArgs("ivan").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "NAME", "PASS"}).AddRow(int64(3), "ivan", "secret"))

	calls := 0
	auth := NewAuthenticator(db, WithReconnect(func(context.Context) error {
		calls++
		return nil
	}))
	mech := Mechanism{Mode: ModeTable, Tables: []Table{usersTable}}
	if _, err := auth.Login(context.Background(), mech, Credentials{Username: "ivan", Password: "secret"}, nil); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one reconnect, got %d", calls)
	}
}

func TestLoginRequiresPassword(t *testing.T) {
	db, _ := newMock(t)
	trace := NewTrace()
	_, err := NewAuthenticator(db).Login(context.Background(), Mechanism{Mode: ModeTable, Tables: []Table{usersTable}}, Credentials{Username: "ivan"}, trace)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if got := trace.Actions(); len(got) == 0 || got[0] != "start" || got[len(got)-1] != "error" {
		t.Fatalf("unexpected trace: %v", got)
	}
}

func TestProcedureArgsFillByName(t *testing.T) {
	args := procedureArgs(params("PC_ID", "USERNAME", "PAROLA", "EXTRA"), Credentials{Username: " ivan ", Password: "p", PCID: "12"})
	if args[0] != int64(12) || args[1] != "ivan" || args[2] != "p" || args[3] != nil {
		t.Fatalf("unexpected args: %#v", args)
	}
}
