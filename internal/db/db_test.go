package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestOpenMySQLAppendsParseTime(t *testing.T) {
	dsn := "user:pass@tcp(localhost:3306)/db"
	db, err := OpenMySQL(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Close()
}

func TestOpenUnknownDialect(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureTableMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_nodes").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := EnsureTable(context.Background(), db, "mysql", "schema_nodes"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureTableSQLiteIsRepeatable(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := EnsureTable(ctx, db, "sqlite", "schema_nodes"); err != nil {
			t.Fatalf("ensure #%d: %v", i, err)
		}
	}
	var sql string
	if err := db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'schema_nodes'`).Scan(&sql); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !strings.Contains(sql, "run_id") {
		t.Fatalf("unexpected ddl %q", sql)
	}
}
