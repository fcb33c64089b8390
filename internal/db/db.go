package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrLockTimeout = errors.New("advisory lock wait timeout")

// Open connects with the driver for dialect.
func Open(dialect, dsn string) (*sql.DB, error) {
	switch strings.ToLower(dialect) {
	case "mysql", "":
		return OpenMySQL(dsn)
	case "postgres", "postgresql", "pgx":
		return OpenPostgres(dsn)
	case "sqlite", "sqlite3":
		return OpenSQLite(dsn)
	}
	return nil, fmt.Errorf("unknown dialect %q", dialect)
}

func OpenMySQL(dsn string) (*sql.DB, error) {
	// parseTime is required to scan ledger timestamps
	if !strings.Contains(strings.ToLower(dsn), "parsetime=") {
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// OpenSQLite opens a single-connection pool: SQLite serialises writers and a
// second connection would block on the migration transaction.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// EnsureTable creates the ledger table for dialect if it does not exist.
func EnsureTable(ctx context.Context, db *sql.DB, dialect, table string) error {
	stmts, err := ledgerDDL(dialect, table)
	if err != nil {
		return err
	}
	for _, ddl := range stmts {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func ledgerDDL(dialect, table string) ([]string, error) {
	switch strings.ToLower(dialect) {
	case "mysql", "":
		return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id BIGINT PRIMARY KEY AUTO_INCREMENT,
  module VARCHAR(100) NOT NULL,
  node_name VARCHAR(255) NOT NULL,
  action VARCHAR(16) NOT NULL,
  run BIGINT NOT NULL,
  run_id CHAR(36) NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at DATETIME(6) NOT NULL,
  applied_by VARCHAR(255) NOT NULL,
  duration_ms BIGINT NOT NULL,
  KEY idx_module_node (module, node_name),
  KEY idx_run (run)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`, table)}, nil
	case "postgres", "postgresql", "pgx":
		return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  module VARCHAR(100) NOT NULL,
  node_name VARCHAR(255) NOT NULL,
  action VARCHAR(16) NOT NULL,
  run BIGINT NOT NULL,
  run_id CHAR(36) NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL,
  applied_by VARCHAR(255) NOT NULL,
  duration_ms BIGINT NOT NULL
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_module_node_idx ON %s (module, node_name)`, table, table),
		}, nil
	case "sqlite", "sqlite3":
		return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  module VARCHAR(100) NOT NULL,
  node_name VARCHAR(255) NOT NULL,
  action VARCHAR(16) NOT NULL,
  run INTEGER NOT NULL,
  run_id CHAR(36) NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at DATETIME NOT NULL,
  applied_by VARCHAR(255) NOT NULL,
  duration_ms INTEGER NOT NULL
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_module_node_idx ON %s (module, node_name)`, table, table),
		}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", dialect)
}
