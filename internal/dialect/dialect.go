// Package dialect renders schema operations into SQL for a specific store and
// answers the introspection questions the applier asks when it has to resume
// a node whose DDL could not run inside a transaction.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Column is a field resolved against the state it lives in: foreign keys carry
// the referenced table and column.
type Column struct {
	schema.Field
	RefTable  string
	RefColumn string
}

// Table is an entity with its columns resolved.
type Table struct {
	Name    string
	Columns []Column
	Unique  [][]string
}

type Dialect interface {
	Name() string
	Quote(ident string) string
	// Rebind rewrites '?' placeholders into the store's native form.
	Rebind(query string) string
	// TransactionalDDL reports whether schema changes roll back with the
	// surrounding transaction.
	TransactionalDDL() bool
	ColumnType(f schema.Field) string
	// Length is the character length function.
	Length() string
	// CastText renders expr converted to a character type.
	CastText(expr string) string
	// Literal renders v as a constant of kind k.
	Literal(k schema.Kind, v string) string

	// Column changes receive the table as it looks once the change is
	// applied; dialects that rebuild tables need the full shape.
	CreateTable(t Table) []string
	DropTable(table string) []string
	AddColumn(after Table, c Column) []string
	DropColumn(after Table, c Column) []string
	RenameColumn(after Table, from string, to Column) []string
	AlterColumn(after Table, old, new Column) []string
	CreateUniqueIndex(table string, cols []string) []string
	DropUniqueIndex(table string, cols []string) []string
	CreateExtension(name string) ([]string, error)

	HasTable(ctx context.Context, q DBTX, table string) (bool, error)
	HasColumn(ctx context.Context, q DBTX, table, column string) (bool, error)
	// Benign reports whether err from a resumed statement only says the
	// change is already in place.
	Benign(err error) bool
}

// For returns the dialect registered under name.
func For(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "":
		return MySQL{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// IndexName is the deterministic name of the unique index over cols.
func IndexName(table string, cols []string) string {
	return table + "_" + strings.Join(cols, "_") + "_uniq"
}

// ConstraintName is the name of the foreign key constraint on column.
func ConstraintName(table, column string) string {
	return table + "_" + column + "_fk"
}

func onDelete(p schema.OnDelete) string {
	switch p {
	case schema.Cascade:
		return "CASCADE"
	case schema.SetNull:
		return "SET NULL"
	default:
		return "RESTRICT"
	}
}

// literal renders a default value for a column of kind k.
func literal(k schema.Kind, v string, boolean func(bool) string) string {
	switch k {
	case schema.Int, schema.BigInt, schema.Decimal, schema.FK:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return v
		}
	case schema.Bool:
		if b, err := strconv.ParseBool(v); err == nil {
			return boolean(b)
		}
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func nullability(f schema.Field) string {
	if f.Null {
		return " NULL"
	}
	return " NOT NULL"
}

func quoteAll(d Dialect, names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = d.Quote(n)
	}
	return strings.Join(q, ", ")
}

func uniqueIndexes(d Dialect, t Table) []string {
	var out []string
	for _, c := range t.Columns {
		if c.Unique && !c.Primary {
			out = append(out, d.CreateUniqueIndex(t.Name, []string{c.Name})...)
		}
	}
	for _, set := range t.Unique {
		out = append(out, d.CreateUniqueIndex(t.Name, set)...)
	}
	return out
}

// renamedSets returns the unique sets of after that contain to, paired with
// the same sets spelled with the column's previous name.
func renamedSets(after Table, from string, to Column) (olds, news [][]string) {
	if to.Unique {
		olds = append(olds, []string{from})
		news = append(news, []string{to.Name})
	}
	for _, set := range after.Unique {
		old := make([]string, len(set))
		hit := false
		for i, n := range set {
			old[i] = n
			if n == to.Name {
				old[i] = from
				hit = true
			}
		}
		if hit {
			olds = append(olds, old)
			news = append(news, set)
		}
	}
	return olds, news
}

func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteString("$" + strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func scanCount(row *sql.Row) (bool, error) {
	var n int64
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
