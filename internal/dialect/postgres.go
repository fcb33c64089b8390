package dialect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// Postgres runs DDL inside transactions.
type Postgres struct{}

func (Postgres) Name() string               { return "postgres" }
func (Postgres) Quote(ident string) string  { return pgx.Identifier{ident}.Sanitize() }
func (Postgres) Rebind(query string) string { return rebindDollar(query) }
func (Postgres) TransactionalDDL() bool     { return true }
func (Postgres) Length() string             { return "char_length" }
func (Postgres) CastText(e string) string   { return "CAST(" + e + " AS TEXT)" }

func (Postgres) ColumnType(f schema.Field) string {
	switch f.Kind {
	case schema.Char:
		return fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
	case schema.Text:
		return "TEXT"
	case schema.Int:
		return "INTEGER"
	case schema.BigInt, schema.FK:
		return "BIGINT"
	case schema.Decimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", f.Precision, f.Scale)
	case schema.Bool:
		return "BOOLEAN"
	case schema.Timestamp:
		return "TIMESTAMPTZ"
	}
	return "TEXT"
}

func (Postgres) Literal(k schema.Kind, v string) string { return literal(k, v, pgBool) }

func pgBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (d Postgres) columnDef(table string, c Column) string {
	def := d.Quote(c.Name) + " " + d.ColumnType(c.Field)
	if c.Primary {
		if c.Kind == schema.Int || c.Kind == schema.BigInt {
			return def + " GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
		}
		return def + " PRIMARY KEY"
	}
	def += nullability(c.Field)
	if c.Default != nil {
		def += " DEFAULT " + literal(c.Kind, *c.Default, pgBool)
	}
	if c.Kind == schema.FK && c.RefTable != "" {
		def += fmt.Sprintf(" CONSTRAINT %s REFERENCES %s (%s) ON DELETE %s",
			d.Quote(ConstraintName(table, c.Name)), d.Quote(c.RefTable), d.Quote(c.RefColumn), onDelete(c.Ref.OnDelete))
	}
	return def
}

func (d Postgres) CreateTable(t Table) []string {
	var parts []string
	for _, c := range t.Columns {
		parts = append(parts, "  "+d.columnDef(t.Name, c))
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.Quote(t.Name), strings.Join(parts, ",\n"))
	return append([]string{stmt}, uniqueIndexes(d, t)...)
}

func (d Postgres) DropTable(table string) []string {
	return []string{"DROP TABLE " + d.Quote(table)}
}

func (d Postgres) AddColumn(after Table, c Column) []string {
	table := after.Name
	out := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), d.columnDef(table, c))}
	if c.Unique {
		out = append(out, d.CreateUniqueIndex(table, []string{c.Name})...)
	}
	return out
}

func (d Postgres) DropColumn(after Table, c Column) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(after.Name), d.Quote(c.Name))}
}

func (d Postgres) RenameColumn(after Table, from string, to Column) []string {
	t := d.Quote(after.Name)
	out := []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", t, d.Quote(from), d.Quote(to.Name))}
	if to.Kind == schema.FK && to.RefTable != "" {
		out = append(out, fmt.Sprintf("ALTER TABLE %s RENAME CONSTRAINT %s TO %s", t,
			d.Quote(ConstraintName(after.Name, from)), d.Quote(ConstraintName(after.Name, to.Name))))
	}
	olds, news := renamedSets(after, from, to)
	for i := range olds {
		out = append(out, fmt.Sprintf("ALTER INDEX %s RENAME TO %s",
			d.Quote(IndexName(after.Name, olds[i])), d.Quote(IndexName(after.Name, news[i]))))
	}
	return out
}

func (d Postgres) AlterColumn(after Table, old, new Column) []string {
	t, col := d.Quote(after.Name), d.Quote(new.Name)
	var out []string
	refChanged := old.Kind == schema.FK && (new.Kind != schema.FK || *old.Ref != *new.Ref)
	if refChanged {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", t, d.Quote(ConstraintName(after.Name, old.Name))))
	}
	if d.ColumnType(old.Field) != d.ColumnType(new.Field) {
		typ := d.ColumnType(new.Field)
		out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", t, col, typ, col, typ))
	}
	if old.Null != new.Null {
		if new.Null {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", t, col))
		} else {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", t, col))
		}
	}
	switch {
	case new.Default != nil:
		out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", t, col, literal(new.Kind, *new.Default, pgBool)))
	case old.Default != nil:
		out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", t, col))
	}
	if new.Kind == schema.FK && (old.Kind != schema.FK || refChanged) {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
			t, d.Quote(ConstraintName(after.Name, new.Name)), col, d.Quote(new.RefTable), d.Quote(new.RefColumn), onDelete(new.Ref.OnDelete)))
	}
	switch {
	case new.Unique && !old.Unique:
		out = append(out, d.CreateUniqueIndex(after.Name, []string{new.Name})...)
	case old.Unique && !new.Unique:
		out = append(out, d.DropUniqueIndex(after.Name, []string{old.Name})...)
	}
	return out
}

func (d Postgres) CreateUniqueIndex(table string, cols []string) []string {
	return []string{fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", d.Quote(IndexName(table, cols)), d.Quote(table), quoteAll(d, cols))}
}

func (d Postgres) DropUniqueIndex(table string, cols []string) []string {
	return []string{"DROP INDEX " + d.Quote(IndexName(table, cols))}
}

func (d Postgres) CreateExtension(name string) ([]string, error) {
	switch strings.ToLower(name) {
	case "json":
		return nil, nil
	case "spatial":
		name = "postgis"
	}
	return []string{"CREATE EXTENSION IF NOT EXISTS " + d.Quote(name)}, nil
}

func (Postgres) HasTable(ctx context.Context, q DBTX, table string) (bool, error) {
	return scanCount(q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`, table))
}

func (Postgres) HasColumn(ctx context.Context, q DBTX, table, column string) (bool, error) {
	return scanCount(q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`, table, column))
}

// Benign recognises duplicate_column, undefined_column, duplicate_table,
// undefined_table and duplicate_object.
func (Postgres) Benign(err error) bool {
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case "42701", "42703", "42P07", "42P01", "42710":
		return true
	}
	return false
}
