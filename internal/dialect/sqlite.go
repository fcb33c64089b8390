package dialect

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// SQLite runs DDL inside transactions. It cannot change a column's type in
// place, so type changes rebuild the table from its full shape.
type SQLite struct{}

func (SQLite) Name() string               { return "sqlite" }
func (SQLite) Quote(ident string) string  { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }
func (SQLite) Rebind(query string) string { return query }
func (SQLite) TransactionalDDL() bool     { return true }
func (SQLite) Length() string             { return "length" }
func (SQLite) CastText(e string) string   { return "CAST(" + e + " AS TEXT)" }

func (SQLite) ColumnType(f schema.Field) string {
	switch f.Kind {
	case schema.Char:
		return fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
	case schema.Text:
		return "TEXT"
	case schema.Int, schema.BigInt, schema.FK:
		return "INTEGER"
	case schema.Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", f.Precision, f.Scale)
	case schema.Bool:
		return "BOOLEAN"
	case schema.Timestamp:
		return "DATETIME"
	}
	return "TEXT"
}

func (SQLite) Literal(k schema.Kind, v string) string { return literal(k, v, sqliteBool) }

func sqliteBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d SQLite) columnDef(c Column) string {
	def := d.Quote(c.Name) + " " + d.ColumnType(c.Field)
	if c.Primary {
		if c.Kind == schema.Int || c.Kind == schema.BigInt {
			return d.Quote(c.Name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
		}
		return def + " PRIMARY KEY"
	}
	def += nullability(c.Field)
	if c.Default != nil {
		def += " DEFAULT " + literal(c.Kind, *c.Default, sqliteBool)
	}
	if c.Kind == schema.FK && c.RefTable != "" {
		def += fmt.Sprintf(" REFERENCES %s (%s) ON DELETE %s", d.Quote(c.RefTable), d.Quote(c.RefColumn), onDelete(c.Ref.OnDelete))
	}
	return def
}

func (d SQLite) createTable(name string, t Table) string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = "  " + d.columnDef(c)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", d.Quote(name), strings.Join(parts, ",\n"))
}

func (d SQLite) CreateTable(t Table) []string {
	return append([]string{d.createTable(t.Name, t)}, uniqueIndexes(d, t)...)
}

func (d SQLite) DropTable(table string) []string {
	return []string{"DROP TABLE " + d.Quote(table)}
}

// rebuild copies after's columns into a fresh table that then takes the
// original's place. Values are converted by the new column affinity.
func (d SQLite) rebuild(after Table) []string {
	tmp := after.Name + "__rebuild"
	cols := make([]string, len(after.Columns))
	for i, c := range after.Columns {
		cols[i] = d.Quote(c.Name)
	}
	out := []string{
		d.createTable(tmp, after),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", d.Quote(tmp), strings.Join(cols, ", "), strings.Join(cols, ", "), d.Quote(after.Name)),
		"DROP TABLE " + d.Quote(after.Name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(tmp), d.Quote(after.Name)),
	}
	return append(out, uniqueIndexes(d, after)...)
}

func (d SQLite) AddColumn(after Table, c Column) []string {
	out := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(after.Name), d.columnDef(c))}
	if c.Unique {
		out = append(out, d.CreateUniqueIndex(after.Name, []string{c.Name})...)
	}
	return out
}

// DropColumn rebuilds: DROP COLUMN refuses indexed and referencing columns,
// and after no longer says which indexes covered c.
func (d SQLite) DropColumn(after Table, c Column) []string {
	return d.rebuild(after)
}

func (d SQLite) RenameColumn(after Table, from string, to Column) []string {
	out := []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.Quote(after.Name), d.Quote(from), d.Quote(to.Name))}
	olds, news := renamedSets(after, from, to)
	for i := range olds {
		out = append(out, d.DropUniqueIndex(after.Name, olds[i])...)
		out = append(out, d.CreateUniqueIndex(after.Name, news[i])...)
	}
	return out
}

func (d SQLite) AlterColumn(after Table, old, new Column) []string {
	return d.rebuild(after)
}

func (d SQLite) CreateUniqueIndex(table string, cols []string) []string {
	return []string{fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", d.Quote(IndexName(table, cols)), d.Quote(table), quoteAll(d, cols))}
}

func (d SQLite) DropUniqueIndex(table string, cols []string) []string {
	return []string{"DROP INDEX IF EXISTS " + d.Quote(IndexName(table, cols))}
}

// CreateExtension accepts the modules compiled into the driver; spatial
// indexing is served by rtree.
func (SQLite) CreateExtension(name string) ([]string, error) {
	switch strings.ToLower(name) {
	case "json", "json1", "fts5", "rtree", "spatial":
		return nil, nil
	}
	return nil, fmt.Errorf("sqlite has no extension %q", name)
}

func (SQLite) HasTable(ctx context.Context, q DBTX, table string) (bool, error) {
	return scanCount(q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table))
}

func (SQLite) HasColumn(ctx context.Context, q DBTX, table, column string) (bool, error) {
	return scanCount(q.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column))
}

// Benign is never consulted: SQLite nodes roll back as a whole.
func (SQLite) Benign(error) bool { return false }
