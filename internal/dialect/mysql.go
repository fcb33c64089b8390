package dialect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// MySQL commits DDL implicitly, so nodes run against it are resume-unsafe
// checkpoints: the applier re-checks each change before repeating it.
type MySQL struct{}

const (
	mysqlTableExists   = 1050
	mysqlUnknownTable  = 1051
	mysqlDupFieldName  = 1060
	mysqlDupKeyName    = 1061
	mysqlCantDropField = 1091
	mysqlDupConstraint = 1826
)

func (MySQL) Name() string               { return "mysql" }
func (MySQL) Quote(ident string) string  { return "`" + strings.ReplaceAll(ident, "`", "``") + "`" }
func (MySQL) Rebind(query string) string { return query }
func (MySQL) TransactionalDDL() bool     { return false }
func (MySQL) Length() string             { return "CHAR_LENGTH" }
func (MySQL) CastText(e string) string   { return "CAST(" + e + " AS CHAR)" }

func (MySQL) ColumnType(f schema.Field) string {
	switch f.Kind {
	case schema.Char:
		return fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
	case schema.Text:
		return "LONGTEXT"
	case schema.Int:
		return "INT"
	case schema.BigInt, schema.FK:
		return "BIGINT"
	case schema.Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", f.Precision, f.Scale)
	case schema.Bool:
		return "TINYINT(1)"
	case schema.Timestamp:
		return "DATETIME(6)"
	}
	return "LONGTEXT"
}

func (d MySQL) columnDef(c Column) string {
	def := d.Quote(c.Name) + " " + d.ColumnType(c.Field)
	if c.Primary {
		if c.Kind == schema.Int || c.Kind == schema.BigInt {
			return def + " NOT NULL AUTO_INCREMENT PRIMARY KEY"
		}
		return def + " NOT NULL PRIMARY KEY"
	}
	def += nullability(c.Field)
	if c.Default != nil && c.Kind != schema.Text {
		def += " DEFAULT " + literal(c.Kind, *c.Default, mysqlBool)
	}
	return def
}

func (MySQL) Literal(k schema.Kind, v string) string { return literal(k, v, mysqlBool) }

func mysqlBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d MySQL) foreignKey(table string, c Column) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
		d.Quote(ConstraintName(table, c.Name)), d.Quote(c.Name),
		d.Quote(c.RefTable), d.Quote(c.RefColumn), onDelete(c.Ref.OnDelete))
}

func (d MySQL) CreateTable(t Table) []string {
	var parts []string
	for _, c := range t.Columns {
		parts = append(parts, "  "+d.columnDef(c))
	}
	for _, c := range t.Columns {
		if c.Kind == schema.FK && c.RefTable != "" {
			parts = append(parts, "  "+d.foreignKey(t.Name, c))
		}
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", d.Quote(t.Name), strings.Join(parts, ",\n"))
	return append([]string{stmt}, uniqueIndexes(d, t)...)
}

func (d MySQL) DropTable(table string) []string {
	return []string{"DROP TABLE " + d.Quote(table)}
}

func (d MySQL) AddColumn(after Table, c Column) []string {
	table := after.Name
	out := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), d.columnDef(c))}
	if c.Kind == schema.FK && c.RefTable != "" {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD %s", d.Quote(table), d.foreignKey(table, c)))
	}
	if c.Unique {
		out = append(out, d.CreateUniqueIndex(table, []string{c.Name})...)
	}
	return out
}

func (d MySQL) DropColumn(after Table, c Column) []string {
	table := after.Name
	var out []string
	if c.Kind == schema.FK {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.Quote(table), d.Quote(ConstraintName(table, c.Name))))
	}
	return append(out, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.Quote(c.Name)))
}

func (d MySQL) RenameColumn(after Table, from string, to Column) []string {
	t := d.Quote(after.Name)
	var out []string
	if to.Kind == schema.FK && to.RefTable != "" {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", t, d.Quote(ConstraintName(after.Name, from))))
	}
	out = append(out, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", t, d.Quote(from), d.Quote(to.Name)))
	if to.Kind == schema.FK && to.RefTable != "" {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD %s", t, d.foreignKey(after.Name, to)))
	}
	olds, news := renamedSets(after, from, to)
	for i := range olds {
		out = append(out, fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s", t,
			d.Quote(IndexName(after.Name, olds[i])), d.Quote(IndexName(after.Name, news[i]))))
	}
	return out
}

func (d MySQL) AlterColumn(after Table, old, new Column) []string {
	var out []string
	refChanged := old.Kind == schema.FK && (new.Kind != schema.FK || *old.Ref != *new.Ref)
	if refChanged {
		out = append(out, fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.Quote(after.Name), d.Quote(ConstraintName(after.Name, old.Name))))
	}
	out = append(out, fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.Quote(after.Name), d.columnDef(new)))
	if new.Kind == schema.FK && (old.Kind != schema.FK || refChanged) {
		out = append(out, fmt.Sprintf("ALTER TABLE %s ADD %s", d.Quote(after.Name), d.foreignKey(after.Name, new)))
	}
	switch {
	case new.Unique && !old.Unique:
		out = append(out, d.CreateUniqueIndex(after.Name, []string{new.Name})...)
	case old.Unique && !new.Unique:
		out = append(out, d.DropUniqueIndex(after.Name, []string{old.Name})...)
	}
	return out
}

func (d MySQL) CreateUniqueIndex(table string, cols []string) []string {
	return []string{fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", d.Quote(IndexName(table, cols)), d.Quote(table), quoteAll(d, cols))}
}

func (d MySQL) DropUniqueIndex(table string, cols []string) []string {
	return []string{fmt.Sprintf("DROP INDEX %s ON %s", d.Quote(IndexName(table, cols)), d.Quote(table))}
}

// CreateExtension accepts capabilities MySQL ships with.
func (MySQL) CreateExtension(name string) ([]string, error) {
	switch strings.ToLower(name) {
	case "spatial", "postgis", "json":
		return nil, nil
	}
	return nil, fmt.Errorf("mysql has no extension %q", name)
}

func (MySQL) HasTable(ctx context.Context, q DBTX, table string) (bool, error) {
	return scanCount(q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`, table))
}

func (MySQL) HasColumn(ctx context.Context, q DBTX, table, column string) (bool, error) {
	return scanCount(q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`, table, column))
}

func (MySQL) Benign(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case mysqlDupFieldName, mysqlDupKeyName, mysqlCantDropField, mysqlTableExists, mysqlUnknownTable, mysqlDupConstraint:
		return true
	}
	return false
}
