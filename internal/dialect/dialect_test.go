package dialect

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mirajehossain/graphmigrate/internal/schema"
)

func market() Table {
	return Table{
		Name: "markets_market",
		Columns: []Column{
			{Field: schema.Field{Name: "id", Kind: schema.BigInt, Primary: true}},
			{Field: schema.Field{Name: "name", Kind: schema.Char, MaxLength: 160, Unique: true}},
			{Field: schema.Field{Name: "town", Kind: schema.Char, MaxLength: 100, Null: true, Default: schema.Str("")}},
		},
	}
}

func TestFor(t *testing.T) {
	for name, want := range map[string]string{"": "mysql", "MySQL": "mysql", "pgx": "postgres", "postgresql": "postgres", "sqlite3": "sqlite"} {
		d, err := For(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d.Name())
	}
	_, err := For("oracle")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = '?' AND c = $2", Postgres{}.Rebind("SELECT 1 FROM t WHERE a = ? AND b = '?' AND c = ?"))
	assert.Equal(t, "a = ?", MySQL{}.Rebind("a = ?"))
}

func TestMySQLCreateTable(t *testing.T) {
	tbl := market()
	tbl.Columns = append(tbl.Columns, Column{
		Field:    schema.Field{Name: "region_id", Kind: schema.FK, Ref: &schema.Ref{Entity: "region", OnDelete: schema.Cascade}},
		RefTable: "world_region", RefColumn: "id",
	})
	stmts := MySQL{}.CreateTable(tbl)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, stmts[0], "`town` VARCHAR(100) NULL DEFAULT ''")
	assert.Contains(t, stmts[0], "CONSTRAINT `markets_market_region_id_fk` FOREIGN KEY (`region_id`) REFERENCES `world_region` (`id`) ON DELETE CASCADE")
	assert.Equal(t, "CREATE UNIQUE INDEX `markets_market_name_uniq` ON `markets_market` (`name`)", stmts[1])
}

func TestRenameColumnKeepsIndexes(t *testing.T) {
	after := market()
	after.Columns[2].Name = "location"
	after.Unique = [][]string{{"name", "location"}}
	to := after.Columns[2]

	assert.Equal(t, []string{
		"ALTER TABLE `markets_market` RENAME COLUMN `town` TO `location`",
		"ALTER TABLE `markets_market` RENAME INDEX `markets_market_name_town_uniq` TO `markets_market_name_location_uniq`",
	}, MySQL{}.RenameColumn(after, "town", to))

	assert.Equal(t, []string{
		`ALTER TABLE "markets_market" RENAME COLUMN "town" TO "location"`,
		`ALTER INDEX "markets_market_name_town_uniq" RENAME TO "markets_market_name_location_uniq"`,
	}, Postgres{}.RenameColumn(after, "town", to))
}

func TestPostgresAlterColumn(t *testing.T) {
	old := Column{Field: schema.Field{Name: "notes", Kind: schema.Text, Null: true}}
	next := Column{Field: schema.Field{Name: "notes", Kind: schema.Char, MaxLength: 500, Default: schema.Str("")}}
	assert.Equal(t, []string{
		`ALTER TABLE "t" ALTER COLUMN "notes" TYPE VARCHAR(500) USING "notes"::VARCHAR(500)`,
		`ALTER TABLE "t" ALTER COLUMN "notes" SET NOT NULL`,
		`ALTER TABLE "t" ALTER COLUMN "notes" SET DEFAULT ''`,
	}, Postgres{}.AlterColumn(Table{Name: "t"}, old, next))
}

func TestExtensions(t *testing.T) {
	stmts, err := Postgres{}.CreateExtension("spatial")
	require.NoError(t, err)
	assert.Equal(t, []string{`CREATE EXTENSION IF NOT EXISTS "postgis"`}, stmts)

	stmts, err = MySQL{}.CreateExtension("spatial")
	require.NoError(t, err)
	assert.Empty(t, stmts)
	_, err = MySQL{}.CreateExtension("hstore")
	assert.Error(t, err)

	stmts, err = SQLite{}.CreateExtension("fts5")
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

func TestBenign(t *testing.T) {
	assert.True(t, MySQL{}.Benign(&mysql.MySQLError{Number: 1060, Message: "Duplicate column name"}))
	assert.False(t, MySQL{}.Benign(&mysql.MySQLError{Number: 1406, Message: "Data too long"}))
	assert.True(t, Postgres{}.Benign(&pgconn.PgError{Code: "42701"}))
	assert.False(t, Postgres{}.Benign(errors.New("42701")))
	assert.False(t, SQLite{}.Benign(errors.New("duplicate column name")))
}

func TestSQLiteRebuildPreservesRows(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "d.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	d := SQLite{}

	for _, s := range d.CreateTable(market()) {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO markets_market (name, town) VALUES ('Wakulima', 'Nairobi'), ('Kibuye', NULL)`)
	require.NoError(t, err)

	after := market()
	old := after.Columns[2]
	after.Columns[2].Field = schema.Field{Name: "town", Kind: schema.Char, MaxLength: 120, Null: true}
	for _, s := range d.AlterColumn(after, old, after.Columns[2]) {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM markets_market WHERE town IS NULL`).Scan(&n))
	assert.Equal(t, 1, n)
	ok, err := d.HasColumn(ctx, db, "markets_market", "town")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.HasTable(ctx, db, "markets_market__rebuild")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.Exec(`INSERT INTO markets_market (name) VALUES ('Wakulima')`)
	assert.Error(t, err, "unique index survives the rebuild")
}
