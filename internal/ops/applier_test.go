package ops

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/logger"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func customers() CreateEntity {
	return CreateEntity{
		Entity: "customer",
		Table:  "customers_customer",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.Int, Primary: true},
			{Name: "name", Kind: schema.Char, MaxLength: 500},
			{Name: "location", Kind: schema.Char, MaxLength: 100, Null: true},
		},
	}
}

func apply(t *testing.T, a Applier, db *sql.DB, st *schema.State, list ...Operation) *schema.State {
	t.Helper()
	for _, op := range list {
		next, err := a.Apply(context.Background(), db, st, op)
		require.NoError(t, err, op.Describe())
		st = next
	}
	return st
}

func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		out = append(out, n)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestApplyRenameKeepsValues(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers())

	_, err := db.Exec(`INSERT INTO customers_customer (name, location) VALUES ('Amina', 'active')`)
	require.NoError(t, err)

	st = apply(t, a, db, st, RenameField{Entity: "customer", From: "location", To: "village"})
	assert.Equal(t, []string{"id", "name", "village"}, columns(t, db, "customers_customer"))

	var v string
	require.NoError(t, db.QueryRow(`SELECT village FROM customers_customer`).Scan(&v))
	assert.Equal(t, "active", v)

	e, _ := st.Entity("customer")
	_, ok := e.Field("location")
	assert.False(t, ok)
}

func TestApplyDoesNotModifyInputState(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers())

	next, err := a.Apply(context.Background(), db, st, AddField{Entity: "customer", Field: schema.Field{Name: "age", Kind: schema.Int, Null: true}})
	require.NoError(t, err)

	before, _ := st.Entity("customer")
	after, _ := next.Entity("customer")
	assert.Len(t, before.Fields, 3)
	assert.Len(t, after.Fields, 4)
}

func TestAddFieldNotNullNeedsDefault(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers())

	_, err := a.Apply(context.Background(), db, st, AddField{Entity: "customer", Field: schema.Field{Name: "sex", Kind: schema.Char, MaxLength: 8}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a default")
	assert.NotContains(t, columns(t, db, "customers_customer"), "sex")
}

func TestNarrowingRefusesLongValues(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers())
	_, err := db.Exec(`INSERT INTO customers_customer (name) VALUES (?), (?)`, strings.Repeat("x", 20), "short")
	require.NoError(t, err)

	narrow := AlterField{Entity: "customer", Field: schema.Field{Name: "name", Kind: schema.Char, MaxLength: 14}}
	_, err = a.Apply(context.Background(), db, st, narrow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataLoss), err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM customers_customer WHERE length(name) = 20`).Scan(&n))
	assert.Equal(t, 1, n, "refused change must leave values untouched")

	a.AllowDataLoss = true
	next, err := a.Apply(context.Background(), db, st, narrow)
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(`SELECT MAX(length(name)) FROM customers_customer`).Scan(&n))
	assert.Equal(t, 14, n)

	e, _ := next.Entity("customer")
	f, _ := e.Field("name")
	assert.Equal(t, 14, f.MaxLength)
}

func TestWideningRunsWithoutChecks(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers())
	_, err := db.Exec(`INSERT INTO customers_customer (name) VALUES ('Juma')`)
	require.NoError(t, err)

	apply(t, a, db, st, AlterField{Entity: "customer", Field: schema.Field{Name: "name", Kind: schema.Text}})

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM customers_customer`).Scan(&name))
	assert.Equal(t, "Juma", name)
}

func TestNotNullFillsDefault(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers())
	_, err := db.Exec(`INSERT INTO customers_customer (name, location) VALUES ('a', NULL), ('b', 'Nakuru')`)
	require.NoError(t, err)

	tighten := AlterField{Entity: "customer", Field: schema.Field{Name: "location", Kind: schema.Char, MaxLength: 100}}
	_, err = a.Apply(context.Background(), db, st, tighten)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 rows are NULL")

	tighten.Field.Default = schema.Str("")
	apply(t, a, db, st, tighten)

	var nulls int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM customers_customer WHERE location IS NULL`).Scan(&nulls))
	assert.Zero(t, nulls)
}

func TestUniqueTogetherDiff(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers(),
		AlterUniqueTogether{Entity: "customer", Sets: [][]string{{"name", "location"}}})

	_, err := db.Exec(`INSERT INTO customers_customer (name, location) VALUES ('a', 'x'), ('a', 'x')`)
	require.Error(t, err)

	apply(t, a, db, st, AlterUniqueTogether{Entity: "customer"})
	_, err = db.Exec(`INSERT INTO customers_customer (name, location) VALUES ('a', 'x'), ('a', 'x')`)
	require.NoError(t, err)
}

func TestCreateExtensionTwice(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), CreateExtension{Name: "json"}, CreateExtension{Name: "json"})
	assert.True(t, st.HasExtension("json"))

	_, err := a.Apply(context.Background(), db, st, CreateExtension{Name: "postgis"})
	assert.True(t, errors.Is(err, ErrUnsupported), err)
}

func TestStatementsPostgresForeignKey(t *testing.T) {
	a := Applier{Dialect: dialect.Postgres{}}
	st := schema.NewState()
	st, _, err := a.Statements(st, customers())
	require.NoError(t, err)
	st, _, err = a.Statements(st, CreateEntity{Entity: "market", Table: "markets_market", Fields: []schema.Field{{Name: "id", Kind: schema.Int, Primary: true}}})
	require.NoError(t, err)

	_, stmts, err := a.Statements(st, AddField{Entity: "customer", Field: schema.Field{
		Name: "market_id", Kind: schema.FK, Null: true, Ref: &schema.Ref{Entity: "market", OnDelete: schema.SetNull},
	}})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], `REFERENCES "markets_market" ("id") ON DELETE SET NULL`)
}

func TestResumeSkipsAppliedColumn(t *testing.T) {
	db := openSQLite(t)
	a := Applier{Dialect: dialect.SQLite{}, Log: logger.Nop()}
	st := apply(t, a, db, schema.NewState(), customers())
	add := AddField{Entity: "customer", Field: schema.Field{Name: "age", Kind: schema.Int, Null: true}}
	apply(t, a, db, st, add)

	a.Resume = true
	next, err := a.Apply(context.Background(), db, st, add)
	require.NoError(t, err)
	e, _ := next.Entity("customer")
	_, ok := e.Field("age")
	assert.True(t, ok)
}

func TestReverse(t *testing.T) {
	st := schema.NewState()
	require.NoError(t, customers().Mutate(st))

	rev, err := RenameField{Entity: "customer", From: "location", To: "village"}.Reverse(st)
	require.NoError(t, err)
	assert.Equal(t, RenameField{Entity: "customer", From: "village", To: "location"}, rev)

	rev, err = RemoveField{Entity: "customer", Field: "location"}.Reverse(st)
	require.NoError(t, err)
	assert.Equal(t, "location", rev.(AddField).Field.Name)

	_, err = RemoveField{Entity: "customer", Field: "name"}.Reverse(st)
	assert.True(t, errors.Is(err, ErrIrreversible))

	rev, err = AlterField{Entity: "customer", Field: schema.Field{Name: "name", Kind: schema.Text}}.Reverse(st)
	require.NoError(t, err)
	assert.Equal(t, 500, rev.(AlterField).Field.MaxLength)

	rev, err = CreateExtension{Name: "json"}.Reverse(st)
	assert.NoError(t, err)
	assert.Nil(t, rev)
}
