package backfill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/graphmigrate/internal/db"
	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

func fixture(t *testing.T, rows int) (*sql.DB, *schema.State) {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "bf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	_, err = database.Exec(`CREATE TABLE core_task (id INTEGER PRIMARY KEY AUTOINCREMENT, description TEXT NOT NULL, status VARCHAR(20) NULL, owner TEXT NULL)`)
	require.NoError(t, err)
	statuses := []any{"open", "closed", nil, "complete", "archived", ""}
	for i := 0; i < rows; i++ {
		_, err := database.Exec(`INSERT INTO core_task (description, status) VALUES (?, ?)`, fmt.Sprintf("task %d", i), statuses[i%len(statuses)])
		require.NoError(t, err)
	}

	st := schema.NewState()
	// owner exists in the table but not in this snapshot
	require.NoError(t, st.CreateEntity("task", "core_task", []schema.Field{
		{Name: "id", Kind: schema.BigInt, Primary: true},
		{Name: "description", Kind: schema.Text},
		{Name: "status", Kind: schema.Char, MaxLength: 20, Null: true},
	}, nil))
	return database, st
}

func statuses(t *testing.T, database *sql.DB) map[string]int {
	t.Helper()
	rows, err := database.Query(`SELECT COALESCE(status, '<null>') FROM core_task`)
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out[s]++
	}
	require.NoError(t, rows.Err())
	return out
}

func TestEachPagesInKeyOrder(t *testing.T) {
	database, st := fixture(t, 23)
	v := NewView(database, dialect.SQLite{}, st, 5)

	var seen []int64
	err := v.Each(context.Background(), "task", func(r Row) error {
		seen = append(seen, r.PK().(int64))
		_, hasOwner := r.Values["owner"]
		assert.False(t, hasOwner)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 23)
	for i := range seen {
		assert.Equal(t, int64(i+1), seen[i])
	}
}

func TestViewRejectsFieldsOutsideSnapshot(t *testing.T) {
	database, st := fixture(t, 1)
	v := NewView(database, dialect.SQLite{}, st, 0)
	ctx := context.Background()

	_, err := v.UpdateWhere(ctx, "task", map[string]any{"owner": "amina"}, nil)
	assert.Error(t, err)
	_, err = v.Count(ctx, "task", Where{"owner": nil})
	assert.Error(t, err)
	assert.Error(t, v.Insert(ctx, "task", map[string]any{"description": "x", "owner": "y"}))
	assert.Error(t, v.Each(ctx, "customer", func(Row) error { return nil }))
	assert.Zero(t, v.Updated())
}

func TestFillAndMap(t *testing.T) {
	database, st := fixture(t, 12)
	ctx := context.Background()
	exec := Executor{Dialect: dialect.SQLite{}, BatchSize: 4}

	res, err := exec.Run(ctx, database, st, Fill{Entity: "task", Field: "status", Value: "", Empty: false})
	require.NoError(t, err)
	assert.Equal(t, "fill_task_status", res.Step)
	assert.Equal(t, int64(2), res.Rows)
	assert.Zero(t, statuses(t, database)["<null>"])

	m := Map{
		StepName: "update_task_statuses",
		Entity:   "task",
		Field:    "status",
		Mapping:  map[string]string{"open": "new", "closed": "completed", "complete": "completed"},
		Default:  schema.Str("new"),
	}
	_, err = exec.Run(ctx, database, st, m)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"new": 8, "completed": 4}, statuses(t, database))

	// a second pass changes nothing
	res, err = exec.Run(ctx, database, st, m)
	require.NoError(t, err)
	assert.Zero(t, res.Rows)
}

func TestMapRejectsChains(t *testing.T) {
	m := Map{Entity: "task", Field: "status", Mapping: map[string]string{"a": "b", "b": "c"}}
	assert.True(t, errors.Is(m.Validate(), ErrChainedMapping))
	m = Map{Entity: "task", Field: "status", Mapping: map[string]string{"a": "b"}, Default: schema.Str("a")}
	assert.True(t, errors.Is(m.Validate(), ErrChainedMapping))
	m = Map{Entity: "task", Field: "status", Mapping: map[string]string{"a": "b", "b": "b"}}
	assert.NoError(t, m.Validate())
	m.Default = schema.Str("b")
	assert.NoError(t, m.Validate())
	m.Mapping["c"] = "a"
	assert.True(t, errors.Is(m.Validate(), ErrChainedMapping))
}

func TestExecutorSkipsNoop(t *testing.T) {
	res, err := Executor{}.Run(context.Background(), nil, schema.NewState(), Noop{Reason: "lossy"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, IsNoop(&Noop{}))
	assert.False(t, IsNoop(Func{StepName: "x"}))
}

func TestFuncErrors(t *testing.T) {
	database, st := fixture(t, 3)
	boom := errors.New("boom")
	step := Func{StepName: "tag", Fn: func(ctx context.Context, v *View) error {
		if _, err := v.UpdateWhere(ctx, "task", map[string]any{"description": "tagged"}, nil); err != nil {
			return err
		}
		return boom
	}}
	res, err := Executor{Dialect: dialect.SQLite{}}.Run(context.Background(), database, st, step)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(3), res.Rows)
	assert.Error(t, Func{StepName: "empty"}.Run(context.Background(), nil))
}
