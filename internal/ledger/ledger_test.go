package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/graphmigrate/internal/db"
	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/graph"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	s := New(database, dialect.SQLite{}, "schema_nodes")
	require.NoError(t, s.Ensure(context.Background()))
	return s
}

func rec(module, node string, run int64, action Action) Record {
	return Record{Module: module, Node: node, Run: run, RunID: "run", Checksum: "c", AppliedBy: "tester", Action: action}
}

func TestRecordUnrecordFold(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Record(ctx, s.DB, rec("customers", "0001_initial", 1, Apply)))
	require.NoError(t, s.Record(ctx, s.DB, rec("customers", "0002_phone", 1, Apply)))
	require.NoError(t, s.Record(ctx, s.DB, rec("markets", "0001_initial", 2, Fake)))
	require.NoError(t, s.Unrecord(ctx, s.DB, rec("customers", "0002_phone", 3, "")))
	require.NoError(t, s.Record(ctx, s.DB, rec("sms", "0001_initial", 3, Failed)))

	applied, err := s.Applied(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Contains(t, applied, graph.NodeID{Module: "customers", Name: "0001_initial"})
	assert.Contains(t, applied, graph.NodeID{Module: "markets", Name: "0001_initial"})

	ok, err := s.HasApplied(ctx, graph.NodeID{Module: "customers", Name: "0002_phone"})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.HasApplied(ctx, graph.NodeID{Module: "customers", Name: "0001_initial"})
	require.NoError(t, err)
	assert.True(t, ok)

	history, err := s.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 5, "reverting appends, it never deletes")
}

func TestAppliedAsOfRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Record(ctx, s.DB, rec("customers", "0001_initial", 1, Apply)))
	require.NoError(t, s.Record(ctx, s.DB, rec("customers", "0002_phone", 2, Apply)))
	require.NoError(t, s.Unrecord(ctx, s.DB, rec("customers", "0001_initial", 3, "")))

	asOf1, err := s.AppliedAsOf(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, asOf1, 1)

	asOf2, err := s.AppliedAsOf(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, asOf2, 2)

	now, err := s.Applied(ctx)
	require.NoError(t, err)
	assert.Len(t, now, 1)
	assert.Contains(t, now, graph.NodeID{Module: "customers", Name: "0002_phone"})

	next, err := s.NextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 1, runs[0].Events)
	assert.False(t, runs[0].Started.IsZero())
}

func TestRecordJoinsTransaction(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	tx, err := s.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, tx, rec("core", "0001_initial", 1, Apply)))
	require.NoError(t, tx.Rollback())

	applied, err := s.Applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestHasAppliedPostgresPlaceholders(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectQuery(`SELECT action FROM schema_nodes WHERE module = \$1 AND node_name = \$2 AND action <> \$3`).
		WithArgs("core", "0001_initial", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"action"}).AddRow("revert"))

	s := New(database, dialect.Postgres{}, "schema_nodes")
	ok, err := s.HasApplied(context.Background(), graph.NodeID{Module: "core", Name: "0001_initial"})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
