// Package ledger persists which migration nodes are applied. The table is
// append-only: applying, reverting and repairing a node each add a row, and
// the applied set is the fold of the latest row per node.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/mirajehossain/graphmigrate/internal/db"
	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/graph"
)

type Action string

const (
	Apply  Action = "apply"
	Fake   Action = "fake"
	Revert Action = "revert"
	Repair Action = "repair"
	// Failed rows are audit only; they never change the applied set.
	Failed Action = "failed"
)

// Applies reports whether a row with this action leaves its node applied.
func (a Action) Applies() bool { return a == Apply || a == Fake || a == Repair }

type Record struct {
	ID         int64
	Module     string
	Node       string
	Action     Action
	Run        int64
	RunID      string
	Checksum   string
	AppliedAt  time.Time
	AppliedBy  string
	DurationMS int64
}

func (r Record) NodeID() graph.NodeID { return graph.NodeID{Module: r.Module, Name: r.Node} }

// Store reads and appends ledger rows. Writes take an explicit executor so
// they can join the node's transaction.
type Store struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	Table   string
}

func New(database *sql.DB, d dialect.Dialect, table string) *Store {
	return &Store{DB: database, Dialect: d, Table: table}
}

func (s *Store) Ensure(ctx context.Context) error {
	return db.EnsureTable(ctx, s.DB, s.Dialect.Name(), s.Table)
}

const columns = `id, module, node_name, action, run, run_id, checksum, applied_at, applied_by, duration_ms`

// History returns every row in insertion order.
func (s *Store) History(ctx context.Context) ([]Record, error) {
	return s.query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, columns, s.Table))
}

// Applied folds the ledger into the currently applied nodes, keyed by id,
// each with the row that applied it.
func (s *Store) Applied(ctx context.Context) (map[graph.NodeID]Record, error) {
	recs, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	return Fold(recs), nil
}

// AppliedAsOf is Applied as it stood when run finished.
func (s *Store) AppliedAsOf(ctx context.Context, run int64) (map[graph.NodeID]Record, error) {
	recs, err := s.query(ctx, s.Dialect.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE run <= ? ORDER BY id`, columns, s.Table)), run)
	if err != nil {
		return nil, err
	}
	return Fold(recs), nil
}

func (s *Store) HasApplied(ctx context.Context, id graph.NodeID) (bool, error) {
	q := s.Dialect.Rebind(fmt.Sprintf(`SELECT action FROM %s WHERE module = ? AND node_name = ? AND action <> ? ORDER BY id DESC LIMIT 1`, s.Table))
	var action string
	err := s.DB.QueryRowContext(ctx, q, id.Module, id.Name, string(Failed)).Scan(&action)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return Action(action).Applies(), nil
}

// NextRun returns the sequence number for a new run.
func (s *Store) NextRun(ctx context.Context) (int64, error) {
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(run), 0) FROM %s`, s.Table))
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}

// Record appends rec through q.
func (s *Store) Record(ctx context.Context, q dialect.DBTX, rec Record) error {
	if rec.Action == "" {
		rec.Action = Apply
	}
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, s.Dialect.Rebind(fmt.Sprintf(`
INSERT INTO %s (module, node_name, action, run, run_id, checksum, applied_at, applied_by, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.Table)),
		rec.Module, rec.Node, string(rec.Action), rec.Run, rec.RunID, rec.Checksum, rec.AppliedAt, rec.AppliedBy, rec.DurationMS,
	)
	return err
}

// Unrecord marks the node reverted. Earlier rows stay for audit.
func (s *Store) Unrecord(ctx context.Context, q dialect.DBTX, rec Record) error {
	rec.Action = Revert
	return s.Record(ctx, q, rec)
}

// Run summarises one invocation of the runner.
type Run struct {
	Run     int64
	RunID   string
	Started time.Time
	Events  int
}

func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	recs, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	var out []Run
	index := map[int64]int{}
	for _, r := range recs {
		i, ok := index[r.Run]
		if !ok {
			i = len(out)
			index[r.Run] = i
			out = append(out, Run{Run: r.Run, RunID: r.RunID, Started: r.AppliedAt})
		}
		out[i].Events++
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Run < out[j].Run })
	return out, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var action string
		if err := rows.Scan(&r.ID, &r.Module, &r.Node, &action, &r.Run, &r.RunID, &r.Checksum, &r.AppliedAt, &r.AppliedBy, &r.DurationMS); err != nil {
			return nil, err
		}
		r.Action = Action(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Fold reduces rows in insertion order to the applied set.
func Fold(recs []Record) map[graph.NodeID]Record {
	out := map[graph.NodeID]Record{}
	for _, r := range recs {
		switch {
		case r.Action == Failed:
		case r.Action.Applies():
			out[r.NodeID()] = r
		default:
			delete(out, r.NodeID())
		}
	}
	return out
}
