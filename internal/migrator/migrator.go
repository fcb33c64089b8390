package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mirajehossain/graphmigrate/internal/backfill"
	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ledger"
	"github.com/mirajehossain/graphmigrate/internal/logger"
	"github.com/mirajehossain/graphmigrate/internal/metrics"
	"github.com/mirajehossain/graphmigrate/internal/ops"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

type Options struct {
	Env           string
	AppliedBy     string
	AllowDataLoss bool
	DryRun        bool
	BatchSize     int
	Log           *logger.Logger
	Metrics       *metrics.Collector
}

// Progress is called around every node: stage is start, success or error.
type Progress func(stage string, id graph.NodeID, rec *ledger.Record, err error)

// Runner applies and reverts nodes one at a time against one environment.
type Runner struct {
	DB       *sql.DB
	Dialect  dialect.Dialect
	Ledger   *ledger.Store
	Registry *graph.Registry
	Opts     Options
	// RunID identifies this invocation in the ledger.
	RunID string

	run int64
}

func NewRunner(database *sql.DB, d dialect.Dialect, l *ledger.Store, reg *graph.Registry, opts Options) *Runner {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Env == "" {
		opts.Env = "default"
	}
	return &Runner{
		DB:       database,
		Dialect:  d,
		Ledger:   l,
		Registry: reg,
		Opts:     opts,
		RunID:    uuid.NewString(),
	}
}

func defaultAppliedBy() string {
	u, err := user.Current()
	if err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func (r *Runner) Ensure(ctx context.Context) error {
	if err := r.Ledger.Ensure(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(r.Opts.AppliedBy) == "" {
		r.Opts.AppliedBy = defaultAppliedBy()
	}
	return nil
}

// runNumber allocates the run sequence on first write.
func (r *Runner) runNumber(ctx context.Context) (int64, error) {
	if r.run > 0 {
		return r.run, nil
	}
	n, err := r.Ledger.NextRun(ctx)
	if err != nil {
		return 0, err
	}
	r.run = n
	return n, nil
}

func (r *Runner) record(id graph.NodeID, action ledger.Action, run int64, n *graph.Node) ledger.Record {
	return ledger.Record{
		Module:    id.Module,
		Node:      id.Name,
		Action:    action,
		Run:       run,
		RunID:     r.RunID,
		Checksum:  n.Checksum(),
		AppliedAt: time.Now().UTC(),
		AppliedBy: r.Opts.AppliedBy,
	}
}

// ApplyUp runs the plan's pending nodes in order. It stops at the first
// failure and returns the records written so far.
func (r *Runner) ApplyUp(ctx context.Context, plan *Plan, progress Progress) ([]ledger.Record, error) {
	if progress == nil {
		progress = func(string, graph.NodeID, *ledger.Record, error) {}
	}
	r.Opts.Metrics.Pending(r.Opts.Env, len(plan.Pending))
	if len(plan.Pending) == 0 {
		return nil, nil
	}
	state, err := r.physical(plan.Applied)
	if err != nil {
		return nil, err
	}
	run := int64(0)
	if !r.Opts.DryRun {
		if run, err = r.runNumber(ctx); err != nil {
			return nil, err
		}
	}
	done := map[graph.NodeID]bool{}
	for id := range plan.Applied {
		done[id] = true
	}
	out := make([]ledger.Record, 0, len(plan.Pending))
	for i, id := range plan.Pending {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, _ := r.Registry.Node(id)
		for _, d := range n.Deps {
			if !done[d] {
				return out, &nodeError{Node: id, Err: fmt.Errorf("prerequisite %s is not applied", d)}
			}
		}
		rec := r.record(id, ledger.Apply, run, n)
		progress("start", id, &rec, nil)

		start := time.Now()
		next, err := r.applyNode(ctx, n, state, &rec)
		if err != nil {
			r.Opts.Metrics.NodeFailed(r.Opts.Env, FailureKind(err))
			if !r.Opts.DryRun {
				r.recordFailure(id, run, n, time.Since(start))
			}
			progress("error", id, &rec, err)
			return out, err
		}
		state = next
		done[id] = true
		r.Opts.Metrics.NodeApplied(r.Opts.Env, id.Module, time.Since(start))
		r.Opts.Metrics.Pending(r.Opts.Env, len(plan.Pending)-i-1)
		progress("success", id, &rec, nil)
		out = append(out, rec)
	}
	return out, nil
}

// recordFailure keeps an audit row for a node that did not apply. It is
// best effort: the failure itself is what the caller reports.
func (r *Runner) recordFailure(id graph.NodeID, run int64, n *graph.Node, d time.Duration) {
	rec := r.record(id, ledger.Failed, run, n)
	rec.DurationMS = d.Milliseconds()
	if err := r.Ledger.Record(context.Background(), r.DB, rec); err != nil {
		r.Opts.Log.Warn("ledger.failure_row", map[string]any{"node": id.String(), "error": err})
	}
}

// physical folds every applied node, in graph order, into the shape the
// store has now.
func (r *Runner) physical(applied map[graph.NodeID]ledger.Record) (*schema.State, error) {
	order, err := r.Registry.Order()
	if err != nil {
		return nil, err
	}
	var ids []graph.NodeID
	for _, id := range order {
		if _, ok := applied[id]; ok {
			ids = append(ids, id)
		}
	}
	return r.Registry.Fold(ids)
}

// historical is the shape node id was written against: its prerequisites
// only, never nodes that merely ran earlier.
func (r *Runner) historical(id graph.NodeID) (*schema.State, error) {
	anc, err := r.Registry.Ancestors(id)
	if err != nil {
		return nil, err
	}
	return r.Registry.Fold(anc)
}

// applyNode runs one node and writes its record. Stores with transactional
// DDL get everything, the record included, in one transaction. Otherwise
// the node is a checkpoint: operations run in resume mode, the backfill in
// its own transaction, and the record is written last.
func (r *Runner) applyNode(ctx context.Context, n *graph.Node, state *schema.State, rec *ledger.Record) (*schema.State, error) {
	hist, err := r.historical(n.ID)
	if err != nil {
		return nil, &nodeError{Node: n.ID, Err: err}
	}
	start := time.Now()

	if r.Opts.DryRun {
		next, err := r.dryRun(n, state)
		if err != nil {
			return nil, err
		}
		return next, nil
	}

	if r.Dialect.TransactionalDDL() && n.IsAtomic() {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, &nodeError{Node: n.ID, Err: err}
		}
		next, err := r.forward(ctx, tx, true, n, state, hist)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		rec.DurationMS = time.Since(start).Milliseconds()
		if err := r.Ledger.Record(ctx, tx, *rec); err != nil {
			_ = tx.Rollback()
			return nil, &LedgerWriteError{Node: n.ID, Err: err}
		}
		if err := tx.Commit(); err != nil {
			return nil, &LedgerWriteError{Node: n.ID, Err: fmt.Errorf("commit: %w", err)}
		}
		return next, nil
	}

	r.Opts.Log.Warn("checkpoint.resume_unsafe", map[string]any{
		"node":    n.ID.String(),
		"dialect": r.Dialect.Name(),
		"atomic":  n.IsAtomic(),
	})
	next, err := r.forward(ctx, r.DB, false, n, state, hist)
	if err != nil {
		return nil, err
	}
	rec.DurationMS = time.Since(start).Milliseconds()
	if err := r.Ledger.Record(ctx, r.DB, *rec); err != nil {
		return nil, &LedgerWriteError{Node: n.ID, Err: err}
	}
	return next, nil
}

func (r *Runner) applier(resume bool) ops.Applier {
	return ops.Applier{Dialect: r.Dialect, AllowDataLoss: r.Opts.AllowDataLoss, Resume: resume, Log: r.Opts.Log}
}

// forward applies n's operations to state and runs its backfills against
// hist, the node's own view of the schema, advanced in step.
func (r *Runner) forward(ctx context.Context, q dialect.DBTX, inTx bool, n *graph.Node, state, hist *schema.State) (*schema.State, error) {
	a := r.applier(!inTx)
	for i, op := range n.Ops {
		if bf, ok := op.(ops.RunBackfill); ok {
			if err := r.backfill(ctx, q, inTx, n.ID, hist, bf.Forward); err != nil {
				return nil, err
			}
			continue
		}
		next, err := a.Apply(ctx, q, state, op)
		if err != nil {
			return nil, &OperationError{Node: n.ID, Index: i, Op: op.Describe(), Err: err}
		}
		state = next
		if err := op.Mutate(hist); err != nil {
			return nil, &OperationError{Node: n.ID, Index: i, Op: op.Describe(), Err: err}
		}
	}
	if n.Forward != nil {
		if err := r.backfill(ctx, q, inTx, n.ID, hist, n.Forward); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// backfill runs step on q, or in a transaction of its own when q is not one.
func (r *Runner) backfill(ctx context.Context, q dialect.DBTX, inTx bool, id graph.NodeID, snapshot *schema.State, step backfill.Step) error {
	exec := backfill.Executor{Dialect: r.Dialect, BatchSize: r.Opts.BatchSize}
	var res backfill.Result
	var err error
	if inTx {
		res, err = exec.Run(ctx, q, snapshot.Clone(), step)
	} else {
		var tx *sql.Tx
		if tx, err = r.DB.BeginTx(ctx, nil); err != nil {
			return &BackfillError{Node: id, Step: step.Name(), Err: err}
		}
		if res, err = exec.Run(ctx, tx, snapshot.Clone(), step); err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}
	if err != nil {
		return &BackfillError{Node: id, Step: step.Name(), Err: err}
	}
	r.Opts.Log.Debug("backfill.done", map[string]any{
		"node":        id.String(),
		"step":        res.Step,
		"rows":        res.Rows,
		"skipped":     res.Skipped,
		"duration_ms": res.Duration.Milliseconds(),
	})
	return nil
}

// dryRun renders the node without executing it.
func (r *Runner) dryRun(n *graph.Node, state *schema.State) (*schema.State, error) {
	a := r.applier(false)
	for i, op := range n.Ops {
		next, stmts, err := a.Statements(state, op)
		if err != nil {
			return nil, &OperationError{Node: n.ID, Index: i, Op: op.Describe(), Err: err}
		}
		for _, s := range stmts {
			r.Opts.Log.Info("plan.sql", map[string]any{"node": n.ID.String(), "sql": s})
		}
		state = next
	}
	return state, nil
}

// Fake records the pending nodes of target as applied without running them,
// for stores whose schema was created by other means.
func (r *Runner) Fake(ctx context.Context, target graph.Target) ([]ledger.Record, error) {
	plan, err := r.Plan(ctx, target)
	if err != nil {
		return nil, err
	}
	if r.Opts.DryRun || len(plan.Pending) == 0 {
		return nil, nil
	}
	run, err := r.runNumber(ctx)
	if err != nil {
		return nil, err
	}
	var out []ledger.Record
	for _, id := range plan.Pending {
		n, _ := r.Registry.Node(id)
		rec := r.record(id, ledger.Fake, run, n)
		if err := r.Ledger.Record(ctx, r.DB, rec); err != nil {
			return out, &LedgerWriteError{Node: id, Err: err}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Repair accepts the current definition of drifted nodes by appending a
// record with the new checksum.
func (r *Runner) Repair(ctx context.Context) ([]ledger.Record, error) {
	if err := r.Registry.Check(); err != nil {
		return nil, err
	}
	drifted, err := r.Drifted(ctx)
	if err != nil {
		return nil, err
	}
	if r.Opts.DryRun || len(drifted) == 0 {
		return nil, nil
	}
	run, err := r.runNumber(ctx)
	if err != nil {
		return nil, err
	}
	var out []ledger.Record
	for _, id := range drifted {
		n, _ := r.Registry.Node(id)
		rec := r.record(id, ledger.Repair, run, n)
		if err := r.Ledger.Record(ctx, r.DB, rec); err != nil {
			return out, &LedgerWriteError{Node: id, Err: err}
		}
		out = append(out, rec)
	}
	return out, nil
}
