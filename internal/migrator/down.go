package migrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ledger"
	"github.com/mirajehossain/graphmigrate/internal/ops"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

var errNotApplied = errors.New("node is not applied")

// reversal is everything needed to undo one node, computed before the store
// is touched.
type reversal struct {
	node *graph.Node
	// ops[i] undoes node.Ops[i]; nil entries have nothing to undo.
	ops []ops.Operation
	// states[i] is the node's view of the schema after node.Ops[:i].
	states []*schema.State
}

// ApplyDown reverts ids in the order given, normally the output of PlanDown.
// Every node is checked for reversibility before the first one runs.
func (r *Runner) ApplyDown(ctx context.Context, ids []graph.NodeID, progress Progress) ([]ledger.Record, error) {
	if progress == nil {
		progress = func(string, graph.NodeID, *ledger.Record, error) {}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	applied, err := r.Ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	plans := make([]reversal, 0, len(ids))
	for _, id := range ids {
		if _, ok := applied[id]; !ok {
			return nil, &nodeError{Node: id, Err: errNotApplied}
		}
		rv, err := r.reversal(id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, rv)
	}
	state, err := r.physical(applied)
	if err != nil {
		return nil, err
	}
	run := int64(0)
	if !r.Opts.DryRun {
		if run, err = r.runNumber(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]ledger.Record, 0, len(plans))
	for _, rv := range plans {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		id := rv.node.ID
		rec := r.record(id, ledger.Revert, run, rv.node)
		progress("start", id, &rec, nil)
		next, err := r.revertNode(ctx, rv, state, &rec)
		if err != nil {
			r.Opts.Metrics.NodeFailed(r.Opts.Env, FailureKind(err))
			progress("error", id, &rec, err)
			return out, err
		}
		state = next
		progress("success", id, &rec, nil)
		out = append(out, rec)
	}
	return out, nil
}

func (r *Runner) reversal(id graph.NodeID) (reversal, error) {
	n, ok := r.Registry.Node(id)
	if !ok {
		return reversal{}, &nodeError{Node: id, Err: fmt.Errorf("%w: node is not registered", ErrIrreversible)}
	}
	if n.Forward != nil && n.Reverse == nil {
		return reversal{}, &nodeError{Node: id, Err: fmt.Errorf("%w: backfill %s has no reverse step", ErrIrreversible, n.Forward.Name())}
	}
	hist, err := r.historical(id)
	if err != nil {
		return reversal{}, &nodeError{Node: id, Err: err}
	}
	rv := reversal{node: n, ops: make([]ops.Operation, len(n.Ops)), states: []*schema.State{hist.Clone()}}
	for i, op := range n.Ops {
		back, err := op.Reverse(rv.states[i])
		if err != nil {
			return reversal{}, &OperationError{Node: id, Index: i, Op: op.Describe(), Err: err}
		}
		rv.ops[i] = back
		if err := op.Mutate(hist); err != nil {
			return reversal{}, &OperationError{Node: id, Index: i, Op: op.Describe(), Err: err}
		}
		rv.states = append(rv.states, hist.Clone())
	}
	return rv, nil
}

// revertNode mirrors applyNode: one transaction where the store allows it,
// a checkpoint otherwise.
func (r *Runner) revertNode(ctx context.Context, rv reversal, state *schema.State, rec *ledger.Record) (*schema.State, error) {
	id := rv.node.ID
	start := time.Now()

	if r.Opts.DryRun {
		a := r.applier(false)
		for i := len(rv.ops) - 1; i >= 0; i-- {
			op := rv.ops[i]
			if op == nil {
				continue
			}
			next, stmts, err := a.Statements(state, op)
			if err != nil {
				return nil, &OperationError{Node: id, Index: i, Op: op.Describe(), Err: err}
			}
			for _, s := range stmts {
				r.Opts.Log.Info("plan.sql", map[string]any{"node": id.String(), "sql": s})
			}
			state = next
		}
		return state, nil
	}

	if r.Dialect.TransactionalDDL() && rv.node.IsAtomic() {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, &nodeError{Node: id, Err: err}
		}
		next, err := r.backward(ctx, tx, true, rv, state)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		rec.DurationMS = time.Since(start).Milliseconds()
		if err := r.Ledger.Unrecord(ctx, tx, *rec); err != nil {
			_ = tx.Rollback()
			return nil, &LedgerWriteError{Node: id, Err: err}
		}
		if err := tx.Commit(); err != nil {
			return nil, &LedgerWriteError{Node: id, Err: fmt.Errorf("commit: %w", err)}
		}
		return next, nil
	}

	r.Opts.Log.Warn("checkpoint.resume_unsafe", map[string]any{
		"node":    id.String(),
		"dialect": r.Dialect.Name(),
		"atomic":  rv.node.IsAtomic(),
	})
	next, err := r.backward(ctx, r.DB, false, rv, state)
	if err != nil {
		return nil, err
	}
	rec.DurationMS = time.Since(start).Milliseconds()
	if err := r.Ledger.Unrecord(ctx, r.DB, *rec); err != nil {
		return nil, &LedgerWriteError{Node: id, Err: err}
	}
	return next, nil
}

// backward runs the node's reverse backfill, then undoes its operations last
// to first. Backfills see the node's schema as it stood at that point.
func (r *Runner) backward(ctx context.Context, q dialect.DBTX, inTx bool, rv reversal, state *schema.State) (*schema.State, error) {
	n := rv.node
	if n.Reverse != nil {
		if err := r.backfill(ctx, q, inTx, n.ID, rv.states[len(n.Ops)], n.Reverse); err != nil {
			return nil, err
		}
	}
	a := r.applier(!inTx)
	for i := len(rv.ops) - 1; i >= 0; i-- {
		op := rv.ops[i]
		if op == nil {
			continue
		}
		if bf, ok := op.(ops.RunBackfill); ok {
			if err := r.backfill(ctx, q, inTx, n.ID, rv.states[i+1], bf.Forward); err != nil {
				return nil, err
			}
			continue
		}
		next, err := a.Apply(ctx, q, state, op)
		if err != nil {
			return nil, &OperationError{Node: n.ID, Index: i, Op: op.Describe(), Err: err}
		}
		state = next
	}
	return state, nil
}

// Reversible reports whether every node in ids can be reverted.
func (r *Runner) Reversible(ids []graph.NodeID) error {
	for _, id := range ids {
		if _, err := r.reversal(id); err != nil {
			return err
		}
	}
	return nil
}
