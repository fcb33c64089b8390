package migrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ledger"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

type Plan struct {
	Target  graph.Target
	Order   []graph.NodeID // every registered node
	Pending []graph.NodeID // to apply, in order
	Applied map[graph.NodeID]ledger.Record
	// Orphans are applied according to the ledger but no longer registered.
	Orphans []graph.NodeID
}

// Plan resolves the graph against the ledger. Configuration errors and
// drift are reported before anything runs.
func (r *Runner) Plan(ctx context.Context, target graph.Target) (*Plan, error) {
	if err := r.Registry.Check(); err != nil {
		return nil, err
	}
	order, err := r.Registry.Order()
	if err != nil {
		return nil, err
	}
	applied, err := r.Ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	p := &Plan{Target: target, Order: order, Applied: map[graph.NodeID]ledger.Record{}}
	set := map[graph.NodeID]bool{}
	for id, rec := range applied {
		n, ok := r.Registry.Node(id)
		if !ok {
			p.Orphans = append(p.Orphans, id)
			continue
		}
		if !strings.EqualFold(rec.Checksum, n.Checksum()) {
			return nil, fmt.Errorf("%w: %s (db=%s code=%s)", ErrDrift, id, short(rec.Checksum), short(n.Checksum()))
		}
		p.Applied[id] = rec
		set[id] = true
	}
	sort.Slice(p.Orphans, func(i, j int) bool { return p.Orphans[i].Less(p.Orphans[j]) })
	for _, id := range p.Orphans {
		r.Opts.Log.Warn("plan.orphan", map[string]any{"node": id.String()})
	}
	if p.Pending, err = r.Registry.Resolve(set, target); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownTarget, err)
	}
	return p, nil
}

// Drifted lists applied nodes whose definition changed since they ran.
func (r *Runner) Drifted(ctx context.Context) ([]graph.NodeID, error) {
	order, err := r.Registry.Order()
	if err != nil {
		return nil, err
	}
	applied, err := r.Ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	var out []graph.NodeID
	for _, id := range order {
		rec, ok := applied[id]
		if !ok {
			continue
		}
		n, _ := r.Registry.Node(id)
		if !strings.EqualFold(rec.Checksum, n.Checksum()) {
			out = append(out, id)
		}
	}
	return out, nil
}

type StatusRow struct {
	ID      graph.NodeID
	Applied bool
	Drift   bool
	Record  ledger.Record
}

// Status lists every registered node in execution order.
func (r *Runner) Status(ctx context.Context) ([]StatusRow, error) {
	order, err := r.Registry.Order()
	if err != nil {
		return nil, err
	}
	applied, err := r.Ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StatusRow, 0, len(order))
	for _, id := range order {
		n, _ := r.Registry.Node(id)
		rec, ok := applied[id]
		out = append(out, StatusRow{
			ID:      id,
			Applied: ok,
			Drift:   ok && !strings.EqualFold(rec.Checksum, n.Checksum()),
			Record:  rec,
		})
	}
	return out, nil
}

// SchemaAt rebuilds the entity shapes as they stood after run, from the
// nodes the ledger had applied by then.
func (r *Runner) SchemaAt(ctx context.Context, run int64) (*schema.State, []graph.NodeID, error) {
	applied, err := r.Ledger.AppliedAsOf(ctx, run)
	if err != nil {
		return nil, nil, err
	}
	order, err := r.Registry.Order()
	if err != nil {
		return nil, nil, err
	}
	var ids []graph.NodeID
	for _, id := range order {
		if _, ok := applied[id]; ok {
			ids = append(ids, id)
		}
	}
	st, err := r.Registry.Fold(ids)
	return st, ids, err
}

// DownTarget selects the nodes to revert.
type DownTarget struct {
	// Steps reverts the most recently applied nodes.
	Steps int
	All   bool
	// To keeps To applied and reverts every later node of its module.
	To *graph.NodeID
	// Zero reverts every node of the module.
	Zero string
}

// ParseDownTarget accepts n, all, module:node and module:zero.
func ParseDownTarget(arg string) (DownTarget, error) {
	if strings.EqualFold(arg, "all") {
		return DownTarget{All: true}, nil
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n <= 0 {
			return DownTarget{}, fmt.Errorf("%w: step count must be positive", ErrUnknownTarget)
		}
		return DownTarget{Steps: n}, nil
	}
	id, err := graph.ParseNodeID(arg)
	if err != nil {
		return DownTarget{}, fmt.Errorf("%w: %w", ErrUnknownTarget, err)
	}
	if id.Name == "zero" {
		return DownTarget{Zero: id.Module}, nil
	}
	return DownTarget{To: &id}, nil
}

// PlanDown returns the applied nodes t selects, in the order they must be
// reverted: dependents always go before their prerequisites.
func (r *Runner) PlanDown(ctx context.Context, t DownTarget) ([]graph.NodeID, error) {
	order, err := r.Registry.Order()
	if err != nil {
		return nil, err
	}
	applied, err := r.Ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	var roots []graph.NodeID
	switch {
	case t.All:
		for id := range applied {
			roots = append(roots, id)
		}
	case t.Steps > 0:
		recs := make([]ledger.Record, 0, len(applied))
		for _, rec := range applied {
			recs = append(recs, rec)
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })
		for i := 0; i < t.Steps && i < len(recs); i++ {
			roots = append(roots, recs[i].NodeID())
		}
	case t.Zero != "":
		for _, id := range order {
			if id.Module == t.Zero {
				roots = append(roots, id)
			}
		}
		if len(roots) == 0 {
			return nil, fmt.Errorf("%w: module %q has no nodes", ErrUnknownTarget, t.Zero)
		}
	case t.To != nil:
		keep, err := r.Registry.Lookup(t.To.Module, t.To.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownTarget, err)
		}
		desc, err := r.Registry.Descendants(keep)
		if err != nil {
			return nil, err
		}
		for _, id := range desc {
			if id.Module == keep.Module {
				roots = append(roots, id)
			}
		}
	default:
		return nil, fmt.Errorf("%w: empty down target", ErrUnknownTarget)
	}

	selected := map[graph.NodeID]bool{}
	for _, id := range roots {
		if _, ok := applied[id]; !ok {
			continue
		}
		selected[id] = true
		if _, known := r.Registry.Node(id); !known {
			continue
		}
		desc, err := r.Registry.Descendants(id)
		if err != nil {
			return nil, err
		}
		for _, d := range desc {
			if _, ok := applied[d]; ok {
				selected[d] = true
			}
		}
	}
	var out []graph.NodeID
	for i := len(order) - 1; i >= 0; i-- {
		if selected[order[i]] {
			out = append(out, order[i])
			delete(selected, order[i])
		}
	}
	for id := range selected {
		return nil, &nodeError{Node: id, Err: fmt.Errorf("%w: applied node is no longer registered", ErrIrreversible)}
	}
	return out, nil
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
