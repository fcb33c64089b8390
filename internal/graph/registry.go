package graph

import (
	"container/heap"
	"fmt"
	"sort"
)

// Registry is the set of known nodes. Nodes may be registered in any order;
// dependencies are checked when the graph is resolved.
type Registry struct {
	nodes map[NodeID]*Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: map[NodeID]*Node{}}
}

// Register adds nodes, dropping repeated prerequisites. Duplicate ids and
// nodes that depend on themselves are rejected.
func (r *Registry) Register(nodes ...*Node) error {
	for _, n := range nodes {
		if n.ID.Module == "" || n.ID.Name == "" {
			return fmt.Errorf("node %q: module and name are required", n.ID)
		}
		if _, ok := r.nodes[n.ID]; ok {
			return &ConfigurationError{Kind: ErrDuplicate, Node: n.ID}
		}
		seen := make(map[NodeID]bool, len(n.Deps))
		deps := n.Deps[:0:0]
		for _, d := range n.Deps {
			if d == n.ID {
				return &ConfigurationError{Kind: ErrCycle, Node: n.ID, Cycle: []NodeID{n.ID, n.ID}}
			}
			if !seen[d] {
				seen[d] = true
				deps = append(deps, d)
			}
		}
		n.Deps = deps
		r.nodes[n.ID] = n
	}
	return nil
}

func (r *Registry) Node(id NodeID) (*Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

func (r *Registry) Len() int { return len(r.nodes) }

// Modules lists the modules that own at least one node.
func (r *Registry) Modules() []string {
	seen := map[string]bool{}
	var out []string
	for id := range r.nodes {
		if !seen[id.Module] {
			seen[id.Module] = true
			out = append(out, id.Module)
		}
	}
	sort.Strings(out)
	return out
}

// Validate reports dangling dependencies and cycles. Problems are reported
// for the smallest offending node so the message is stable between runs.
func (r *Registry) Validate() error {
	for _, id := range r.sorted() {
		for _, d := range r.nodes[id].Deps {
			if _, ok := r.nodes[d]; !ok {
				return &ConfigurationError{Kind: ErrDangling, Node: id, Missing: d}
			}
		}
	}
	const (
		white = iota
		grey
		black
	)
	color := make(map[NodeID]int, len(r.nodes))
	var stack []NodeID
	var visit func(id NodeID) []NodeID
	visit = func(id NodeID) []NodeID {
		color[id] = grey
		stack = append(stack, id)
		for _, d := range sortedIDs(r.nodes[id].Deps) {
			switch color[d] {
			case grey:
				for i, s := range stack {
					if s == d {
						cycle := append([]NodeID{}, stack[i:]...)
						return append(cycle, d)
					}
				}
			case white:
				if c := visit(d); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}
	for _, id := range r.sorted() {
		if color[id] == white {
			if c := visit(id); c != nil {
				return &ConfigurationError{Kind: ErrCycle, Node: c[0], Cycle: c}
			}
		}
	}
	return nil
}

// Order returns every node so that each follows all of its prerequisites.
// Among nodes that are ready at the same time the smallest (module, name)
// goes first, which makes the order a pure function of the node set.
func (r *Registry) Order() ([]NodeID, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	indegree := make(map[NodeID]int, len(r.nodes))
	dependents := make(map[NodeID][]NodeID, len(r.nodes))
	for id, n := range r.nodes {
		indegree[id] += 0
		for _, d := range n.Deps {
			indegree[id]++
			dependents[d] = append(dependents[d], id)
		}
	}
	ready := &idHeap{}
	for id, deg := range indegree {
		if deg == 0 {
			heap.Push(ready, id)
		}
	}
	order := make([]NodeID, 0, len(r.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(NodeID)
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	if len(order) != len(r.nodes) {
		return nil, &ConfigurationError{Kind: ErrCycle}
	}
	return order, nil
}

// Resolve returns the nodes of target that still have to run, in execution
// order. A zero target selects every node.
func (r *Registry) Resolve(applied map[NodeID]bool, target Target) ([]NodeID, error) {
	order, err := r.Order()
	if err != nil {
		return nil, err
	}
	scope, err := r.scope(target)
	if err != nil {
		return nil, err
	}
	var pending []NodeID
	for _, id := range order {
		if scope != nil && !scope[id] {
			continue
		}
		if !applied[id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// Ancestors returns the transitive prerequisites of id in execution order.
func (r *Registry) Ancestors(id NodeID) ([]NodeID, error) {
	return r.closure(id, func(n *Node) []NodeID { return n.Deps })
}

// Descendants returns every node that transitively depends on id, in
// execution order.
func (r *Registry) Descendants(id NodeID) ([]NodeID, error) {
	dependents := map[NodeID][]NodeID{}
	for nid, n := range r.nodes {
		for _, d := range n.Deps {
			dependents[d] = append(dependents[d], nid)
		}
	}
	return r.closure(id, func(n *Node) []NodeID { return dependents[n.ID] })
}

func (r *Registry) closure(id NodeID, next func(*Node) []NodeID) ([]NodeID, error) {
	if _, ok := r.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	order, err := r.Order()
	if err != nil {
		return nil, err
	}
	seen := map[NodeID]bool{}
	queue := []NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range next(r.nodes[cur]) {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}
	out := make([]NodeID, 0, len(seen))
	for _, o := range order {
		if seen[o] {
			out = append(out, o)
		}
	}
	return out, nil
}

// Leaf returns the last node of module in execution order.
func (r *Registry) Leaf(module string) (NodeID, bool) {
	order, err := r.Order()
	if err != nil {
		return NodeID{}, false
	}
	var leaf NodeID
	found := false
	for _, id := range order {
		if id.Module == module {
			leaf, found = id, true
		}
	}
	return leaf, found
}

func (r *Registry) sorted() []NodeID {
	ids := make([]NodeID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}

func sortedIDs(ids []NodeID) []NodeID {
	out := append([]NodeID{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type idHeap []NodeID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(NodeID)) }
func (h *idHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
