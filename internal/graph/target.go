package graph

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownNode = errors.New("unknown node")

// Target narrows a plan. An empty Module selects every node. A Module alone,
// or with Name "latest", selects that module's whole chain. Prerequisites in
// other modules are always part of the plan.
type Target struct {
	Module string
	Name   string
}

func (t Target) String() string {
	switch {
	case t.Module == "":
		return "all"
	case t.Name == "" || t.Name == "latest":
		return t.Module
	}
	return t.Module + ":" + t.Name
}

// Lookup finds a node of module by exact name or by an unambiguous prefix,
// so "0002" selects "0002_add_phone".
func (r *Registry) Lookup(module, name string) (NodeID, error) {
	id := NodeID{Module: module, Name: name}
	if _, ok := r.nodes[id]; ok {
		return id, nil
	}
	var matches []NodeID
	for nid := range r.nodes {
		if nid.Module == module && strings.HasPrefix(nid.Name, name) {
			matches = append(matches, nid)
		}
	}
	switch len(matches) {
	case 0:
		return NodeID{}, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	case 1:
		return matches[0], nil
	}
	return NodeID{}, fmt.Errorf("%w: %s matches %d nodes", ErrUnknownNode, id, len(matches))
}

// scope returns the ids a target covers, nil meaning everything.
func (r *Registry) scope(t Target) (map[NodeID]bool, error) {
	if t.Module == "" {
		return nil, nil
	}
	var roots []NodeID
	if t.Name == "" || t.Name == "latest" {
		for id := range r.nodes {
			if id.Module == t.Module {
				roots = append(roots, id)
			}
		}
		if len(roots) == 0 {
			return nil, fmt.Errorf("%w: module %q has no nodes", ErrUnknownNode, t.Module)
		}
	} else {
		id, err := r.Lookup(t.Module, t.Name)
		if err != nil {
			return nil, err
		}
		roots = []NodeID{id}
	}
	scope := map[NodeID]bool{}
	queue := roots
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if scope[cur] {
			continue
		}
		scope[cur] = true
		queue = append(queue, r.nodes[cur].Deps...)
	}
	return scope, nil
}
