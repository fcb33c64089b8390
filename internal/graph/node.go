// Package graph holds migration nodes and resolves them into a deterministic
// execution order.
package graph

import (
	"fmt"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/backfill"
	"github.com/mirajehossain/graphmigrate/internal/checksum"
	"github.com/mirajehossain/graphmigrate/internal/ops"
)

// NodeID names a node within its module. Names sort lexically, so numbered
// prefixes (0001_initial) order the chain.
type NodeID struct {
	Module string
	Name   string
}

func (id NodeID) String() string { return id.Module + ":" + id.Name }

// Less orders ids by module, then name.
func (id NodeID) Less(o NodeID) bool {
	if id.Module != o.Module {
		return id.Module < o.Module
	}
	return id.Name < o.Name
}

// ParseNodeID accepts "module:name".
func ParseNodeID(s string) (NodeID, error) {
	mod, name, ok := strings.Cut(s, ":")
	if !ok || mod == "" || name == "" {
		return NodeID{}, fmt.Errorf("invalid node id %q, want module:name", s)
	}
	return NodeID{Module: mod, Name: name}, nil
}

// Node is one migration step: schema operations followed by an optional
// backfill. Forward runs after every operation; Reverse undoes it on down.
// A nil Reverse with a non-nil Forward makes the node irreversible.
type Node struct {
	ID      NodeID
	Deps    []NodeID
	Ops     []ops.Operation
	Forward backfill.Step
	Reverse backfill.Step
	// Atomic defaults to true. A non-atomic node runs its operations outside
	// a transaction, as a checkpoint that cannot be rolled back.
	Atomic *bool
}

func (n *Node) IsAtomic() bool { return n.Atomic == nil || *n.Atomic }

// Describe renders everything that defines the node, one line per part. It
// feeds the checksum that detects edits to applied nodes.
func (n *Node) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %s\n", n.ID)
	for _, d := range n.Deps {
		fmt.Fprintf(&b, "dep %s\n", d)
	}
	for _, op := range n.Ops {
		fmt.Fprintf(&b, "op %s\n", op.Describe())
	}
	if n.Forward != nil {
		fmt.Fprintf(&b, "forward %s\n", n.Forward.Name())
	}
	if n.Reverse != nil {
		fmt.Fprintf(&b, "reverse %s\n", n.Reverse.Name())
	}
	fmt.Fprintf(&b, "atomic %t\n", n.IsAtomic())
	return b.String()
}

// Checksum identifies the node's current definition.
func (n *Node) Checksum() string { return checksum.Definition(n.Describe()) }
