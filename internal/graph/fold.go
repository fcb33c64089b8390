package graph

import (
	"fmt"

	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// Fold replays the operations of ids, in the order given, onto a fresh state.
// The result is the entity shape those nodes leave behind, nothing later.
func (r *Registry) Fold(ids []NodeID) (*schema.State, error) {
	st := schema.NewState()
	for _, id := range ids {
		n, ok := r.nodes[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
		}
		if err := n.Mutate(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Check folds every node in execution order and reports the first whose
// operations cannot apply to the schema its prerequisites leave behind.
func (r *Registry) Check() error {
	order, err := r.Order()
	if err != nil {
		return err
	}
	st := schema.NewState()
	for _, id := range order {
		if err := r.nodes[id].Mutate(st); err != nil {
			return &ConfigurationError{Kind: ErrInvalidNode, Node: id, Err: err}
		}
	}
	return nil
}

// Mutate applies the node's operations to st in place.
func (n *Node) Mutate(st *schema.State) error {
	for i, op := range n.Ops {
		if err := op.Mutate(st); err != nil {
			return fmt.Errorf("%s op %d (%s): %w", n.ID, i, op.Kind(), err)
		}
	}
	return nil
}
