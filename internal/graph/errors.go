package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycle     = errors.New("dependency cycle")
	ErrDangling  = errors.New("dependency on unknown node")
	ErrDuplicate = errors.New("duplicate node")

	// ErrInvalidNode marks a node whose operations do not fit the schema
	// its prerequisites produce.
	ErrInvalidNode = errors.New("invalid node definition")
)

// ConfigurationError reports a graph that cannot be resolved. It is raised
// before anything touches the store.
type ConfigurationError struct {
	Kind    error
	Node    NodeID
	Missing NodeID
	Cycle   []NodeID
	Err     error
}

func (e *ConfigurationError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrDangling):
		return fmt.Sprintf("%v: %s depends on %s", e.Kind, e.Node, e.Missing)
	case errors.Is(e.Kind, ErrCycle):
		parts := make([]string, len(e.Cycle))
		for i, id := range e.Cycle {
			parts[i] = id.String()
		}
		return fmt.Sprintf("%v: %s", e.Kind, strings.Join(parts, " -> "))
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Node, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Node)
}

func (e *ConfigurationError) Unwrap() error { return e.Kind }
