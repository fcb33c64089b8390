package migrator

import (
	"errors"
	"fmt"

	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ops"
)

var (
	ErrDrift         = errors.New("checksum drift detected")
	ErrIrreversible  = ops.ErrIrreversible
	ErrUnknownTarget = errors.New("unknown target")
)

// OperationError is a schema change the store rejected. The node's changes
// were rolled back where the store allows it.
type OperationError struct {
	Node  graph.NodeID
	Index int
	Op    string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("node %s: operation %d (%s): %v", e.Node, e.Index, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// BackfillError is a data transformation that failed. Steps are idempotent,
// so fixing the cause and running again is the recovery path.
type BackfillError struct {
	Node graph.NodeID
	Step string
	Err  error
}

func (e *BackfillError) Error() string {
	return fmt.Sprintf("node %s: backfill %s: %v", e.Node, e.Step, e.Err)
}

func (e *BackfillError) Unwrap() error { return e.Err }

// LedgerWriteError means the node's work may be in the store but its record
// is not. The node counts as not applied and runs again next time.
type LedgerWriteError struct {
	Node graph.NodeID
	Err  error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("node %s: ledger write: %v", e.Node, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// FailedNode extracts the node a run stopped at.
func FailedNode(err error) (graph.NodeID, bool) {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Node, true
	}
	var be *BackfillError
	if errors.As(err, &be) {
		return be.Node, true
	}
	var le *LedgerWriteError
	if errors.As(err, &le) {
		return le.Node, true
	}
	var ne *nodeError
	if errors.As(err, &ne) {
		return ne.Node, true
	}
	return graph.NodeID{}, false
}

// FailureKind classifies err for metrics and exit codes.
func FailureKind(err error) string {
	var (
		oe  *OperationError
		be  *BackfillError
		le  *LedgerWriteError
		cfg *graph.ConfigurationError
	)
	switch {
	case errors.As(err, &oe):
		return "operation"
	case errors.As(err, &be):
		return "backfill"
	case errors.As(err, &le):
		return "ledger"
	case errors.As(err, &cfg):
		return "configuration"
	case errors.Is(err, ErrDrift):
		return "drift"
	case errors.Is(err, ErrIrreversible):
		return "irreversible"
	}
	return "other"
}

// nodeError ties any other failure to the node being processed.
type nodeError struct {
	Node graph.NodeID
	Err  error
}

func (e *nodeError) Error() string { return fmt.Sprintf("node %s: %v", e.Node, e.Err) }
func (e *nodeError) Unwrap() error { return e.Err }
