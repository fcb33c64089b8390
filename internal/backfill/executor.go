package backfill

import (
	"context"
	"time"

	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// Result summarises one step execution.
type Result struct {
	Step     string
	Rows     int64
	Duration time.Duration
	Skipped  bool
}

// Executor runs steps against the node's transaction. It never retries:
// a failed step is reported and the caller rolls the node back.
type Executor struct {
	Dialect   dialect.Dialect
	BatchSize int
}

func (e Executor) Run(ctx context.Context, q dialect.DBTX, snapshot *schema.State, step Step) (Result, error) {
	res := Result{Step: step.Name()}
	if IsNoop(step) {
		res.Skipped = true
		return res, nil
	}
	start := time.Now()
	v := NewView(q, e.Dialect, snapshot, e.BatchSize)
	err := step.Run(ctx, v)
	res.Rows = v.Updated()
	res.Duration = time.Since(start)
	return res, err
}
