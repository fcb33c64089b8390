// Package backfill runs data transformations that bring existing rows in line
// with a schema change. Steps see the entity shapes of the node they belong
// to, never fields added by later nodes, and run inside the node's
// transaction so a failed step leaves no visible writes.
//
// Forward steps must be idempotent: a node whose ledger record was never
// written is applied again from scratch on the next run.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Step is one data transformation.
type Step interface {
	Name() string
	Run(ctx context.Context, v *View) error
}

// Func adapts a Go function into a Step.
type Func struct {
	StepName string
	Fn       func(ctx context.Context, v *View) error
}

func (f Func) Name() string { return f.StepName }

func (f Func) Run(ctx context.Context, v *View) error {
	if f.Fn == nil {
		return fmt.Errorf("backfill %s has no function", f.StepName)
	}
	return f.Fn(ctx, v)
}

// Noop marks a reverse step that deliberately does nothing because the
// forward transform cannot be meaningfully inverted. It is not the same as a
// missing reverse step, which makes the node irreversible.
type Noop struct {
	Reason string `yaml:"reason"`
}

func (Noop) Name() string                     { return "noop" }
func (Noop) Run(context.Context, *View) error { return nil }

// IsNoop reports whether s is an explicit Noop.
func IsNoop(s Step) bool {
	switch s.(type) {
	case Noop, *Noop:
		return true
	}
	return false
}

// Fill assigns Value to rows whose Field is absent: NULL, and also the empty
// string when Empty is set.
type Fill struct {
	StepName string `yaml:"name"`
	Entity   string `yaml:"entity"`
	Field    string `yaml:"field"`
	Value    any    `yaml:"value"`
	Empty    bool   `yaml:"empty"`
}

func (f Fill) Name() string {
	if f.StepName != "" {
		return f.StepName
	}
	return "fill_" + f.Entity + "_" + f.Field
}

func (f Fill) Run(ctx context.Context, v *View) error {
	if _, err := v.UpdateWhere(ctx, f.Entity, map[string]any{f.Field: f.Value}, Where{f.Field: nil}); err != nil {
		return err
	}
	if f.Empty {
		if _, err := v.UpdateWhere(ctx, f.Entity, map[string]any{f.Field: f.Value}, Where{f.Field: ""}); err != nil {
			return err
		}
	}
	return nil
}

// ErrChainedMapping rejects mappings whose targets are themselves mapped,
// since applying them twice would not converge.
var ErrChainedMapping = errors.New("mapping target is also a mapping source")

// Map rewrites Field values through Mapping. When Default is set, rows whose
// value is neither a source nor a target of the mapping (NULL included) get
// Default.
type Map struct {
	StepName string            `yaml:"name"`
	Entity   string            `yaml:"entity"`
	Field    string            `yaml:"field"`
	Mapping  map[string]string `yaml:"mapping"`
	Default  *string           `yaml:"default"`
}

func (m Map) Name() string {
	if m.StepName != "" {
		return m.StepName
	}
	return "map_" + m.Entity + "_" + m.Field
}

func (m Map) Validate() error {
	for from, to := range m.Mapping {
		if from == to {
			continue
		}
		// a target that maps to itself is already a fixpoint
		if next, ok := m.Mapping[to]; ok && next != to {
			return fmt.Errorf("%w: %q -> %q", ErrChainedMapping, from, to)
		}
	}
	if m.Default != nil {
		if _, ok := m.Mapping[*m.Default]; ok && m.Mapping[*m.Default] != *m.Default {
			return fmt.Errorf("%w: default %q", ErrChainedMapping, *m.Default)
		}
	}
	return nil
}

func (m Map) Run(ctx context.Context, v *View) error {
	if err := m.Validate(); err != nil {
		return err
	}
	keys := make([]string, 0, len(m.Mapping))
	for k := range m.Mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, from := range keys {
		to := m.Mapping[from]
		if from == to {
			continue
		}
		if _, err := v.UpdateWhere(ctx, m.Entity, map[string]any{m.Field: to}, Where{m.Field: from}); err != nil {
			return err
		}
	}
	if m.Default == nil {
		return nil
	}
	known := map[string]bool{*m.Default: true}
	for from, to := range m.Mapping {
		known[from], known[to] = true, true
	}
	return v.Each(ctx, m.Entity, func(r Row) error {
		s, ok := r.String(m.Field)
		if ok && known[s] {
			return nil
		}
		return v.Update(ctx, m.Entity, r.PK(), map[string]any{m.Field: *m.Default})
	})
}
