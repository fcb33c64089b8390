package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/logger"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// Applier executes schema operations against a store and keeps the State in
// step with what it executed.
type Applier struct {
	Dialect       dialect.Dialect
	AllowDataLoss bool
	// Resume tolerates changes that are already in place. It is set for
	// stores without transactional DDL, where an interrupted node may have
	// committed part of its statements.
	Resume bool
	Log    *logger.Logger
}

// Statements renders op against state without touching the store and returns
// the state op leaves behind.
func (a Applier) Statements(state *schema.State, op Operation) (*schema.State, []string, error) {
	after := state.Clone()
	if err := op.Mutate(after); err != nil {
		return nil, nil, err
	}
	stmts, err := a.render(state, after, op)
	if err != nil {
		return nil, nil, err
	}
	return after, stmts, nil
}

// Apply executes op and returns the state it leaves behind. state itself is
// never modified. Backfill operations carry no statements; the caller runs
// them through a backfill.Executor.
func (a Applier) Apply(ctx context.Context, q dialect.DBTX, state *schema.State, op Operation) (*schema.State, error) {
	after, stmts, err := a.Statements(state, op)
	if err != nil {
		return nil, err
	}
	if a.Resume {
		done, err := a.done(ctx, q, state, after, op)
		if err != nil {
			return nil, err
		}
		if done {
			a.Log.Debug("migrate.op.skip", map[string]any{"op": op.Describe(), "reason": "already applied"})
			return after, nil
		}
	}
	if af, ok := op.(AlterField); ok {
		if err := a.guard(ctx, q, state, af); err != nil {
			return nil, err
		}
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			if a.Resume && a.Dialect.Benign(err) {
				a.Log.Debug("migrate.stmt.skip", map[string]any{"sql": stmt, "error": err})
				continue
			}
			return nil, fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return after, nil
}

func (a Applier) render(before, after *schema.State, op Operation) ([]string, error) {
	d := a.Dialect
	switch o := op.(type) {
	case CreateEntity:
		t, err := table(after, o.Entity)
		if err != nil {
			return nil, err
		}
		return d.CreateTable(t.Table), nil
	case DropEntity:
		e, err := before.MustEntity(o.Entity)
		if err != nil {
			return nil, err
		}
		return d.DropTable(e.Table), nil
	case AddField:
		t, err := table(after, o.Entity)
		if err != nil {
			return nil, err
		}
		c, _ := t.column(o.Field.Name)
		return d.AddColumn(t.Table, c), nil
	case RemoveField:
		t, err := table(after, o.Entity)
		if err != nil {
			return nil, err
		}
		old, err := table(before, o.Entity)
		if err != nil {
			return nil, err
		}
		c, _ := old.column(o.Field)
		return d.DropColumn(t.Table, c), nil
	case AlterField:
		t, err := table(after, o.Entity)
		if err != nil {
			return nil, err
		}
		old, err := table(before, o.Entity)
		if err != nil {
			return nil, err
		}
		oc, _ := old.column(o.Field.Name)
		nc, _ := t.column(o.Field.Name)
		return d.AlterColumn(t.Table, oc, nc), nil
	case RenameField:
		t, err := table(after, o.Entity)
		if err != nil {
			return nil, err
		}
		c, _ := t.column(o.To)
		return d.RenameColumn(t.Table, o.From, c), nil
	case AlterUniqueTogether:
		e, err := after.MustEntity(o.Entity)
		if err != nil {
			return nil, err
		}
		prev, _ := before.Entity(o.Entity)
		return uniqueDiff(d, e.Table, prev.Unique, e.Unique), nil
	case AlterModelOptions, RunBackfill:
		return nil, nil
	case CreateExtension:
		stmts, err := d.CreateExtension(o.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return stmts, nil
	}
	return nil, fmt.Errorf("%w: operation %s", ErrUnsupported, op.Kind())
}

// done reports whether op's effect is already visible in the store.
func (a Applier) done(ctx context.Context, q dialect.DBTX, before, after *schema.State, op Operation) (bool, error) {
	d := a.Dialect
	switch o := op.(type) {
	case CreateEntity:
		e, _ := after.Entity(o.Entity)
		return d.HasTable(ctx, q, e.Table)
	case DropEntity:
		e, _ := before.Entity(o.Entity)
		ok, err := d.HasTable(ctx, q, e.Table)
		return !ok && err == nil, err
	case AddField:
		e, _ := after.Entity(o.Entity)
		return d.HasColumn(ctx, q, e.Table, o.Field.Name)
	case RemoveField:
		e, _ := before.Entity(o.Entity)
		ok, err := d.HasColumn(ctx, q, e.Table, o.Field)
		return !ok && err == nil, err
	case RenameField:
		e, _ := after.Entity(o.Entity)
		from, err := d.HasColumn(ctx, q, e.Table, o.From)
		if err != nil {
			return false, err
		}
		to, err := d.HasColumn(ctx, q, e.Table, o.To)
		return !from && to, err
	}
	return false, nil
}

// guard refuses a field change that would cut or drop stored values unless
// data loss was acknowledged. Rows blocking a NOT NULL change are given the
// new default when there is one.
func (a Applier) guard(ctx context.Context, q dialect.DBTX, state *schema.State, op AlterField) error {
	e, err := state.MustEntity(op.Entity)
	if err != nil {
		return err
	}
	old, ok := e.Field(op.Field.Name)
	if !ok {
		return fmt.Errorf("entity %q has no field %q", op.Entity, op.Field.Name)
	}
	d := a.Dialect
	tbl, col := d.Quote(e.Table), d.Quote(old.Name)
	where := func(cond string) (int64, error) {
		var n int64
		err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tbl, cond)).Scan(&n)
		return n, err
	}
	target := op.Entity + "." + old.Name
	narrowing := schema.Classify(old, op.Field)

	var cond string
	switch narrowing {
	case schema.Length:
		expr := col
		if old.Kind != schema.Char && old.Kind != schema.Text {
			expr = d.CastText(col)
		}
		cond = fmt.Sprintf("%s(%s) > %d", d.Length(), expr, op.Field.MaxLength)
	case schema.Numeric:
		cond = numericOverflow(col, old, op.Field)
	case schema.Incompatible:
		cond = col + " IS NOT NULL"
	}
	if cond != "" {
		n, err := where(cond)
		if err != nil {
			return fmt.Errorf("check %s: %w", target, err)
		}
		if n > 0 {
			if !a.AllowDataLoss {
				return fmt.Errorf("%w: %s -> %s affects %d rows of %s (%s)", ErrDataLoss, old, op.Field, n, target, narrowing)
			}
			a.Log.Warn("migrate.data_loss", map[string]any{"field": target, "rows": n, "narrowing": narrowing.String()})
			if narrowing == schema.Length && (old.Kind == schema.Char || old.Kind == schema.Text) {
				trunc := fmt.Sprintf("UPDATE %s SET %s = SUBSTR(%s, 1, %d) WHERE %s", tbl, col, col, op.Field.MaxLength, cond)
				if _, err := q.ExecContext(ctx, trunc); err != nil {
					return fmt.Errorf("truncate %s: %w", target, err)
				}
			}
		}
	}

	if old.Null && !op.Field.Null {
		n, err := where(col + " IS NULL")
		if err != nil {
			return fmt.Errorf("check %s: %w", target, err)
		}
		if n == 0 {
			return nil
		}
		if op.Field.Default == nil {
			return fmt.Errorf("%s: %d rows are NULL and the new definition is NOT NULL without a default", target, n)
		}
		fill := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", tbl, col, d.Literal(op.Field.Kind, *op.Field.Default), col)
		if _, err := q.ExecContext(ctx, fill); err != nil {
			return fmt.Errorf("fill %s: %w", target, err)
		}
		a.Log.Info("migrate.fill_nulls", map[string]any{"field": target, "rows": n})
	}
	return nil
}

// numericOverflow matches values the new numeric definition cannot hold.
func numericOverflow(col string, old, new schema.Field) string {
	var conds []string
	switch new.Kind {
	case schema.Int:
		conds = append(conds, col+" > 2147483647", col+" < -2147483648")
	case schema.Decimal:
		conds = append(conds, fmt.Sprintf("ABS(%s) >= 1%s", col, strings.Repeat("0", new.Precision-new.Scale)))
	}
	if old.Kind == schema.Decimal {
		scale := 0
		if new.Kind == schema.Decimal {
			scale = new.Scale
		}
		if new.Kind != schema.Decimal || new.Scale < old.Scale {
			conds = append(conds, fmt.Sprintf("%s <> ROUND(%s, %d)", col, col, scale))
		}
	}
	if len(conds) == 0 {
		return "1 = 0"
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

func uniqueDiff(d dialect.Dialect, tbl string, before, after [][]string) []string {
	has := func(sets [][]string, set []string) bool {
		k := strings.Join(set, "\x00")
		for _, s := range sets {
			if strings.Join(s, "\x00") == k {
				return true
			}
		}
		return false
	}
	var out []string
	for _, set := range before {
		if !has(after, set) {
			out = append(out, d.DropUniqueIndex(tbl, set)...)
		}
	}
	for _, set := range after {
		if !has(before, set) {
			out = append(out, d.CreateUniqueIndex(tbl, set)...)
		}
	}
	return out
}

type resolved struct {
	dialect.Table
}

func (t resolved) column(name string) (dialect.Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return dialect.Column{}, false
}

// table resolves an entity's fields into columns, following foreign keys to
// the referenced table's primary key.
func table(s *schema.State, entity string) (resolved, error) {
	e, err := s.MustEntity(entity)
	if err != nil {
		return resolved{}, err
	}
	t := dialect.Table{Name: e.Table, Unique: e.Unique}
	for _, f := range e.Fields {
		c := dialect.Column{Field: f}
		if f.Kind == schema.FK {
			ref, ok := s.Entity(f.Ref.Entity)
			if !ok {
				return resolved{}, fmt.Errorf("%s.%s references unknown entity %q", entity, f.Name, f.Ref.Entity)
			}
			c.RefTable, c.RefColumn = ref.Table, ref.PrimaryKey()
		}
		t.Columns = append(t.Columns, c)
	}
	return resolved{t}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
