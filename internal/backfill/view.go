package backfill

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

const DefaultBatchSize = 500

// Row is one record as the snapshot sees it.
type Row struct {
	pkField string
	Values  map[string]any
}

func (r Row) PK() any { return r.Values[r.pkField] }

// String returns the field as a string; ok is false for NULL.
func (r Row) String(field string) (string, bool) {
	switch v := r.Values[field].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return fmt.Sprint(v), true
	}
}

// Where matches fields by equality; a nil value matches NULL.
type Where map[string]any

// View is the data access a backfill step gets: reads and writes are limited
// to the entities and fields of the snapshot it was built with.
type View struct {
	q       dialect.DBTX
	d       dialect.Dialect
	state   *schema.State
	batch   int
	updated int64
}

func NewView(q dialect.DBTX, d dialect.Dialect, snapshot *schema.State, batchSize int) *View {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &View{q: q, d: d, state: snapshot, batch: batchSize}
}

// Snapshot returns the entity shapes the step was written against.
func (v *View) Snapshot() *schema.State { return v.state }

// Updated is the number of rows written through this view.
func (v *View) Updated() int64 { return v.updated }

func (v *View) entity(name string, fields ...string) (*schema.Entity, error) {
	e, ok := v.state.Entity(name)
	if !ok {
		return nil, fmt.Errorf("entity %q is not part of this snapshot", name)
	}
	for _, f := range fields {
		if _, ok := e.Field(f); !ok {
			return nil, fmt.Errorf("entity %q has no field %q in this snapshot", name, f)
		}
	}
	return e, nil
}

// Each visits every row of entity in primary key order. Rows are fetched in
// batches and fully read before fn runs, so fn may write through the view.
func (v *View) Each(ctx context.Context, entity string, fn func(Row) error) error {
	e, err := v.entity(entity)
	if err != nil {
		return err
	}
	pk := e.PrimaryKey()
	if _, ok := e.Field(pk); !ok {
		return fmt.Errorf("entity %q has no primary key in this snapshot", entity)
	}
	names := e.FieldNames()
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = v.d.Quote(n)
	}
	base := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), v.d.Quote(e.Table))
	order := fmt.Sprintf(" ORDER BY %s LIMIT %d", v.d.Quote(pk), v.batch)

	var last any
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		query, args := base+order, []any(nil)
		if last != nil {
			query = base + fmt.Sprintf(" WHERE %s > ?", v.d.Quote(pk)) + order
			args = []any{last}
		}
		batch, err := v.fetch(ctx, v.d.Rebind(query), args, names, pk)
		if err != nil {
			return err
		}
		for _, r := range batch {
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(batch) < v.batch {
			return nil
		}
		last = batch[len(batch)-1].PK()
	}
}

func (v *View) fetch(ctx context.Context, query string, args []any, names []string, pk string) ([]Row, error) {
	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		dest := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := Row{pkField: pk, Values: make(map[string]any, len(names))}
		for i, n := range names {
			if b, ok := dest[i].([]byte); ok {
				dest[i] = string(b)
			}
			r.Values[n] = dest[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update writes values to the row with primary key pk.
func (v *View) Update(ctx context.Context, entity string, pk any, values map[string]any) error {
	e, err := v.entity(entity)
	if err != nil {
		return err
	}
	_, err = v.update(ctx, e, values, Where{e.PrimaryKey(): pk})
	return err
}

// UpdateWhere writes values to every row matching where and returns how many
// rows changed.
func (v *View) UpdateWhere(ctx context.Context, entity string, values map[string]any, where Where) (int64, error) {
	e, err := v.entity(entity)
	if err != nil {
		return 0, err
	}
	return v.update(ctx, e, values, where)
}

func (v *View) update(ctx context.Context, e *schema.Entity, values map[string]any, where Where) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	setCols := sortedKeys(values)
	if _, err := v.entity(e.Name, setCols...); err != nil {
		return 0, err
	}
	sets := make([]string, len(setCols))
	args := make([]any, 0, len(setCols)+len(where))
	for i, c := range setCols {
		sets[i] = v.d.Quote(c) + " = ?"
		args = append(args, values[c])
	}
	cond, condArgs, err := v.where(e, where)
	if err != nil {
		return 0, err
	}
	args = append(args, condArgs...)
	query := fmt.Sprintf("UPDATE %s SET %s%s", v.d.Quote(e.Table), strings.Join(sets, ", "), cond)
	res, err := v.q.ExecContext(ctx, v.d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	v.updated += n
	return n, nil
}

// Insert adds one row.
func (v *View) Insert(ctx context.Context, entity string, values map[string]any) error {
	e, err := v.entity(entity)
	if err != nil {
		return err
	}
	cols := sortedKeys(values)
	if _, err := v.entity(entity, cols...); err != nil {
		return err
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = v.d.Quote(c)
		marks[i] = "?"
		args[i] = values[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", v.d.Quote(e.Table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := v.q.ExecContext(ctx, v.d.Rebind(query), args...); err != nil {
		return err
	}
	v.updated++
	return nil
}

// Count returns the number of rows matching where.
func (v *View) Count(ctx context.Context, entity string, where Where) (int64, error) {
	e, err := v.entity(entity)
	if err != nil {
		return 0, err
	}
	cond, args, err := v.where(e, where)
	if err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", v.d.Quote(e.Table), cond)
	if err := v.q.QueryRowContext(ctx, v.d.Rebind(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (v *View) where(e *schema.Entity, where Where) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(where)
	if _, err := v.entity(e.Name, cols...); err != nil {
		return "", nil, err
	}
	parts := make([]string, len(cols))
	var args []any
	for i, c := range cols {
		if where[c] == nil {
			parts[i] = v.d.Quote(c) + " IS NULL"
			continue
		}
		parts[i] = v.d.Quote(c) + " = ?"
		args = append(args, where[c])
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
