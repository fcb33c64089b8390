// Package ops defines the schema operations a migration node is made of and
// the Applier that executes them against a store.
package ops

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/backfill"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

var (
	// ErrDataLoss is returned when a change would drop or cut stored values
	// and data loss was not acknowledged.
	ErrDataLoss = errors.New("change would lose data")
	// ErrIrreversible is returned when an operation has no reverse.
	ErrIrreversible = errors.New("operation is not reversible")
	// ErrUnsupported is returned for capabilities the store lacks.
	ErrUnsupported = errors.New("unsupported by store")
)

// Operation is one schema change. Mutate applies it to a State; Reverse
// builds the operation that undoes it given the state it was applied to.
// A nil reverse with a nil error means undoing needs no work.
type Operation interface {
	Kind() string
	Target() string
	Describe() string
	Mutate(s *schema.State) error
	Reverse(before *schema.State) (Operation, error)
}

type CreateEntity struct {
	Entity  string
	Table   string
	Fields  []schema.Field
	Unique  [][]string
	Options map[string]string
}

func (o CreateEntity) Kind() string   { return "create_entity" }
func (o CreateEntity) Target() string { return o.Entity }

func (o CreateEntity) Describe() string {
	parts := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("create_entity %s table=%s fields=[%s] unique=%s options=%s",
		o.Entity, o.tableName(), strings.Join(parts, "; "), sets(o.Unique), options(o.Options))
}

func (o CreateEntity) tableName() string {
	if o.Table != "" {
		return o.Table
	}
	return o.Entity
}

func (o CreateEntity) Mutate(s *schema.State) error {
	if err := s.CreateEntity(o.Entity, o.tableName(), o.Fields, o.Options); err != nil {
		return err
	}
	if len(o.Unique) > 0 {
		return s.SetUniqueTogether(o.Entity, o.Unique)
	}
	return nil
}

func (o CreateEntity) Reverse(*schema.State) (Operation, error) {
	return DropEntity{Entity: o.Entity}, nil
}

type DropEntity struct {
	Entity string
}

func (o DropEntity) Kind() string                 { return "drop_entity" }
func (o DropEntity) Target() string               { return o.Entity }
func (o DropEntity) Describe() string             { return "drop_entity " + o.Entity }
func (o DropEntity) Mutate(s *schema.State) error { return s.DropEntity(o.Entity) }

// Reverse recreates the table shape; its rows are gone.
func (o DropEntity) Reverse(before *schema.State) (Operation, error) {
	e, err := before.MustEntity(o.Entity)
	if err != nil {
		return nil, err
	}
	return CreateEntity{Entity: e.Name, Table: e.Table, Fields: e.Fields, Unique: e.Unique, Options: e.Options}, nil
}

type AddField struct {
	Entity string
	Field  schema.Field
}

func (o AddField) Kind() string     { return "add_field" }
func (o AddField) Target() string   { return o.Entity }
func (o AddField) Describe() string { return "add_field " + o.Entity + " " + o.Field.String() }

func (o AddField) Mutate(s *schema.State) error {
	if !o.Field.Null && o.Field.Default == nil && !o.Field.Primary {
		return fmt.Errorf("add_field %s.%s: a non-null field needs a default for existing rows", o.Entity, o.Field.Name)
	}
	return s.AddField(o.Entity, o.Field)
}

func (o AddField) Reverse(*schema.State) (Operation, error) {
	return RemoveField{Entity: o.Entity, Field: o.Field.Name}, nil
}

type RemoveField struct {
	Entity string
	Field  string
}

func (o RemoveField) Kind() string                 { return "remove_field" }
func (o RemoveField) Target() string               { return o.Entity }
func (o RemoveField) Describe() string             { return "remove_field " + o.Entity + " " + o.Field }
func (o RemoveField) Mutate(s *schema.State) error { return s.RemoveField(o.Entity, o.Field) }

// Reverse restores the column; its values are gone, so a non-null column
// needs a default to come back.
func (o RemoveField) Reverse(before *schema.State) (Operation, error) {
	e, err := before.MustEntity(o.Entity)
	if err != nil {
		return nil, err
	}
	f, ok := e.Field(o.Field)
	if !ok {
		return nil, fmt.Errorf("entity %q has no field %q", o.Entity, o.Field)
	}
	if !f.Null && f.Default == nil {
		return nil, fmt.Errorf("%w: %s.%s is not null and has no default", ErrIrreversible, o.Entity, o.Field)
	}
	return AddField{Entity: o.Entity, Field: f}, nil
}

// AlterField replaces the definition of an existing field, keyed by name.
type AlterField struct {
	Entity string
	Field  schema.Field
}

func (o AlterField) Kind() string                 { return "alter_field" }
func (o AlterField) Target() string               { return o.Entity }
func (o AlterField) Describe() string             { return "alter_field " + o.Entity + " " + o.Field.String() }
func (o AlterField) Mutate(s *schema.State) error { return s.AlterField(o.Entity, o.Field) }

func (o AlterField) Reverse(before *schema.State) (Operation, error) {
	e, err := before.MustEntity(o.Entity)
	if err != nil {
		return nil, err
	}
	f, ok := e.Field(o.Field.Name)
	if !ok {
		return nil, fmt.Errorf("entity %q has no field %q", o.Entity, o.Field.Name)
	}
	return AlterField{Entity: o.Entity, Field: f}, nil
}

// RenameField keeps the stored values under the new name.
type RenameField struct {
	Entity string
	From   string
	To     string
}

func (o RenameField) Kind() string     { return "rename_field" }
func (o RenameField) Target() string   { return o.Entity }
func (o RenameField) Describe() string { return "rename_field " + o.Entity + " " + o.From + "->" + o.To }
func (o RenameField) Mutate(s *schema.State) error {
	return s.RenameField(o.Entity, o.From, o.To)
}

func (o RenameField) Reverse(*schema.State) (Operation, error) {
	return RenameField{Entity: o.Entity, From: o.To, To: o.From}, nil
}

// AlterUniqueTogether replaces the entity's composite unique constraints.
type AlterUniqueTogether struct {
	Entity string
	Sets   [][]string
}

func (o AlterUniqueTogether) Kind() string   { return "alter_unique_together" }
func (o AlterUniqueTogether) Target() string { return o.Entity }
func (o AlterUniqueTogether) Describe() string {
	return "alter_unique_together " + o.Entity + " " + sets(o.Sets)
}
func (o AlterUniqueTogether) Mutate(s *schema.State) error {
	return s.SetUniqueTogether(o.Entity, o.Sets)
}

func (o AlterUniqueTogether) Reverse(before *schema.State) (Operation, error) {
	e, err := before.MustEntity(o.Entity)
	if err != nil {
		return nil, err
	}
	return AlterUniqueTogether{Entity: o.Entity, Sets: e.Unique}, nil
}

// AlterModelOptions changes entity metadata (ordering, labels). It has no
// effect on the store.
type AlterModelOptions struct {
	Entity  string
	Options map[string]string
}

func (o AlterModelOptions) Kind() string   { return "alter_model_options" }
func (o AlterModelOptions) Target() string { return o.Entity }
func (o AlterModelOptions) Describe() string {
	return "alter_model_options " + o.Entity + " " + options(o.Options)
}
func (o AlterModelOptions) Mutate(s *schema.State) error {
	return s.SetOptions(o.Entity, o.Options)
}

func (o AlterModelOptions) Reverse(before *schema.State) (Operation, error) {
	e, err := before.MustEntity(o.Entity)
	if err != nil {
		return nil, err
	}
	return AlterModelOptions{Entity: o.Entity, Options: e.Options}, nil
}

// CreateExtension installs a store capability. Applying it twice is harmless
// and reversing it leaves the capability installed.
type CreateExtension struct {
	Name string
}

func (o CreateExtension) Kind() string     { return "create_extension" }
func (o CreateExtension) Target() string   { return "" }
func (o CreateExtension) Describe() string { return "create_extension " + o.Name }
func (o CreateExtension) Mutate(s *schema.State) error {
	s.AddExtension(o.Name)
	return nil
}
func (o CreateExtension) Reverse(*schema.State) (Operation, error) { return nil, nil }

// RunBackfill runs a data transformation at its position in the sequence.
// A nil Backward makes the operation irreversible; backfill.Noop makes
// reversing it a deliberate no-op.
type RunBackfill struct {
	Forward  backfill.Step
	Backward backfill.Step
}

func (o RunBackfill) Kind() string   { return "run_backfill" }
func (o RunBackfill) Target() string { return "" }
func (o RunBackfill) Describe() string {
	back := "none"
	if o.Backward != nil {
		back = o.Backward.Name()
	}
	return "run_backfill " + o.Forward.Name() + " reverse=" + back
}
func (o RunBackfill) Mutate(*schema.State) error { return nil }

func (o RunBackfill) Reverse(*schema.State) (Operation, error) {
	if o.Backward == nil {
		return nil, fmt.Errorf("%w: backfill %s has no reverse step", ErrIrreversible, o.Forward.Name())
	}
	return RunBackfill{Forward: o.Backward, Backward: o.Forward}, nil
}

func sets(s [][]string) string {
	parts := make([]string, len(s))
	for i, set := range s {
		parts[i] = "(" + strings.Join(set, ",") + ")"
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func options(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return "{" + strings.Join(parts, ",") + "}"
}
