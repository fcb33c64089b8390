// Package schema models the shape of entities (tables) as a sequence of
// operations leaves them. A State is the versioned snapshot handed to
// backfill steps and used to compute reverse operations.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	Char      Kind = "char"
	Text      Kind = "text"
	Int       Kind = "int"
	BigInt    Kind = "bigint"
	Decimal   Kind = "decimal"
	Bool      Kind = "bool"
	Timestamp Kind = "timestamp"
	FK        Kind = "fk"
)

type OnDelete string

const (
	Cascade  OnDelete = "cascade"
	Restrict OnDelete = "restrict"
	SetNull  OnDelete = "set_null"
	Protect  OnDelete = "protect"
)

// Ref is a foreign key target.
type Ref struct {
	Entity   string   `yaml:"entity"`
	OnDelete OnDelete `yaml:"on_delete"`
}

type Field struct {
	Name      string  `yaml:"name"`
	Kind      Kind    `yaml:"kind"`
	MaxLength int     `yaml:"max_length,omitempty"`
	Precision int     `yaml:"precision,omitempty"`
	Scale     int     `yaml:"scale,omitempty"`
	Null      bool    `yaml:"nullable,omitempty"`
	Default   *string `yaml:"default,omitempty"`
	Unique    bool    `yaml:"unique,omitempty"`
	Primary   bool    `yaml:"primary,omitempty"`
	Ref       *Ref    `yaml:"ref,omitempty"`
}

func (f Field) String() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteString(" ")
	b.WriteString(string(f.Kind))
	switch f.Kind {
	case Char:
		fmt.Fprintf(&b, "(%d)", f.MaxLength)
	case Decimal:
		fmt.Fprintf(&b, "(%d,%d)", f.Precision, f.Scale)
	case FK:
		if f.Ref != nil {
			fmt.Fprintf(&b, "->%s/%s", f.Ref.Entity, f.Ref.OnDelete)
		}
	}
	if f.Null {
		b.WriteString(" null")
	}
	if f.Default != nil {
		fmt.Fprintf(&b, " default=%q", *f.Default)
	}
	if f.Unique {
		b.WriteString(" unique")
	}
	if f.Primary {
		b.WriteString(" pk")
	}
	return b.String()
}

func (f Field) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("field without name")
	}
	switch f.Kind {
	case Char:
		if f.MaxLength <= 0 {
			return fmt.Errorf("field %s: char requires max_length", f.Name)
		}
	case Decimal:
		if f.Precision <= 0 || f.Scale < 0 || f.Scale > f.Precision {
			return fmt.Errorf("field %s: invalid decimal(%d,%d)", f.Name, f.Precision, f.Scale)
		}
	case FK:
		if f.Ref == nil || f.Ref.Entity == "" {
			return fmt.Errorf("field %s: fk requires ref.entity", f.Name)
		}
		if f.Ref.OnDelete == SetNull && !f.Null {
			return fmt.Errorf("field %s: on_delete set_null requires null", f.Name)
		}
	case Text, Int, BigInt, Bool, Timestamp:
	default:
		return fmt.Errorf("field %s: unknown kind %q", f.Name, f.Kind)
	}
	return nil
}

// Str returns a pointer to s, for Field.Default literals.
func Str(s string) *string { return &s }

type Entity struct {
	Name    string
	Table   string
	Fields  []Field
	Unique  [][]string
	Options map[string]string
}

func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PrimaryKey returns the primary key field name, "id" when none is flagged.
func (e *Entity) PrimaryKey() string {
	for _, f := range e.Fields {
		if f.Primary {
			return f.Name
		}
	}
	return "id"
}

func (e *Entity) FieldNames() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Name
	}
	return out
}

func (e *Entity) clone() *Entity {
	c := &Entity{Name: e.Name, Table: e.Table}
	c.Fields = append([]Field(nil), e.Fields...)
	for _, u := range e.Unique {
		c.Unique = append(c.Unique, append([]string(nil), u...))
	}
	if e.Options != nil {
		c.Options = make(map[string]string, len(e.Options))
		for k, v := range e.Options {
			c.Options[k] = v
		}
	}
	return c
}

// State is the set of entity shapes at one point of the migration graph.
type State struct {
	entities   map[string]*Entity
	extensions map[string]bool
}

func NewState() *State {
	return &State{entities: map[string]*Entity{}, extensions: map[string]bool{}}
}

func (s *State) Clone() *State {
	c := NewState()
	for k, e := range s.entities {
		c.entities[k] = e.clone()
	}
	for k := range s.extensions {
		c.extensions[k] = true
	}
	return c
}

func (s *State) Entity(name string) (*Entity, bool) {
	e, ok := s.entities[name]
	return e, ok
}

func (s *State) MustEntity(name string) (*Entity, error) {
	e, ok := s.entities[name]
	if !ok {
		return nil, fmt.Errorf("entity %q not present in schema state", name)
	}
	return e, nil
}

func (s *State) Entities() []string {
	out := make([]string, 0, len(s.entities))
	for k := range s.entities {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *State) HasExtension(name string) bool { return s.extensions[name] }

func (s *State) CreateEntity(name, table string, fields []Field, options map[string]string) error {
	if _, ok := s.entities[name]; ok {
		return fmt.Errorf("entity %q already exists", name)
	}
	if table == "" {
		table = name
	}
	e := &Entity{Name: name, Table: table, Options: map[string]string{}}
	for k, v := range options {
		e.Options[k] = v
	}
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := e.Field(f.Name); dup {
			return fmt.Errorf("entity %q: duplicate field %q", name, f.Name)
		}
		e.Fields = append(e.Fields, f)
	}
	s.entities[name] = e
	return nil
}

func (s *State) DropEntity(name string) error {
	if _, ok := s.entities[name]; !ok {
		return fmt.Errorf("entity %q not present in schema state", name)
	}
	delete(s.entities, name)
	return nil
}

func (s *State) AddField(entity string, f Field) error {
	e, err := s.MustEntity(entity)
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if _, dup := e.Field(f.Name); dup {
		return fmt.Errorf("entity %q already has field %q", entity, f.Name)
	}
	e.Fields = append(e.Fields, f)
	return nil
}

func (s *State) RemoveField(entity, name string) error {
	e, err := s.MustEntity(entity)
	if err != nil {
		return err
	}
	for i, f := range e.Fields {
		if f.Name == name {
			e.Fields = append(e.Fields[:i], e.Fields[i+1:]...)
			e.Unique = dropFromUnique(e.Unique, name)
			return nil
		}
	}
	return fmt.Errorf("entity %q has no field %q", entity, name)
}

func (s *State) AlterField(entity string, f Field) error {
	e, err := s.MustEntity(entity)
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	for i := range e.Fields {
		if e.Fields[i].Name == f.Name {
			e.Fields[i] = f
			return nil
		}
	}
	return fmt.Errorf("entity %q has no field %q", entity, f.Name)
}

func (s *State) RenameField(entity, from, to string) error {
	e, err := s.MustEntity(entity)
	if err != nil {
		return err
	}
	if _, dup := e.Field(to); dup {
		return fmt.Errorf("entity %q already has field %q", entity, to)
	}
	for i := range e.Fields {
		if e.Fields[i].Name == from {
			e.Fields[i].Name = to
			for _, set := range e.Unique {
				for j := range set {
					if set[j] == from {
						set[j] = to
					}
				}
			}
			return nil
		}
	}
	return fmt.Errorf("entity %q has no field %q", entity, from)
}

func (s *State) SetUniqueTogether(entity string, sets [][]string) error {
	e, err := s.MustEntity(entity)
	if err != nil {
		return err
	}
	for _, set := range sets {
		for _, name := range set {
			if _, ok := e.Field(name); !ok {
				return fmt.Errorf("unique_together on %q references unknown field %q", entity, name)
			}
		}
	}
	e.Unique = nil
	for _, set := range sets {
		e.Unique = append(e.Unique, append([]string(nil), set...))
	}
	return nil
}

func (s *State) SetOptions(entity string, options map[string]string) error {
	e, err := s.MustEntity(entity)
	if err != nil {
		return err
	}
	e.Options = map[string]string{}
	for k, v := range options {
		e.Options[k] = v
	}
	return nil
}

func (s *State) AddExtension(name string) { s.extensions[name] = true }

func dropFromUnique(sets [][]string, name string) [][]string {
	var out [][]string
	for _, set := range sets {
		keep := true
		for _, n := range set {
			if n == name {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, set)
		}
	}
	return out
}
