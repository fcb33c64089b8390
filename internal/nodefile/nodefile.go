// Package nodefile reads migration nodes written as YAML, one file per node
// at <dir>/<module>/<NNNN_name>.yaml:
//
//	deps: [core:0001_initial, 0001_initial]
//	atomic: true
//	operations:
//	  - add_field: {entity: customer, field: {name: phone, kind: char, max_length: 20, nullable: true}}
//	  - run_backfill: {forward: fill_phone, reverse: noop}
//	backfill: {fill: {entity: customer, field: notes, value: "", empty: true}}
//	reverse: noop
//
// A dependency without a module refers to the file's own module. Backfill
// steps are either names of registered Go steps or inline fill, map and noop
// definitions.
package nodefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/mirajehossain/graphmigrate/internal/backfill"
	"github.com/mirajehossain/graphmigrate/internal/fsutil"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ops"
)

// Steps resolves step names used in node files.
type Steps map[string]backfill.Step

var ErrUnknownStep = errors.New("unknown backfill step")

type file struct {
	Deps       []string    `yaml:"deps"`
	Atomic     *bool       `yaml:"atomic"`
	Operations []yaml.Node `yaml:"operations"`
	Backfill   yaml.Node   `yaml:"backfill"`
	Reverse    yaml.Node   `yaml:"reverse"`
}

// Load decodes every scanned file into a node.
func Load(fsys fs.FS, files []fsutil.File, steps Steps) ([]*graph.Node, error) {
	out := make([]*graph.Node, 0, len(files))
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f.Path)
		if err != nil {
			return nil, err
		}
		n, err := Decode(graph.NodeID{Module: f.Module, Name: f.Name}, b, steps)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Decode builds the node id from one file's contents.
func Decode(id graph.NodeID, b []byte, steps Steps) (*graph.Node, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	n := &graph.Node{ID: id, Atomic: f.Atomic}
	for _, d := range f.Deps {
		dep, err := graph.ParseNodeID(d)
		if err != nil {
			dep = graph.NodeID{Module: id.Module, Name: d}
		}
		n.Deps = append(n.Deps, dep)
	}
	for i := range f.Operations {
		op, err := operation(&f.Operations[i], steps)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		n.Ops = append(n.Ops, op)
	}
	var err error
	if n.Forward, err = step(&f.Backfill, steps); err != nil {
		return nil, fmt.Errorf("backfill: %w", err)
	}
	if n.Reverse, err = step(&f.Reverse, steps); err != nil {
		return nil, fmt.Errorf("reverse: %w", err)
	}
	return n, nil
}

// single unpacks a one-key mapping such as {add_field: {...}}.
func single(v *yaml.Node) (string, *yaml.Node, error) {
	if v.Kind != yaml.MappingNode || len(v.Content) != 2 {
		return "", nil, fmt.Errorf("line %d: want a mapping with exactly one key", v.Line)
	}
	return v.Content[0].Value, v.Content[1], nil
}

func operation(v *yaml.Node, steps Steps) (ops.Operation, error) {
	kind, body, err := single(v)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "create_entity":
		return decode[ops.CreateEntity](kind, body)
	case "drop_entity":
		return decode[ops.DropEntity](kind, body)
	case "add_field":
		return decode[ops.AddField](kind, body)
	case "remove_field":
		return decode[ops.RemoveField](kind, body)
	case "alter_field":
		return decode[ops.AlterField](kind, body)
	case "rename_field":
		return decode[ops.RenameField](kind, body)
	case "alter_unique_together":
		return decode[ops.AlterUniqueTogether](kind, body)
	case "alter_model_options":
		return decode[ops.AlterModelOptions](kind, body)
	case "create_extension":
		return decode[ops.CreateExtension](kind, body)
	case "run_backfill":
		return runBackfill(body, steps)
	}
	return nil, fmt.Errorf("line %d: unknown operation %q", v.Line, kind)
}

// strict decodes body into out, rejecting keys out does not declare.
// yaml.Node.Decode does not carry KnownFields over from the file decoder.
func strict(body *yaml.Node, out any) error {
	b, err := yaml.Marshal(body)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("line %d: %w", body.Line, err)
	}
	return nil
}

func decode[T ops.Operation](kind string, body *yaml.Node) (ops.Operation, error) {
	var o T
	if err := strict(body, &o); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return o, nil
}

func runBackfill(body *yaml.Node, steps Steps) (ops.Operation, error) {
	var raw struct {
		Forward yaml.Node `yaml:"forward"`
		Reverse yaml.Node `yaml:"reverse"`
	}
	if err := strict(body, &raw); err != nil {
		return nil, fmt.Errorf("run_backfill: %w", err)
	}
	if absent(&raw.Forward) {
		return nil, fmt.Errorf("run_backfill: line %d: forward is required", body.Line)
	}
	fwd, err := step(&raw.Forward, steps)
	if err != nil {
		return nil, fmt.Errorf("run_backfill forward: %w", err)
	}
	back, err := step(&raw.Reverse, steps)
	if err != nil {
		return nil, fmt.Errorf("run_backfill reverse: %w", err)
	}
	return ops.RunBackfill{Forward: fwd, Backward: back}, nil
}

// absent reports a key that was missing or left empty.
func absent(v *yaml.Node) bool {
	return v == nil || v.Kind == 0 || v.Tag == "!!null"
}

// step returns nil for an absent step.
func step(v *yaml.Node, steps Steps) (backfill.Step, error) {
	if absent(v) {
		return nil, nil
	}
	if v.Kind == yaml.ScalarNode {
		if v.Value == "noop" {
			return backfill.Noop{}, nil
		}
		s, ok := steps[v.Value]
		if !ok {
			return nil, fmt.Errorf("%w %q (line %d)", ErrUnknownStep, v.Value, v.Line)
		}
		return s, nil
	}
	kind, body, err := single(v)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "noop":
		var s backfill.Noop
		if err := strict(body, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "fill":
		var s backfill.Fill
		if err := strict(body, &s); err != nil {
			return nil, err
		}
		if s.Entity == "" || s.Field == "" {
			return nil, fmt.Errorf("fill: line %d: entity and field are required", body.Line)
		}
		return s, nil
	case "map":
		var s backfill.Map
		if err := strict(body, &s); err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("line %d: unknown step kind %q", v.Line, kind)
}
