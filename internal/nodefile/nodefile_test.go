package nodefile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/graphmigrate/internal/backfill"
	"github.com/mirajehossain/graphmigrate/internal/fsutil"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ops"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

const denullify = `
deps: [0001_initial, core:0001_initial]
atomic: true
operations:
  - run_backfill:
      forward: {fill: {entity: customer, field: notes, value: "", empty: false}}
      reverse: noop
  - alter_field:
      entity: customer
      field: {name: notes, kind: text, default: ""}
  - rename_field: {entity: customer, from: location, to: village}
backfill: tag_customers
reverse: {noop: {reason: values were never recorded}}
`

func TestDecodeNode(t *testing.T) {
	tag := backfill.Func{StepName: "tag_customers", Fn: func(context.Context, *backfill.View) error { return nil }}
	n, err := Decode(graph.NodeID{Module: "customers", Name: "0002_denullify"}, []byte(denullify), Steps{"tag_customers": tag})
	require.NoError(t, err)

	assert.Equal(t, []graph.NodeID{
		{Module: "customers", Name: "0001_initial"},
		{Module: "core", Name: "0001_initial"},
	}, n.Deps)
	assert.True(t, n.IsAtomic())
	require.Len(t, n.Ops, 3)

	bf, ok := n.Ops[0].(ops.RunBackfill)
	require.True(t, ok)
	assert.Equal(t, backfill.Fill{Entity: "customer", Field: "notes", Value: ""}, bf.Forward)
	assert.True(t, backfill.IsNoop(bf.Backward))

	want := ops.AlterField{Entity: "customer", Field: schema.Field{Name: "notes", Kind: schema.Text, Default: schema.Str("")}}
	if diff := cmp.Diff(want, n.Ops[1]); diff != "" {
		t.Fatalf("alter_field mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ops.RenameField{Entity: "customer", From: "location", To: "village"}, n.Ops[2])
	assert.Equal(t, "tag_customers", n.Forward.Name())
	assert.Equal(t, backfill.Noop{Reason: "values were never recorded"}, n.Reverse)
}

func TestDecodeMapStep(t *testing.T) {
	src := `
operations: []
backfill:
  map:
    name: update_task_statuses
    entity: task
    field: status
    mapping: {open: new, closed: done}
    default: new
reverse: noop
`
	n, err := Decode(graph.NodeID{Module: "core", Name: "0002_update_task_statuses"}, []byte(src), nil)
	require.NoError(t, err)
	m, ok := n.Forward.(backfill.Map)
	require.True(t, ok)
	assert.Equal(t, "update_task_statuses", m.Name())
	assert.Equal(t, map[string]string{"open": "new", "closed": "done"}, m.Mapping)
	require.NotNil(t, m.Default)
	assert.Equal(t, "new", *m.Default)
}

func TestDecodeErrors(t *testing.T) {
	id := graph.NodeID{Module: "sms", Name: "0002_x"}
	cases := map[string]string{
		"unknown key":        "operations: []\nextra: 1\n",
		"unknown operation":  "operations:\n  - truncate: {entity: sms}\n",
		"two keys":           "operations:\n  - add_field: {}\n    remove_field: {}\n",
		"missing forward":    "operations:\n  - run_backfill: {reverse: noop}\n",
		"chained map":        "backfill: {map: {entity: t, field: s, mapping: {a: b, b: c}}}\n",
		"fill without field": "backfill: {fill: {entity: t}}\n",
		"misspelled op key":  "operations:\n  - add_field: {entity: e, feild: {name: f, kind: text}}\n",
		"misspelled field":   "operations:\n  - add_field: {entity: e, field: {name: f, kind: text, nul: true}}\n",
		"misspelled step":    "backfill: {fill: {entity: t, field: s, valeu: x}}\n",
		"misspelled forward": "operations:\n  - run_backfill: {forward: noop, revrse: noop}\n",
	}
	for name, src := range cases {
		_, err := Decode(id, []byte(src), nil)
		assert.Error(t, err, name)
	}

	_, err := Decode(id, []byte("backfill: send_welcome\n"), nil)
	assert.True(t, errors.Is(err, ErrUnknownStep))
}

func TestDecodeStandaloneSteps(t *testing.T) {
	id := graph.NodeID{Module: "sms", Name: "0003_x"}
	n, err := Decode(id, []byte("reverse: noop\n"), nil)
	require.NoError(t, err)
	assert.Nil(t, n.Forward)
	assert.True(t, backfill.IsNoop(n.Reverse))

	n, err = Decode(id, []byte(`
operations:
  - run_backfill:
      forward: {fill: {entity: message, field: body, value: "", empty: true}}
      reverse: noop
`), nil)
	require.NoError(t, err)
	require.Len(t, n.Ops, 1)
	bf := n.Ops[0].(ops.RunBackfill)
	assert.Equal(t, backfill.Fill{Entity: "message", Field: "body", Value: "", Empty: true}, bf.Forward)
	assert.True(t, backfill.IsNoop(bf.Backward))

	n, err = Decode(id, []byte("backfill:\nreverse:\n"), nil)
	require.NoError(t, err)
	assert.Nil(t, n.Forward)
	assert.Nil(t, n.Reverse)
}

func TestDecodeEmptyFile(t *testing.T) {
	n, err := Decode(graph.NodeID{Module: "sms", Name: "0001_initial"}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, n.Ops)
	assert.Nil(t, n.Forward)
}

func TestLoadFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"nodes/sms/0001_initial.yaml": {Data: []byte(`
operations:
  - create_entity:
      entity: message
      table: sms_message
      fields:
        - {name: id, kind: int, primary: true}
        - {name: body, kind: text}
`)},
		"nodes/sms/0002_sender.yaml": {Data: []byte(`
deps: [0001_initial]
operations:
  - add_field: {entity: message, field: {name: sender, kind: char, max_length: 20, nullable: true}}
`)},
	}
	files, err := fsutil.ScanEmbedded(fsys, "nodes")
	require.NoError(t, err)
	nodes, err := Load(fsys, files, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	reg := graph.NewRegistry()
	require.NoError(t, reg.Register(nodes...))
	st, err := reg.Fold([]graph.NodeID{nodes[0].ID, nodes[1].ID})
	require.NoError(t, err)
	e, ok := st.Entity("message")
	require.True(t, ok)
	assert.Equal(t, "sms_message", e.Table)
	assert.Equal(t, []string{"id", "body", "sender"}, e.FieldNames())
	sender, _ := e.Field("sender")
	assert.True(t, sender.Null, "nullable: true is kept")
	body, _ := e.Field("body")
	assert.False(t, body.Null)
}

func TestLoadShippedEmbeddedNodes(t *testing.T) {
	fsys, files, err := fsutil.ScanDir(filepath.Join("..", "..", "examples", "embedded", "nodes"))
	require.NoError(t, err)
	require.Len(t, files, 3)
	nodes, err := Load(fsys, files, nil)
	require.NoError(t, err)

	reg := graph.NewRegistry()
	require.NoError(t, reg.Register(nodes...))
	require.NoError(t, reg.Check())
	order, err := reg.Order()
	require.NoError(t, err)
	st, err := reg.Fold(order)
	require.NoError(t, err)

	item, ok := st.Entity("item")
	require.True(t, ok)
	label, _ := item.Field("label")
	assert.False(t, label.Null, "0002 makes label required")
	require.NotNil(t, label.Default)
	assert.Equal(t, "unlabelled", *label.Default)

	required, ok := reg.Node(graph.NodeID{Module: "inventory", Name: "0002_label_required"})
	require.True(t, ok)
	require.Len(t, required.Ops, 2)
	_, ok = required.Ops[0].(ops.RunBackfill)
	assert.True(t, ok)
}

func TestScaffold(t *testing.T) {
	dir := t.TempDir()
	files := []fsutil.File{
		{Module: "sms", Name: "0001_initial"},
		{Module: "sms", Name: "0002_sender"},
		{Module: "calls", Name: "0007_x"},
	}
	name, prev := NextName(files, "sms", "Add Delivery Status!")
	assert.Equal(t, "0003_add_delivery_status", name)
	assert.Equal(t, "0002_sender", prev)

	path, err := Scaffold(dir, files, "sms", "add delivery status")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sms", "0003_add_delivery_status.yaml"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	n, err := Decode(graph.NodeID{Module: "sms", Name: "0003_add_delivery_status"}, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{{Module: "sms", Name: "0002_sender"}}, n.Deps)

	_, err = Scaffold(dir, files, "sms", "add delivery status")
	assert.Error(t, err, "an existing file is never overwritten")

	name, prev = NextName(nil, "agri", "initial")
	assert.Equal(t, "0001_initial", name)
	assert.Empty(t, prev)
}
