package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestClassify(t *testing.T) {
	char := func(n int) Field { return Field{Name: "f", Kind: Char, MaxLength: n} }
	dec := func(p, s int) Field { return Field{Name: "f", Kind: Decimal, Precision: p, Scale: s} }
	of := func(k Kind) Field { return Field{Name: "f", Kind: k} }

	cases := []struct {
		name     string
		old, new Field
		want     Narrowing
	}{
		{"char shrinks", char(100), char(50), Length},
		{"char grows", char(50), char(100), Lossless},
		{"text to char", of(Text), char(500), Length},
		{"char to text", char(20), of(Text), Lossless},
		{"bigint to int", of(BigInt), of(Int), Numeric},
		{"int to bigint", of(Int), of(BigInt), Lossless},
		{"decimal integer digits shrink", dec(10, 2), dec(8, 2), Numeric},
		{"decimal scale shrinks", dec(10, 4), dec(10, 2), Numeric},
		{"decimal grows", dec(10, 2), dec(12, 4), Lossless},
		{"int into wide decimal", of(Int), dec(12, 2), Lossless},
		{"int into narrow decimal", of(Int), dec(8, 2), Numeric},
		{"decimal to int", dec(10, 2), of(Int), Numeric},
		{"int to char", of(Int), char(5), Length},
		{"int to text", of(Int), of(Text), Lossless},
		{"text to int", of(Text), of(Int), Incompatible},
		{"bool to int", of(Bool), of(Int), Lossless},
		{"timestamp to bool", of(Timestamp), of(Bool), Incompatible},
		{"null tightened", Field{Name: "f", Kind: Text, Null: true}, of(Text), Nulls},
		{"length wins over nulls", Field{Name: "f", Kind: Char, MaxLength: 9, Null: true}, char(3), Length},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.old, tc.new), "got %s", Classify(tc.old, tc.new))
		})
	}
}

func TestFieldValidate(t *testing.T) {
	assert.NoError(t, Field{Name: "id", Kind: BigInt, Primary: true}.Validate())
	assert.Error(t, Field{Kind: Int}.Validate())
	assert.Error(t, Field{Name: "code", Kind: Char}.Validate())
	assert.Error(t, Field{Name: "amount", Kind: Decimal, Precision: 2, Scale: 4}.Validate())
	assert.Error(t, Field{Name: "customer_id", Kind: FK}.Validate())
	assert.Error(t, Field{Name: "customer_id", Kind: FK, Ref: &Ref{Entity: "customer", OnDelete: SetNull}}.Validate())
	assert.Error(t, Field{Name: "shape", Kind: "polygon"}.Validate())
}

func TestStateMutations(t *testing.T) {
	s := NewState()
	require.NoError(t, s.CreateEntity("market", "markets_market", []Field{
		{Name: "id", Kind: BigInt, Primary: true},
		{Name: "name", Kind: Char, MaxLength: 160},
		{Name: "location", Kind: Char, MaxLength: 100, Null: true},
	}, nil))
	assert.Error(t, s.CreateEntity("market", "", nil, nil))

	require.NoError(t, s.SetUniqueTogether("market", [][]string{{"name", "location"}}))
	require.NoError(t, s.RenameField("market", "location", "town"))
	e, ok := s.Entity("market")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"name", "town"}}, e.Unique)
	assert.Error(t, s.RenameField("market", "name", "town"))

	snapshot := s.Clone()
	require.NoError(t, s.AddField("market", Field{Name: "short_name", Kind: Char, MaxLength: 14, Null: true}))
	require.NoError(t, s.RemoveField("market", "town"))
	assert.Empty(t, e.Unique)

	old, _ := snapshot.Entity("market")
	assert.Equal(t, []string{"id", "name", "town"}, old.FieldNames())
	assert.Equal(t, []string{"id", "name", "short_name"}, e.FieldNames())

	require.NoError(t, s.AlterField("market", Field{Name: "name", Kind: Char, MaxLength: 200}))
	f, _ := e.Field("name")
	assert.Equal(t, 200, f.MaxLength)
	assert.Error(t, s.AlterField("market", Field{Name: "missing", Kind: Text}))

	require.NoError(t, s.SetOptions("market", map[string]string{"ordering": "name"}))
	if diff := cmp.Diff(map[string]string{"ordering": "name"}, e.Options); diff != "" {
		t.Fatalf("options (-want +got):\n%s", diff)
	}
	assert.Empty(t, old.Options)

	s.AddExtension("spatial")
	assert.True(t, s.HasExtension("spatial"))
	assert.False(t, snapshot.HasExtension("spatial"))

	require.NoError(t, s.DropEntity("market"))
	assert.Empty(t, s.Entities())
	assert.Equal(t, []string{"market"}, snapshot.Entities())
}

func TestPrimaryKeyDefaultsToID(t *testing.T) {
	e := &Entity{Fields: []Field{{Name: "code", Kind: Char, MaxLength: 3}}}
	assert.Equal(t, "id", e.PrimaryKey())
	e.Fields = append(e.Fields, Field{Name: "uuid", Kind: Char, MaxLength: 36, Primary: true})
	assert.Equal(t, "uuid", e.PrimaryKey())
}

func TestFieldYAMLNullable(t *testing.T) {
	var f Field
	require.NoError(t, yaml.Unmarshal([]byte(`{name: customer_id, kind: fk, nullable: true, ref: {entity: customer, on_delete: set_null}}`), &f))
	assert.True(t, f.Null)
	assert.NoError(t, f.Validate())

	out, err := yaml.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(out), "nullable: true")
}
