package fsutil

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("operations: []\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("customers/0001_initial.yaml")
	write("customers/0002_denullify_text_fields.yaml")
	write("customers/README.md")
	write("core/0001_initial.yml")
	write("notes.yaml")
	write("Bad-Module/0001_initial.yaml")

	fsys, files, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []File{
		{Module: "core", Name: "0001_initial", Path: "core/0001_initial.yml"},
		{Module: "customers", Name: "0001_initial", Path: "customers/0001_initial.yaml"},
		{Module: "customers", Name: "0002_denullify_text_fields", Path: "customers/0002_denullify_text_fields.yaml"},
	}
	assert.Equal(t, want, files)
	assert.Equal(t, []string{"core", "customers"}, Modules(files))

	b, err := fs.ReadFile(fsys, files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "operations: []\n", string(b))
}

func TestScanEmbeddedRejectsDuplicates(t *testing.T) {
	fsys := fstest.MapFS{
		"nodes/sms/0001_initial.yaml": {Data: []byte("{}")},
		"nodes/sms/0001_initial.yml":  {Data: []byte("{}")},
	}
	_, err := ScanEmbedded(fsys, "nodes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node sms:0001_initial")
}

func TestScanEmbeddedRoot(t *testing.T) {
	fsys := fstest.MapFS{
		"nodes/sms/0001_initial.yaml":   {Data: []byte("{}")},
		"nodes/sms/0002_add_sender.yaml": {Data: []byte("{}")},
	}
	files, err := ScanEmbedded(fsys, "nodes")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "nodes/sms/0002_add_sender.yaml", files[1].Path)
}

func TestWatchReportsNewNodeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sms"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 20*time.Millisecond, func() { changes.Add(1) }, nil)
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "sms", "0001_initial.yaml"), []byte("{}"), 0o644)
		return changes.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
