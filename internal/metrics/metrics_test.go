package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndTextfile(t *testing.T) {
	c := New()
	c.NodeApplied("tenant_a", "customers", 20*time.Millisecond)
	c.NodeApplied("tenant_a", "customers", 30*time.Millisecond)
	c.NodeFailed("tenant_a", "backfill")
	c.Pending("tenant_a", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.applied.WithLabelValues("tenant_a", "customers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("tenant_a", "backfill")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.pending.WithLabelValues("tenant_a")))

	path := filepath.Join(t.TempDir(), "migrate.prom")
	require.NoError(t, c.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `migrate_nodes_applied_total{env="tenant_a",module="customers"} 2`), string(b))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.NodeApplied("e", "m", time.Second)
	c.NodeFailed("e", "k")
	c.Pending("e", 1)
	assert.NoError(t, c.WriteTextfile("/nonexistent/x.prom"))
}
