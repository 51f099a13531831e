package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.RecordRead("focus", 12)
	r.RecordRead("keys", 4)
	r.RecordRead("focus", 3)
	r.RecordsDropped("untangled", 2)
	r.CycleBreaks(1)
	r.SelectorFailures(2, 5)
	r.AmountAllocated("AmortizedCost", 125.5)
	r.AmountAllocated("AmortizedCost", 130)
	r.AllocationDuration(2 * time.Second)

	assert.Equal(t, 15.0, testutil.ToFloat64(r.RecordsReadTotal.WithLabelValues("focus")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.RecordsReadTotal.WithLabelValues("keys")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.RecordsDroppedTotal.WithLabelValues("untangled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CycleBreaksTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.SelectorFailuresTotal.WithLabelValues("distinct")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.SelectorFailuresTotal.WithLabelValues("total")))
	assert.Equal(t, 130.0, testutil.ToFloat64(r.AllocatedAmount.WithLabelValues("AmortizedCost")))
	assert.Greater(t, testutil.ToFloat64(r.LastSuccess), 0.0)
	assert.Equal(t, 1, testutil.CollectAndCount(r.AllocationSeconds))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	r.CycleBreaks(3)

	path := filepath.Join(t.TempDir(), "allocation.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "cost_allocation_cycle_breaks_total 3"))

	err = r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "allocation.prom"))
	assert.Error(t, err)
}
