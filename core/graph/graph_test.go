package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-cost-allocation/core/graph"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
)

var factory = types.NewFactory(config.Default())

func cloud(service string, amount float64) *types.CloudCostRecord {
	c := factory.NewCloudCostRecord()
	c.Service = service
	c.Instance = service
	c.Amounts[0] = amount
	return c
}

func edge(consumer, provider string) *types.ConsumerCostRecord {
	c := factory.NewConsumerCostRecord()
	c.Service = consumer
	c.Instance = consumer
	c.ProviderService = provider
	c.ProviderInstance = provider
	c.AllocationKeys[0] = 1
	return c
}

// threeCycle returns b→a, c→b, a→c (consumer→provider) plus a cloud cost on a
func threeCycle() ([]types.CostRecord, *types.ConsumerCostRecord, *types.ConsumerCostRecord, *types.ConsumerCostRecord) {
	ba := edge("b", "a")
	cb := edge("c", "b")
	ac := edge("a", "c")
	return []types.CostRecord{ba, cb, ac, cloud("a", 100)}, ba, cb, ac
}

func TestBuildLinksRecords(t *testing.T) {
	self := edge("a", "a")
	ba := edge("b", "a")
	removed := edge("c", "a")
	removed.RemovedFromCycle = true

	registry := graph.Build([]types.CostRecord{cloud("a", 10), self, ba, removed}, 2)

	require.Equal(t, 2, registry.Len())
	a, ok := registry.Get("a", "a")
	require.True(t, ok)
	b, ok := registry.Get("b", "b")
	require.True(t, ok)
	_, ok = registry.Get("c", "c")
	assert.False(t, ok)

	assert.Len(t, a.CostRecords, 2)
	assert.Len(t, a.ConsumerRecords, 2)
	assert.True(t, a.IsProvider())
	assert.False(t, b.IsProvider())
	assert.Equal(t, a.ID, ba.Provider)
	assert.Equal(t, a.ID, self.Provider)
	assert.Equal(t, types.NoInstance, removed.Provider)
	assert.Len(t, a.Totals, 2)
	assert.Same(t, a, registry.Instance(a.ID))
}

func TestRegistrySorted(t *testing.T) {
	registry := graph.NewRegistry(1)
	registry.GetOrAdd("zeta", "1")
	registry.GetOrAdd("alpha", "2")
	registry.GetOrAdd("alpha", "1")

	var keys []string
	for _, si := range registry.Sorted() {
		keys = append(keys, si.Key())
	}
	assert.Equal(t, []string{"alpha.1", "alpha.2", "zeta.1"}, keys)
	assert.Equal(t, "zeta.1", registry.Instances()[0].Key())
}

func TestSelectorBuckets(t *testing.T) {
	si := graph.NewRegistry(2).GetOrAdd("k8s", "k8s")

	prod := si.Selector("env == 'prod'", 2, 1)
	si.Selector("", 2, 1)
	assert.Same(t, prod, si.Selector("env == 'prod'", 2, 1))
	require.Len(t, si.Selectors(), 2)
	assert.Equal(t, "env == 'prod'", si.Selectors()[0].Selector)
	assert.True(t, si.Selectors()[1].IsDefault())

	info := types.ProductInfo{Product: "crm"}
	bucket := prod.Product(info)
	assert.Same(t, bucket, prod.Product(info))
	assert.Same(t, prod.Default, prod.Product(types.ProductInfo{}))
	_, ok := prod.LookupProduct(types.ProductInfo{Product: "erp"})
	assert.False(t, ok)
	assert.Len(t, prod.Buckets(), 2)

	e := edge("crm", "k8s")
	e.AllocationKeys[0] = 3
	bucket.AddKeys(e)
	assert.InDelta(t, 30.0, bucket.Share(40, 3, 0)+bucket.Share(-10, 3, 0), 1e-9)

	empty := prod.Default
	empty.NbKeys = 4
	assert.InDelta(t, 5.0, empty.Share(20, 0, 0), 1e-9)

	si.ClearSelectors()
	assert.Empty(t, si.Selectors())
}

func TestBreakCyclesThreeCycle(t *testing.T) {
	records, ba, cb, ac := threeCycle()

	breaks, err := graph.BreakCycles(records, []string{"b", "c"}, config.DefaultMaxBreaks)
	require.NoError(t, err)
	assert.Equal(t, 1, breaks)
	assert.True(t, ba.RemovedFromCycle)
	assert.False(t, cb.RemovedFromCycle)
	assert.False(t, ac.RemovedFromCycle)
}

func TestBreakCyclesIsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		records, ba, cb, ac := threeCycle()
		_, err := graph.BreakCycles(records, []string{"c", "a"}, config.DefaultMaxBreaks)
		require.NoError(t, err)
		assert.False(t, ba.RemovedFromCycle)
		assert.True(t, cb.RemovedFromCycle)
		assert.False(t, ac.RemovedFromCycle)
	}
}

func TestBreakCyclesUnbreakable(t *testing.T) {
	tests := []struct {
		name       string
		precedence []string
	}{
		{"empty precedence", nil},
		{"single service", []string{"b"}},
		{"services outside the cycle", []string{"x", "y"}},
		{"same service twice", []string{"b", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, _, _, _ := threeCycle()
			_, err := graph.BreakCycles(records, tt.precedence, config.DefaultMaxBreaks)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.TypeCycleUnbreakable))
		})
	}
}

func TestBreakCyclesLimit(t *testing.T) {
	records, _, _, _ := threeCycle()
	_, err := graph.BreakCycles(records, []string{"b", "c"}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeCycleBreakLimit))
}

func TestBreakCyclesSeveralCycles(t *testing.T) {
	records, _, _, _ := threeCycle()
	de := edge("d", "e")
	ed := edge("e", "d")
	records = append(records, de, ed, edge("f", "d"))

	breaks, err := graph.BreakCycles(records, []string{"b", "c", "e", "d"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, breaks)
	assert.True(t, ed.RemovedFromCycle)
	assert.False(t, de.RemovedFromCycle)

	status, _, _ := graph.DetectAndBreak(graph.Build(records, 0), nil)
	assert.Equal(t, graph.CycleContinue, status)
}

func TestBreakCyclesIgnoresSelfConsumption(t *testing.T) {
	records := []types.CostRecord{cloud("a", 1), edge("a", "a"), edge("b", "a"), edge("b", "b")}
	breaks, err := graph.BreakCycles(records, nil, config.DefaultMaxBreaks)
	require.NoError(t, err)
	assert.Zero(t, breaks)
}
