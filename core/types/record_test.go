package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
)

func TestIsSelfConsumption(t *testing.T) {
	factory := types.NewFactory(config.Default())

	tests := []struct {
		name                                        string
		service, instance, providerSvc, providerIns string
		expected                                    bool
	}{
		{"same service and instance", "db", "db1", "db", "db1", true},
		{"same service other instance", "db", "db1", "db", "db2", false},
		{"other service same instance", "app", "db1", "db", "db1", false},
		{"different", "app", "app", "db", "db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := factory.NewConsumerCostRecord()
			c.Service, c.Instance = tt.service, tt.instance
			c.ProviderService, c.ProviderInstance = tt.providerSvc, tt.providerIns
			assert.Equal(t, tt.expected, c.IsSelfConsumption())
		})
	}

	assert.False(t, factory.NewCloudCostRecord().IsSelfConsumption())
}

func TestFactorySizesVectors(t *testing.T) {
	cfg := config.Default()
	cfg.Amounts = append(cfg.Amounts, "Carbon")
	cfg.AllocationKeys = append(cfg.AllocationKeys, "CarbonKey")
	cfg.NbProviderMeters = 2
	cfg.NbProductDimensions = 1
	cfg.NbProductMeters = 3
	factory := types.NewFactory(cfg)

	c := factory.NewConsumerCostRecord()
	assert.Len(t, c.Amounts, 3)
	assert.Len(t, c.ProductAmounts, 3)
	assert.Len(t, c.UnallocatedProductAmounts, 3)
	assert.Len(t, c.AllocationKeys, 2)
	assert.Len(t, c.ProviderMeters, 2)
	assert.Len(t, c.ProductDimensions, 1)
	assert.Len(t, c.ProductMeters, 3)
	assert.Equal(t, types.AllocationKey, c.AllocationType)
	assert.Equal(t, types.NoInstance, c.Provider)

	cloud := factory.NewCloudCostRecord()
	assert.Len(t, cloud.Amounts, 3)
	assert.NotNil(t, cloud.Tags)
}

func TestRecordAmounts(t *testing.T) {
	factory := types.NewFactory(config.Default())

	cloud := factory.NewCloudCostRecord()
	cloud.Amounts[0] = 12
	var record types.CostRecord = cloud
	assert.Equal(t, 12.0, record.ServiceAmount(0))
	assert.Equal(t, 12.0, record.UnallocatedAmount(0))
	assert.True(t, record.ProductInfo().IsZero())

	c := factory.NewConsumerCostRecord()
	c.Amounts[1] = 5
	c.UnallocatedProductAmounts[1] = 2
	c.ProductAmounts[1] = 3
	record = c
	assert.Equal(t, 5.0, record.ServiceAmount(1))
	assert.Equal(t, 2.0, record.UnallocatedAmount(1))

	c.ResetAmounts([]int{1})
	assert.Zero(t, c.Amounts[1])
	assert.Zero(t, c.ProductAmounts[1])
	assert.Zero(t, c.UnallocatedProductAmounts[1])
}

func TestTagsKeyIsCanonical(t *testing.T) {
	a := &types.Record{Tags: map[string]string{"env": "prod", "team": "a"}}
	b := &types.Record{Tags: map[string]string{"team": "a", "env": "prod"}}
	c := &types.Record{Tags: map[string]string{"env": "dev", "team": "a"}}

	assert.Equal(t, a.TagsKey(), b.TagsKey())
	assert.NotEqual(t, a.TagsKey(), c.TagsKey())
	assert.Equal(t, "{}", types.CanonicalTags(nil))
}

func TestProductInfo(t *testing.T) {
	dims := []types.ProductDimension{{Name: "plan", Element: "gold"}, {Name: "region", Element: "eu"}}
	meters := []types.Meter{{Name: "users", Value: 3}}

	full := types.ProductInfo{Product: "crm", Dimensions: dims, Meters: meters}
	other := types.ProductInfo{Product: "crm", Dimensions: dims[:1], Meters: []types.Meter{{Name: "users", Value: 9}}}

	assert.Equal(t, "crm|plan=gold;region=eu;|users;", full.Key())
	assert.Equal(t, "", types.ProductInfo{}.Key())

	d, m := full.Similarity(other)
	assert.Equal(t, 1, d)
	assert.Equal(t, 1, m)

	d, m = full.Similarity(types.ProductInfo{Product: "crm"})
	assert.Zero(t, d)
	assert.Zero(t, m)
}

func TestParseAllocationType(t *testing.T) {
	for _, s := range []string{"", "Key", "Cost", "CloudTagSelector", "ConsumerTag", "DefaultProduct"} {
		_, ok := types.ParseAllocationType(s)
		require.True(t, ok, s)
	}
	at, _ := types.ParseAllocationType("")
	assert.Equal(t, types.AllocationKey, at)

	_, ok := types.ParseAllocationType("Weight")
	assert.False(t, ok)
}
