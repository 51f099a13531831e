package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
)

const iniConfig = `[General]
DateFormat = %%Y-%%m-%%d
DefaultService = Shared
DefaultProduct = Platform
Dimensions = Environment,Team
Amounts = AmortizedCost,OnDemandCost,Carbon
AllocationKeys = ProviderCostAllocationKey,ProviderCarbonKey
AmountAllocationKeys = AmortizedCost:ProviderCostAllocationKey,OnDemandCost:ProviderCostAllocationKey,Carbon:ProviderCarbonKey
NumberOfProviderMeters = 2
NumberOfProductDimensions = 1
NumberOfProductMeters = 1

[TagKey]
Service = cost_service,service
Instance = cost_instance
ConsumerService = consumer_service
ConsumerServiceIgnoredValue = -,none
Product = product
Environment = env,environment
ConsumerEnvironment = consumer_env

[Cycles]
ServicePrecedenceList = kubernetes,storage
ServiceUpstreamList = kubernetes:kubernetes_nodes
MaxBreaks = 4

[FocusUnusedCommitment]
UnusedCommitmentService = commitments
UnusedCommitmentEnvironment = prod
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadINI(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "allocation.ini", iniConfig))
	require.NoError(t, err)

	assert.Equal(t, "%Y-%m-%d", cfg.DateFormat)
	assert.Equal(t, "2006-01-02", cfg.DateLayout())
	assert.Equal(t, "shared", cfg.DefaultService)
	assert.Equal(t, "platform", cfg.DefaultProduct)
	assert.Equal(t, []string{"Environment", "Team"}, cfg.Dimensions)
	assert.Equal(t, []string{"AmortizedCost", "OnDemandCost", "Carbon"}, cfg.Amounts)
	assert.Equal(t, map[int]int{0: 0, 1: 0, 2: 1}, cfg.AmountAllocationKeys)
	assert.Equal(t, 2, cfg.NbProviderMeters)
	assert.Equal(t, 1, cfg.NbProductDimensions)
	assert.Equal(t, 1, cfg.NbProductMeters)

	assert.Equal(t, []string{"cost_service", "service"}, cfg.TagKeys.Service)
	assert.Equal(t, []string{"-", "none"}, cfg.TagKeys.ConsumerServiceIgnoredValues)
	assert.Equal(t, []string{"env", "environment"}, cfg.TagKeys.Dimensions["Environment"])
	assert.Equal(t, []string{"consumer_env"}, cfg.TagKeys.ConsumerDimensions["Environment"])
	assert.Empty(t, cfg.TagKeys.Dimensions["Team"])

	assert.Equal(t, []string{"kubernetes", "storage"}, cfg.Cycles.ServicePrecedenceList)
	assert.Equal(t, []config.ServiceUpstream{{Service: "kubernetes", Upstream: "kubernetes_nodes"}}, cfg.Cycles.ServiceUpstreams)
	assert.Equal(t, 4, cfg.Cycles.MaxBreaks)

	assert.Equal(t, "commitments", cfg.FocusUnusedCommitment.Service)
	assert.Equal(t, map[string]string{"Environment": "prod"}, cfg.FocusUnusedCommitment.Dimensions)
}

func TestLoadHCL(t *testing.T) {
	path := writeFile(t, "allocation.hcl", `
general {
  default_service = "shared"
  amounts         = ["AmortizedCost", "OnDemandCost"]
  number_of_provider_meters = 1
}

tag_key {
  service = ["cost_service"]
  product = "product"
}

cycles {
  service_precedence_list = ["a", "b"]
}
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "shared", cfg.DefaultService)
	assert.Equal(t, []string{"AmortizedCost", "OnDemandCost"}, cfg.Amounts)
	assert.Equal(t, 1, cfg.NbProviderMeters)
	assert.Equal(t, []string{"cost_service"}, cfg.TagKeys.Service)
	assert.Equal(t, []string{"product"}, cfg.TagKeys.Product)
	assert.Equal(t, []string{"a", "b"}, cfg.Cycles.ServicePrecedenceList)
	assert.Equal(t, config.DefaultMaxBreaks, cfg.Cycles.MaxBreaks)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "allocation.yaml", `
general:
  defaultService: shared
  dimensions: [Environment]
cycles:
  maxBreaks: 3
`)
	t.Setenv("CCA_CYCLES_MAXBREAKS", "7")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shared", cfg.DefaultService)
	assert.Equal(t, []string{"Environment"}, cfg.Dimensions)
	assert.Equal(t, 7, cfg.Cycles.MaxBreaks)
	assert.Equal(t, []string{"AmortizedCost", "OnDemandCost"}, cfg.Amounts)
	assert.Equal(t, map[int]int{0: 0, 1: 0}, cfg.AmountAllocationKeys)
}

func TestFromMapErrors(t *testing.T) {
	tests := []struct {
		name     string
		sections map[string]any
	}{
		{
			name: "unknown amount in mapping",
			sections: map[string]any{"general": map[string]any{
				"defaultservice":       "shared",
				"amountallocationkeys": "Carbon:ProviderCostAllocationKey",
			}},
		},
		{
			name: "unknown key in mapping",
			sections: map[string]any{"general": map[string]any{
				"defaultservice":       "shared",
				"amountallocationkeys": "AmortizedCost:Unknown",
			}},
		},
		{
			name: "missing default service",
			sections: map[string]any{"general": map[string]any{
				"dimensions": "Environment",
			}},
		},
		{
			name: "not an integer",
			sections: map[string]any{"general": map[string]any{
				"defaultservice":         "shared",
				"numberofprovidermeters": "two",
			}},
		},
		{
			name: "bad upstream pair",
			sections: map[string]any{
				"general": map[string]any{"defaultservice": "shared"},
				"cycles":  map[string]any{"serviceupstreamlist": "kubernetes"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.FromMap(tt.sections)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.TypeConfig))
		})
	}
}

func TestAmountToKeyIndexes(t *testing.T) {
	cfg := config.Default()
	cfg.Amounts = append(cfg.Amounts, "Carbon")
	cfg.AllocationKeys = append(cfg.AllocationKeys, "CarbonKey")
	cfg.AmountAllocationKeys[2] = 1

	indexes, err := cfg.AmountToKeyIndexes([]string{"OnDemandCost", "Carbon"})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 0, 2: 1}, indexes)

	_, err = cfg.AmountToKeyIndexes([]string{"Water"})
	assert.True(t, errors.IsType(err, errors.TypeConfig))
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("CCA_LOG_LEVEL", "debug")
	t.Setenv("CCA_CLICKHOUSE_ADDR", "ch1:9000,ch2:9000")

	settings, err := config.LoadSettings(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "debug", settings.Logging().Level)
	assert.Equal(t, "console", settings.Log.Format)
	assert.Equal(t, "file", settings.Store.Backend)
	assert.Equal(t, []string{"ch1:9000", "ch2:9000"}, settings.ClickHouse.Addr)
}
