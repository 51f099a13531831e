package csv_test

import (
	"bytes"
	"context"
	encsv "encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-cost-allocation/adapters/csv"
	"cloud-cost-allocation/core/allocation"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dimensions = []string{"Environment"}
	cfg.NbProviderMeters = 1
	cfg.NbProductDimensions = 1
	cfg.NbProductMeters = 1
	cfg.TagKeys.Service = []string{"service"}
	cfg.TagKeys.Instance = []string{"instance"}
	cfg.TagKeys.Dimensions = map[string][]string{"Environment": {"env"}}
	cfg.FocusUnusedCommitment = config.UnusedCommitmentConfig{
		Service:    "commitments",
		Dimensions: map[string]string{"Environment": "none"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// csvOf renders lines given as column/value maps under the given header
func csvOf(t *testing.T, header []string, lines ...map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := encsv.NewWriter(&buf)
	require.NoError(t, w.Write(header))
	for _, line := range lines {
		values := make([]string, len(header))
		for i, h := range header {
			values[i] = line[h]
		}
		require.NoError(t, w.Write(values))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.String()
}

func TestTags(t *testing.T) {
	tags := map[string]string{"a,b": "c:d", "path": `x\y`, "k": ""}
	s := csv.SerializeTags(tags)
	assert.Equal(t, `a\,b:c\:d,k:,path:x\\y,`, s)
	assert.Equal(t, tags, csv.DeserializeTags(s))

	assert.Equal(t, map[string]string{"env": "prod", "team": "core"}, csv.DeserializeTags("Env:Prod, Team : Core,"))
	assert.Equal(t, map[string]string{"ok": "1"}, csv.DeserializeTags("novalue,ok:1"))
	assert.Empty(t, csv.DeserializeTags(""))
}

var keysHeader = []string{
	"Date", "ProviderService", "ProviderInstance", "ProviderCostAllocationType", "ProviderTagSelector",
	"ProviderCostAllocationKey", "ProviderCostAllocationCloudTagSelector",
	"ProviderMeterName1", "ProviderMeterUnit1", "ProviderMeterValue1",
	"ConsumerTags", "ConsumerService", "ConsumerInstance", "ConsumerEnvironment",
	"Product", "ProductDimensionName1", "ProductDimensionElement1",
	"ProductMeterName", "ProductMeterUnit", "ProductMeterValue",
}

func TestKeysReader(t *testing.T) {
	input := csvOf(t, keysHeader,
		map[string]string{
			"Date": "2024-01-01", "ProviderService": "Kubernetes", "ProviderTagSelector": "env == 'prod'",
			"ProviderCostAllocationKey": "60", "ConsumerTags": "service:App,env:Prod",
			"ProviderMeterName1": "cpu", "ProviderMeterUnit1": "core", "ProviderMeterValue1": "4",
		},
		map[string]string{
			"Date": "2024-01-01", "ProviderService": "kubernetes", "ProviderCostAllocationKey": "40",
			"ConsumerTags": "env:prod", "ConsumerService": "Batch", "ConsumerInstance": "b1", "ConsumerEnvironment": "Dev",
		},
		// Skipped: zero key, unknown type, no provider
		map[string]string{"ProviderService": "kubernetes", "ProviderCostAllocationKey": "0", "ConsumerService": "x"},
		map[string]string{"ProviderService": "kubernetes", "ProviderCostAllocationType": "Bogus", "ProviderCostAllocationKey": "1"},
		map[string]string{"ProviderCostAllocationKey": "1", "ConsumerService": "x"},
		map[string]string{
			"Date": "2024-01-01", "ProviderService": "crm", "ProviderCostAllocationKey": "1", "Product": "Gold",
			"ProductDimensionName1": "plan", "ProductDimensionElement1": "Premium",
			"ProductMeterName": "users", "ProductMeterUnit": "u", "ProductMeterValue": "12",
		},
		map[string]string{
			"Date": "2024-01-01", "ProviderService": "storage", "ProviderCostAllocationType": "CloudTagSelector",
			"ProviderCostAllocationCloudTagSelector": "'team' in globals()", "ConsumerService": "db",
		},
		map[string]string{"Date": "2024-01-01", "ProviderService": "storage", "ProviderCostAllocationKey": "5"},
	)

	records, err := csv.NewKeysReader(testConfig(t)).Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 5)

	app := records[0]
	assert.Equal(t, "kubernetes", app.ProviderService)
	assert.Equal(t, "kubernetes", app.ProviderInstance)
	assert.Equal(t, "env == 'prod'", app.ProviderTagSelector)
	assert.Equal(t, types.AllocationKey, app.AllocationType)
	assert.Equal(t, []float64{60}, app.AllocationKeys)
	assert.Equal(t, "app", app.Service)
	assert.Equal(t, "app", app.Instance)
	assert.Equal(t, "prod", app.Dimensions["Environment"])
	assert.Equal(t, types.Meter{Name: "cpu", Unit: "core", Value: 4}, app.ProviderMeters[0])

	batch := records[1]
	assert.Equal(t, "batch", batch.Service)
	assert.Equal(t, "b1", batch.Instance)
	assert.Equal(t, "dev", batch.Dimensions["Environment"], "explicit columns override tags")

	crm := records[2]
	assert.True(t, crm.IsSelfConsumption())
	assert.Equal(t, "gold", crm.Product)
	assert.Equal(t, types.ProductDimension{Name: "plan", Element: "Premium"}, crm.ProductDimensions[0])
	assert.Equal(t, types.Meter{Name: "users", Unit: "u", Value: 12}, crm.ProductMeters[0])

	cts := records[3]
	assert.Equal(t, types.AllocationCloudTagSelector, cts.AllocationType)
	assert.Equal(t, "'team' in globals()", cts.CloudTagSelector)
	assert.Equal(t, "db", cts.Service)

	unassigned := records[4]
	assert.Equal(t, "unallocated", unassigned.Service)
	assert.Equal(t, "unallocated", unassigned.Instance)
}

var focusHeader = []string{
	"ChargePeriodStart", "ChargePeriodEnd", "EffectiveCost", "ContractedCost",
	"BillingCurrency", "Tags", "CommitmentDiscountStatus",
}

func TestFocusReader(t *testing.T) {
	input := csvOf(t, focusHeader,
		map[string]string{
			"ChargePeriodStart": "2024-01-01T00:00:00Z", "ChargePeriodEnd": "2024-01-02T00:00:00Z",
			"EffectiveCost": "10.5", "ContractedCost": "12", "BillingCurrency": "EUR",
			"Tags": `{"Service":"App","env":"Prod","n":3}`,
		},
		map[string]string{
			"ChargePeriodStart": "2024-01-01 00:00:00", "ChargePeriodEnd": "2024-01-02 00:00:00",
			"EffectiveCost": "7", "ContractedCost": "0", "BillingCurrency": "EUR",
			"Tags": `{"service":"app"}`, "CommitmentDiscountStatus": "Unused",
		},
		map[string]string{
			"ChargePeriodStart": "2024-01-01", "ChargePeriodEnd": "2024-01-02",
			"EffectiveCost": "1", "ContractedCost": "1", "BillingCurrency": "EUR", "Tags": "null",
		},
	)

	records, err := csv.NewFocusReader(testConfig(t)).Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)

	app := records[0]
	assert.Equal(t, "2024-01-01", app.Date)
	assert.Equal(t, []float64{10.5, 12}, app.Amounts)
	assert.Equal(t, "EUR", app.Currency)
	assert.Equal(t, map[string]string{"service": "app", "env": "prod", "n": "3"}, app.Tags)
	assert.Equal(t, "app", app.Service)
	assert.Equal(t, "app", app.Instance)
	assert.Equal(t, "prod", app.Dimensions["Environment"])

	unused := records[1]
	assert.Equal(t, "commitments", unused.Service)
	assert.Equal(t, "commitments", unused.Instance)
	assert.Equal(t, "none", unused.Dimensions["Environment"])

	untagged := records[2]
	assert.Empty(t, untagged.Tags)
	assert.Equal(t, "unallocated", untagged.Service)
}

func TestFocusReaderDateFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.DateFormat = "%Y%m%d"
	input := csvOf(t, focusHeader, map[string]string{
		"ChargePeriodStart": "2024-03-05T00:00:00Z", "ChargePeriodEnd": "2024-03-06T00:00:00Z",
		"EffectiveCost": "1", "ContractedCost": "1", "Tags": "",
	})

	records, err := csv.NewFocusReader(cfg).Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "20240305", records[0].Date)
}

func TestFocusReaderErrors(t *testing.T) {
	valid := map[string]string{
		"ChargePeriodStart": "2024-01-01T00:00:00Z", "ChargePeriodEnd": "2024-01-02T00:00:00Z",
		"EffectiveCost": "1", "ContractedCost": "1", "Tags": "null",
	}
	with := func(column, value string) map[string]string {
		line := make(map[string]string, len(valid))
		for k, v := range valid {
			line[k] = v
		}
		line[column] = value
		return line
	}

	tests := []struct {
		name    string
		line    map[string]string
		errType errors.Type
	}{
		{"two days", with("ChargePeriodEnd", "2024-01-03T00:00:00Z"), errors.TypeInput},
		{"bad start", with("ChargePeriodStart", "yesterday"), errors.TypeParsing},
		{"bad cost", with("EffectiveCost", "abc"), errors.TypeParsing},
		{"missing cost", with("ContractedCost", ""), errors.TypeParsing},
		{"bad tags", with("Tags", "{service"), errors.TypeParsing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := csv.NewFocusReader(testConfig(t)).Read(strings.NewReader(csvOf(t, focusHeader, tt.line)))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestWriterRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	factory := types.NewFactory(cfg)

	k8s := factory.NewCloudCostRecord()
	k8s.Date, k8s.Currency = "2024-01-01", "EUR"
	k8s.Service, k8s.Instance = "kubernetes", "kubernetes"
	k8s.Tags["team"] = "a,b"
	k8s.Dimensions["Environment"] = "prod"
	k8s.Amounts[0], k8s.Amounts[1] = 100, 150

	edge := func(service string, key float64, product string) *types.ConsumerCostRecord {
		c := factory.NewConsumerCostRecord()
		c.Service, c.Instance = service, service
		c.ProviderService, c.ProviderInstance = "kubernetes", "kubernetes"
		c.SetKeys(key)
		c.Product = product
		if product != "" {
			c.ProductDimensions[0] = types.ProductDimension{Name: "plan", Element: "gold"}
			c.ProductMeters[0] = types.Meter{Name: "users", Unit: "u", Value: 3}
		}
		return c
	}
	web := edge("web", 60, "shop")
	batch := edge("batch", 40, "")

	a := allocation.New(cfg)
	a.Date, a.Currency = "2024-01-01", "EUR"
	require.NoError(t, a.Allocate([]*types.ConsumerCostRecord{web, batch}, []*types.CloudCostRecord{k8s}, cfg.Amounts))

	writer := csv.NewAllocatedCostWriter(cfg)
	path := filepath.Join(t.TempDir(), "allocated.csv")
	require.NoError(t, writer.WriteFile(path, a.ServiceInstances()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(writer.Headers(), ","), lines[0])
	assert.Contains(t, writer.Headers(), "ProductMeterValue")
	assert.Contains(t, writer.Headers(), "ProviderMeterValue1")

	records, err := csv.NewAllocatedCostReader(cfg).ReadURI(context.Background(), path)
	require.NoError(t, err)

	var expected []types.CostRecord
	for _, si := range a.ServiceInstances() {
		expected = append(expected, si.CostRecords...)
	}
	require.Len(t, records, len(expected))

	for i, want := range expected {
		got := records[i]
		assert.Equal(t, want.Base().Date, got.Base().Date)
		assert.Equal(t, want.Base().InstanceKey(), got.Base().InstanceKey())
		assert.Equal(t, want.Base().Tags, got.Base().Tags)
		assert.Equal(t, want.Base().Dimensions["Environment"], got.Base().Dimensions["Environment"])
		assert.InDeltaSlice(t, want.Base().Amounts, got.Base().Amounts, 1e-9)

		wantEdge, isEdge := want.(*types.ConsumerCostRecord)
		gotEdge, ok := got.(*types.ConsumerCostRecord)
		require.Equal(t, isEdge, ok)
		if !isEdge {
			continue
		}
		assert.Equal(t, wantEdge.ProviderKey(), gotEdge.ProviderKey())
		assert.Equal(t, wantEdge.AllocationType, gotEdge.AllocationType)
		assert.Equal(t, wantEdge.AllocationKeys, gotEdge.AllocationKeys)
		assert.Equal(t, wantEdge.Product, gotEdge.Product)
		assert.InDeltaSlice(t, wantEdge.ProductAmounts, gotEdge.ProductAmounts, 1e-9)
		if wantEdge.Product != "" {
			assert.Equal(t, wantEdge.ProductDimensions, gotEdge.ProductDimensions)
			assert.Equal(t, wantEdge.ProductMeters, gotEdge.ProductMeters)
		}
	}
	assert.InDelta(t, 60.0, web.Amounts[0], 1e-9)
	assert.InDelta(t, 60.0, web.ProductAmounts[0], 1e-9)
}

func TestFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/keys.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("a,b\n1,2\n"))
	}))
	defer server.Close()

	for _, uri := range []string{path, server.URL + "/keys.csv"} {
		body, err := csv.Fetch(context.Background(), uri)
		require.NoError(t, err, uri)
		buf := new(bytes.Buffer)
		_, err = buf.ReadFrom(body)
		require.NoError(t, err)
		require.NoError(t, body.Close())
		assert.Equal(t, "a,b\n1,2\n", buf.String())
	}

	_, err := csv.Fetch(context.Background(), server.URL+"/missing.csv")
	assert.True(t, errors.IsType(err, errors.TypeInput))

	_, err = csv.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.IsType(err, errors.TypeInput))

	assert.True(t, csv.IsURL("https://example.com/a.csv"))
	assert.False(t, csv.IsURL("C:/data/a.csv"))
	assert.False(t, csv.IsURL("data/a.csv"))
}
