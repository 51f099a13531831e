package csv

import (
	"context"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/logging"
)

// KeysReader reads cost allocation keys: one consumer record per line
type KeysReader struct {
	cfg     *config.Config
	factory *types.Factory
	logger  *zap.Logger
}

// NewKeysReader creates a cost allocation keys reader
func NewKeysReader(cfg *config.Config) *KeysReader {
	return &KeysReader{
		cfg:     cfg,
		factory: types.NewFactory(cfg),
		logger:  logging.Named("keys-reader"),
	}
}

// ReadURI reads the keys of a file path or http(s) URL
func (r *KeysReader) ReadURI(ctx context.Context, uri string) ([]*types.ConsumerCostRecord, error) {
	body, err := Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return r.Read(body)
}

// Read reads consumer records. Invalid lines are logged and skipped.
func (r *KeysReader) Read(in io.Reader) ([]*types.ConsumerCostRecord, error) {
	var records []*types.ConsumerCostRecord
	skipped := 0
	err := eachRow(in, func(line row) error {
		if record := r.readLine(line); record != nil {
			records = append(records, record)
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Read cost allocation keys",
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
	)
	return records, nil
}

func (r *KeysReader) readLine(line row) *types.ConsumerCostRecord {
	c := r.factory.NewConsumerCostRecord()
	c.Date = strings.TrimSpace(line.value("Date"))

	c.ProviderService = strings.ToLower(line.value("ProviderService"))
	if c.ProviderService == "" {
		r.logger.Error("Skipping cost allocation key line without ProviderService", zap.Int("line", line.line))
		return nil
	}
	c.ProviderInstance = strings.ToLower(line.value("ProviderInstance"))
	if c.ProviderInstance == "" {
		c.ProviderInstance = c.ProviderService
	}

	allocationType, ok := types.ParseAllocationType(line.value("ProviderCostAllocationType"))
	if !ok || allocationType == types.AllocationConsumerTag {
		r.logger.Error("Unknown ProviderCostAllocationType",
			zap.Int("line", line.line),
			zap.String("type", line.value("ProviderCostAllocationType")),
			zap.String("provider_service", c.ProviderService),
		)
		return nil
	}
	c.AllocationType = allocationType
	c.ProviderTagSelector = strings.ToLower(line.value("ProviderTagSelector"))

	switch c.AllocationType {
	case types.AllocationKey, types.AllocationDefaultProduct:
		for k := range r.cfg.AllocationKeys {
			v, err := line.float(keyColumn(r.cfg, k))
			if err != nil {
				r.logger.Warn("Ignoring non-numeric allocation key", zap.Error(err))
				continue
			}
			c.AllocationKeys[k] = v
		}
		if c.AllocationType == types.AllocationKey && c.AllocationKeys[0] == 0 {
			r.logger.Error("Skipping cost allocation key line with zero or non-numeric key",
				zap.Int("line", line.line),
				zap.String("key", line.value(keyColumn(r.cfg, 0))),
				zap.String("provider_service", c.ProviderService),
			)
			return nil
		}
	case types.AllocationCloudTagSelector:
		c.CloudTagSelector = line.value("ProviderCostAllocationCloudTagSelector")
	}

	for i := range c.ProviderMeters {
		suffix := strconv.Itoa(i + 1)
		c.ProviderMeters[i] = r.meter(line, c.ProviderService,
			"ProviderMeterName"+suffix, "ProviderMeterUnit"+suffix, "ProviderMeterValue"+suffix)
	}

	// Tags first, explicit consumer columns override
	parseConsumerTags(line.value("ConsumerTags"), c.Tags)
	fillFromTags(&c.Record, r.cfg.TagKeys)
	if v := line.value("ConsumerService"); v != "" {
		c.Service = strings.ToLower(v)
	}
	if v := line.value("ConsumerInstance"); v != "" {
		c.Instance = strings.ToLower(v)
	}
	for _, dimension := range r.cfg.Dimensions {
		if v := line.value("Consumer" + dimension); v != "" {
			c.Dimensions[dimension] = strings.ToLower(v)
		}
	}

	c.Product = strings.ToLower(line.value("Product"))
	for i := range c.ProductDimensions {
		suffix := strconv.Itoa(i + 1)
		c.ProductDimensions[i] = types.ProductDimension{
			Name:    line.value("ProductDimensionName" + suffix),
			Element: line.value("ProductDimensionElement" + suffix),
		}
	}
	for i := range c.ProductMeters {
		suffix := productMeterSuffix(i)
		c.ProductMeters[i] = r.meter(line, c.ProviderService,
			"ProductMeterName"+suffix, "ProductMeterUnit"+suffix, "ProductMeterValue"+suffix)
	}

	switch {
	case c.Service == "" && c.Product != "":
		// Final consumption of the provider itself
		c.Service = c.ProviderService
		c.Instance = c.ProviderInstance
	case c.Service == "":
		c.Service = r.cfg.DefaultService
		c.Instance = c.Service
	case c.Instance == "":
		c.Instance = c.Service
	}
	return c
}

func (r *KeysReader) meter(line row, providerService, name, unit, value string) types.Meter {
	m := types.Meter{Name: line.value(name), Unit: line.value(unit)}
	v, err := line.float(value)
	if err != nil {
		r.logger.Warn("Ignoring non-numeric meter value",
			zap.String("provider_service", providerService),
			zap.Error(err),
		)
		return m
	}
	m.Value = v
	return m
}

// productMeterSuffix returns the column suffix of the i-th product meter:
// none for the first one
func productMeterSuffix(i int) string {
	if i == 0 {
		return ""
	}
	return strconv.Itoa(i + 1)
}
