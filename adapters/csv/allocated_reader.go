package csv

import (
	"context"
	"io"
	"strconv"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/logging"
)

// AllocatedCostReader reads the output of a previous allocation, to allocate
// further amounts on the same edges
type AllocatedCostReader struct {
	cfg     *config.Config
	factory *types.Factory
	logger  *zap.Logger
}

// NewAllocatedCostReader creates an allocated cost reader
func NewAllocatedCostReader(cfg *config.Config) *AllocatedCostReader {
	return &AllocatedCostReader{
		cfg:     cfg,
		factory: types.NewFactory(cfg),
		logger:  logging.Named("allocated-reader"),
	}
}

// ReadURI reads the records of a file path or http(s) URL
func (r *AllocatedCostReader) ReadURI(ctx context.Context, uri string) ([]types.CostRecord, error) {
	body, err := Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return r.Read(body)
}

// Read reads cloud records and consumer records: a line with a
// ProviderService is a consumer record
func (r *AllocatedCostReader) Read(in io.Reader) ([]types.CostRecord, error) {
	var records []types.CostRecord
	clouds := 0
	err := eachRow(in, func(line row) error {
		if line.value("ProviderService") == "" {
			c := r.factory.NewCloudCostRecord()
			if err := r.readRecord(line, &c.Record); err != nil {
				return err
			}
			records = append(records, c)
			clouds++
			return nil
		}
		c, err := r.readConsumer(line)
		if err != nil {
			return err
		}
		records = append(records, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Read allocated costs",
		zap.Int("cloud_records", clouds),
		zap.Int("consumer_records", len(records)-clouds),
	)
	return records, nil
}

func (r *AllocatedCostReader) readRecord(line row, record *types.Record) error {
	record.Date = line.value("Date")
	record.Service = line.value("Service")
	record.Instance = line.value("Instance")
	for _, dimension := range r.cfg.Dimensions {
		record.Dimensions[dimension] = line.value(dimension)
	}
	if tags := line.value("Tags"); tags != "" {
		record.Tags = DeserializeTags(tags)
	}
	for i := range r.cfg.Amounts {
		v, err := line.float(amountColumn(r.cfg, i))
		if err != nil {
			return err
		}
		record.Amounts[i] = v
	}
	record.Currency = line.value("Currency")
	return nil
}

func (r *AllocatedCostReader) readConsumer(line row) (*types.ConsumerCostRecord, error) {
	c := r.factory.NewConsumerCostRecord()
	if err := r.readRecord(line, &c.Record); err != nil {
		return nil, err
	}
	c.ProviderService = line.value("ProviderService")
	c.ProviderInstance = line.value("ProviderInstance")
	c.ProviderTagSelector = line.value("ProviderTagSelector")

	allocationType, ok := types.ParseAllocationType(line.value("ProviderCostAllocationType"))
	if !ok {
		r.logger.Warn("Unknown ProviderCostAllocationType, using Key",
			zap.Int("line", line.line),
			zap.String("type", line.value("ProviderCostAllocationType")),
		)
		allocationType = types.AllocationKey
	}
	c.AllocationType = allocationType
	for k := range r.cfg.AllocationKeys {
		v, err := line.float(keyColumn(r.cfg, k))
		if err != nil {
			return nil, err
		}
		c.AllocationKeys[k] = v
	}
	c.CloudTagSelector = line.value("ProviderCostAllocationCloudTagSelector")

	for i := range c.ProviderMeters {
		suffix := strconv.Itoa(i + 1)
		c.ProviderMeters[i] = r.meter(line, "ProviderMeterName"+suffix, "ProviderMeterUnit"+suffix, "ProviderMeterValue"+suffix)
	}

	c.Product = line.value("Product")
	for i := range c.ProductDimensions {
		suffix := strconv.Itoa(i + 1)
		c.ProductDimensions[i] = types.ProductDimension{
			Name:    line.value("ProductDimensionName" + suffix),
			Element: line.value("ProductDimensionElement" + suffix),
		}
	}
	for i := range c.ProductMeters {
		suffix := productMeterSuffix(i)
		c.ProductMeters[i] = r.meter(line, "ProductMeterName"+suffix, "ProductMeterUnit"+suffix, "ProductMeterValue"+suffix)
	}

	for i := range r.cfg.Amounts {
		v, err := line.float("Product" + amountColumn(r.cfg, i))
		if err != nil {
			return nil, err
		}
		c.ProductAmounts[i] = v
		c.UnallocatedProductAmounts[i] = c.Amounts[i] - v
	}
	return c, nil
}

func (r *AllocatedCostReader) meter(line row, name, unit, value string) types.Meter {
	m := types.Meter{Name: line.value(name), Unit: line.value(unit)}
	if v, err := line.float(value); err != nil {
		r.logger.Warn("Ignoring non-numeric meter value", zap.Error(err))
	} else {
		m.Value = v
	}
	return m
}
