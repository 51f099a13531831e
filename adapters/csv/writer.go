package csv

import (
	encsv "encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cloud-cost-allocation/core/graph"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

// amountColumn returns the column of the i-th amount. The first two amounts
// always use the AmortizedCost and OnDemandCost columns whatever they are called.
func amountColumn(cfg *config.Config, i int) string {
	switch i {
	case 0:
		return config.AmortizedCost
	case 1:
		return config.OnDemandCost
	}
	return cfg.Amounts[i]
}

// keyColumn returns the column of the k-th allocation key
func keyColumn(cfg *config.Config, k int) string {
	if k == 0 {
		return config.ProviderCostAllocationKey
	}
	return cfg.AllocationKeys[k]
}

// AllocatedCostWriter writes allocated cost records, one line per record,
// grouped by service instance
type AllocatedCostWriter struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewAllocatedCostWriter creates an allocated cost writer
func NewAllocatedCostWriter(cfg *config.Config) *AllocatedCostWriter {
	return &AllocatedCostWriter{
		cfg:    cfg,
		logger: logging.Named("writer"),
	}
}

// Headers returns the output columns in order
func (w *AllocatedCostWriter) Headers() []string {
	headers := []string{
		"Date",
		"Service",
		"Instance",
		"Tags",
		config.AmortizedCost,
		config.OnDemandCost,
		"Currency",
		"ProviderService",
		"ProviderInstance",
		"ProviderTagSelector",
		"ProviderCostAllocationType",
		config.ProviderCostAllocationKey,
		"ProviderCostAllocationCloudTagSelector",
		"Product",
		"Product" + config.AmortizedCost,
		"Product" + config.OnDemandCost,
	}
	headers = append(headers, w.cfg.Dimensions...)
	for i := 1; i <= w.cfg.NbProviderMeters; i++ {
		suffix := strconv.Itoa(i)
		headers = append(headers, "ProviderMeterName"+suffix, "ProviderMeterUnit"+suffix, "ProviderMeterValue"+suffix)
	}
	for i := 1; i <= w.cfg.NbProductDimensions; i++ {
		suffix := strconv.Itoa(i)
		headers = append(headers, "ProductDimensionName"+suffix, "ProductDimensionElement"+suffix)
	}
	for i := 0; i < w.cfg.NbProductMeters; i++ {
		suffix := productMeterSuffix(i)
		headers = append(headers, "ProductMeterName"+suffix, "ProductMeterUnit"+suffix, "ProductMeterValue"+suffix)
	}
	if w.cfg.NbAmounts() > 2 {
		headers = append(headers, w.cfg.Amounts[2:]...)
		for _, amount := range w.cfg.Amounts[2:] {
			headers = append(headers, "Product"+amount)
		}
	}
	if w.cfg.NbAllocationKeys() > 1 {
		headers = append(headers, w.cfg.AllocationKeys[1:]...)
	}
	return headers
}

// WriteFile writes the records of the instances to a file
func (w *AllocatedCostWriter) WriteFile(path string, instances []*graph.ServiceInstance) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(errors.TypeInput, err, "failed to create %s", path)
	}
	if err := w.Write(f, instances); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(errors.TypeInput, err, "failed to close %s", path)
	}
	return nil
}

// Write writes the records owned by each instance, in instance order
func (w *AllocatedCostWriter) Write(out io.Writer, instances []*graph.ServiceInstance) error {
	headers := w.Headers()
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[h] = i
	}

	writer := encsv.NewWriter(out)
	if err := writer.Write(headers); err != nil {
		return errors.Wrap(errors.TypeInput, "failed to write CSV header", err)
	}

	lines := 0
	values := make([]string, len(headers))
	set := func(column, value string) {
		if i, ok := index[column]; ok {
			values[i] = value
		}
	}
	for _, si := range instances {
		for _, record := range si.CostRecords {
			for i := range values {
				values[i] = ""
			}
			w.export(record, set)
			if err := writer.Write(values); err != nil {
				return errors.Wrap(errors.TypeInput, "failed to write CSV line", err)
			}
			lines++
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrap(errors.TypeInput, "failed to flush CSV output", err)
	}
	w.logger.Info("Wrote allocated costs", zap.Int("lines", lines), zap.Int("service_instances", len(instances)))
	return nil
}

func (w *AllocatedCostWriter) export(record types.CostRecord, set func(column, value string)) {
	base := record.Base()
	set("Date", base.Date)
	set("Service", base.Service)
	set("Instance", base.Instance)
	set("Tags", SerializeTags(base.Tags))
	set("Currency", base.Currency)
	for _, dimension := range w.cfg.Dimensions {
		set(dimension, base.Dimensions[dimension])
	}
	for i := range w.cfg.Amounts {
		set(amountColumn(w.cfg, i), formatAmount(base.Amounts[i]))
	}

	c, ok := record.(*types.ConsumerCostRecord)
	if !ok {
		return
	}
	set("ProviderService", c.ProviderService)
	set("ProviderInstance", c.ProviderInstance)
	set("ProviderTagSelector", c.ProviderTagSelector)
	set("ProviderCostAllocationType", c.AllocationType.String())
	for k := range w.cfg.AllocationKeys {
		set(keyColumn(w.cfg, k), formatAmount(c.AllocationKeys[k]))
	}
	set("ProviderCostAllocationCloudTagSelector", c.CloudTagSelector)
	for i, m := range c.ProviderMeters {
		suffix := strconv.Itoa(i + 1)
		setMeter(set, m, "ProviderMeterName"+suffix, "ProviderMeterUnit"+suffix, "ProviderMeterValue"+suffix)
	}

	set("Product", c.Product)
	if c.Product == "" {
		return
	}
	for i, d := range c.ProductDimensions {
		suffix := strconv.Itoa(i + 1)
		set("ProductDimensionName"+suffix, d.Name)
		set("ProductDimensionElement"+suffix, d.Element)
	}
	for i, m := range c.ProductMeters {
		suffix := productMeterSuffix(i)
		setMeter(set, m, "ProductMeterName"+suffix, "ProductMeterUnit"+suffix, "ProductMeterValue"+suffix)
	}
	for i := range w.cfg.Amounts {
		set("Product"+amountColumn(w.cfg, i), formatAmount(c.ProductAmounts[i]))
	}
}

func setMeter(set func(column, value string), m types.Meter, name, unit, value string) {
	set(name, m.Name)
	set(unit, m.Unit)
	if m.Name != "" {
		set(value, formatAmount(m.Value))
	}
}

func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).String()
}
