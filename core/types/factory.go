package types

import "cloud-cost-allocation/internal/config"

// Factory creates records with vectors sized from the configuration
type Factory struct {
	nbAmounts           int
	nbAllocationKeys    int
	nbProviderMeters    int
	nbProductDimensions int
	nbProductMeters     int
}

// NewFactory creates a record factory
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		nbAmounts:           cfg.NbAmounts(),
		nbAllocationKeys:    cfg.NbAllocationKeys(),
		nbProviderMeters:    cfg.NbProviderMeters,
		nbProductDimensions: cfg.NbProductDimensions,
		nbProductMeters:     cfg.NbProductMeters,
	}
}

func (f *Factory) newRecord() Record {
	return Record{
		Dimensions: make(map[string]string),
		Tags:       make(map[string]string),
		Amounts:    make([]float64, f.nbAmounts),
	}
}

// NewCloudCostRecord creates an empty cloud record
func (f *Factory) NewCloudCostRecord() *CloudCostRecord {
	return &CloudCostRecord{Record: f.newRecord()}
}

// NewConsumerCostRecord creates an empty consumer record of type Key
func (f *Factory) NewConsumerCostRecord() *ConsumerCostRecord {
	return &ConsumerCostRecord{
		Record:                    f.newRecord(),
		AllocationType:            AllocationKey,
		AllocationKeys:            make([]float64, f.nbAllocationKeys),
		ProviderMeters:            make([]Meter, f.nbProviderMeters),
		ProductDimensions:         make([]ProductDimension, f.nbProductDimensions),
		ProductMeters:             make([]Meter, f.nbProductMeters),
		ProductAmounts:            make([]float64, f.nbAmounts),
		UnallocatedProductAmounts: make([]float64, f.nbAmounts),
		Provider:                  NoInstance,
	}
}

// NewConsumerFrom creates an edge owned by (service, instance) consuming
// (providerService, providerInstance), copying date and currency from src.
func (f *Factory) NewConsumerFrom(src *Record, service, instance, providerService, providerInstance string) *ConsumerCostRecord {
	c := f.NewConsumerCostRecord()
	c.Date = src.Date
	c.Currency = src.Currency
	c.Service = service
	c.Instance = instance
	c.ProviderService = providerService
	c.ProviderInstance = providerInstance
	return c
}

// Clone returns a deep copy of a consumer record, not linked to any provider
func (f *Factory) Clone(src *ConsumerCostRecord) *ConsumerCostRecord {
	c := *src
	c.tagsKey = ""
	c.Dimensions = make(map[string]string, len(src.Dimensions))
	for k, v := range src.Dimensions {
		c.Dimensions[k] = v
	}
	c.Tags = make(map[string]string, len(src.Tags))
	for k, v := range src.Tags {
		c.Tags[k] = v
	}
	c.Amounts = append([]float64(nil), src.Amounts...)
	c.AllocationKeys = append([]float64(nil), src.AllocationKeys...)
	c.ProviderMeters = append([]Meter(nil), src.ProviderMeters...)
	c.ProductDimensions = append([]ProductDimension(nil), src.ProductDimensions...)
	c.ProductMeters = append([]Meter(nil), src.ProductMeters...)
	c.ProductAmounts = append([]float64(nil), src.ProductAmounts...)
	c.UnallocatedProductAmounts = append([]float64(nil), src.UnallocatedProductAmounts...)
	c.Provider = NoInstance
	return &c
}

// NbAmounts returns the size of amount vectors
func (f *Factory) NbAmounts() int {
	return f.nbAmounts
}
