// Package types defines the cost records flowing through the allocation engine.
package types

import (
	"sort"
	"strings"
)

// InstanceID indexes a service instance in the registry arena
type InstanceID int

// NoInstance marks a consumer record not yet linked to its provider
const NoInstance InstanceID = -1

// InstanceKey returns the registry key of a (service, instance) pair
func InstanceKey(service, instance string) string {
	return service + "." + instance
}

// Meter is a quantity consumed from a provider or attached to a product
type Meter struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

// ProductDimension qualifies a product, e.g. a plan or a region
type ProductDimension struct {
	Name    string `json:"name"`
	Element string `json:"element"`
}

// Record holds the fields shared by cloud and consumer records
type Record struct {
	// Date is the record date, formatted with the configured date format
	Date string `json:"date"`

	// Service and Instance identify the owning service instance
	Service  string `json:"service"`
	Instance string `json:"instance"`

	// Dimensions maps configured dimension names to values
	Dimensions map[string]string `json:"dimensions,omitempty"`

	// Tags are lowercased key/value pairs. They must not change once the
	// record is handed to the allocator.
	Tags map[string]string `json:"tags,omitempty"`

	// Amounts are indexed like the configured amounts: 0 amortized, 1 on-demand
	Amounts []float64 `json:"amounts"`

	// Currency is the currency code of the amounts
	Currency string `json:"currency"`

	tagsKey string
}

// InstanceKey returns the registry key of the owning service instance
func (r *Record) InstanceKey() string {
	return InstanceKey(r.Service, r.Instance)
}

// TagsKey returns a canonical representation of the tags, used to memoize
// selector evaluations across records sharing the same tag set.
func (r *Record) TagsKey() string {
	if r.tagsKey == "" {
		r.tagsKey = CanonicalTags(r.Tags)
	}
	return r.tagsKey
}

// CanonicalTags serializes tags sorted by key
func CanonicalTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('\x1f')
		sb.WriteString(tags[k])
		sb.WriteByte('\x1e')
	}
	sb.WriteByte('}')
	return sb.String()
}

// CostRecord is a raw cost or a consumption edge.
//
// The set of implementations is closed: *CloudCostRecord and *ConsumerCostRecord.
type CostRecord interface {
	// Base returns the shared record fields
	Base() *Record

	// IsSelfConsumption reports whether the record consumes its own service instance
	IsSelfConsumption() bool

	// ProductInfo returns the product the record terminates in, if any
	ProductInfo() ProductInfo

	// ServiceAmount is the record's contribution to its instance total for an amount
	ServiceAmount(amount int) float64

	// UnallocatedAmount is the part of ServiceAmount not yet attributed to a product
	UnallocatedAmount(amount int) float64

	costRecord()
}

// CloudCostRecord is a raw billed cost; its amounts are fixed input data
type CloudCostRecord struct {
	Record
}

// Base returns the shared record fields
func (c *CloudCostRecord) Base() *Record { return &c.Record }

// IsSelfConsumption is always false for cloud costs
func (c *CloudCostRecord) IsSelfConsumption() bool { return false }

// ProductInfo is always empty for cloud costs
func (c *CloudCostRecord) ProductInfo() ProductInfo { return ProductInfo{} }

// ServiceAmount returns the billed amount
func (c *CloudCostRecord) ServiceAmount(amount int) float64 { return c.Amounts[amount] }

// UnallocatedAmount returns the billed amount
func (c *CloudCostRecord) UnallocatedAmount(amount int) float64 { return c.Amounts[amount] }

func (c *CloudCostRecord) costRecord() {}

// ConsumerCostRecord is a consumption edge from (Service, Instance) to
// (ProviderService, ProviderInstance).
type ConsumerCostRecord struct {
	Record

	// ProviderService and ProviderInstance identify the provider
	ProviderService  string `json:"provider_service"`
	ProviderInstance string `json:"provider_instance"`

	// ProviderTagSelector selects part of the provider cost; empty selects the rest
	ProviderTagSelector string `json:"provider_tag_selector"`

	// AllocationType tells how the allocation keys are obtained
	AllocationType AllocationType `json:"allocation_type"`

	// AllocationKeys are indexed like the configured allocation keys
	AllocationKeys []float64 `json:"allocation_keys"`

	// CloudTagSelector selects cloud records for CloudTagSelector edges
	CloudTagSelector string `json:"cloud_tag_selector,omitempty"`

	ProviderMeters []Meter `json:"provider_meters,omitempty"`

	// Product, when set, makes this edge final consumption
	Product           string             `json:"product,omitempty"`
	ProductDimensions []ProductDimension `json:"product_dimensions,omitempty"`
	ProductMeters     []Meter            `json:"product_meters,omitempty"`

	// ProductAmounts is the cost attributed to Product, per amount
	ProductAmounts []float64 `json:"product_amounts"`

	// UnallocatedProductAmounts is the cost not attributed to any product yet, per amount
	UnallocatedProductAmounts []float64 `json:"unallocated_product_amounts"`

	// RemovedFromCycle is set by the cycle breaker
	RemovedFromCycle bool `json:"removed_from_cycle,omitempty"`

	// Provider is the registry index of the provider instance
	Provider InstanceID `json:"-"`
}

// Base returns the shared record fields
func (c *ConsumerCostRecord) Base() *Record { return &c.Record }

// IsSelfConsumption reports whether the edge consumes its own service instance
func (c *ConsumerCostRecord) IsSelfConsumption() bool {
	return c.Service == c.ProviderService && c.Instance == c.ProviderInstance
}

// ProviderKey returns the registry key of the provider instance
func (c *ConsumerCostRecord) ProviderKey() string {
	return InstanceKey(c.ProviderService, c.ProviderInstance)
}

// ProductInfo returns the product, product dimensions and product meters
func (c *ConsumerCostRecord) ProductInfo() ProductInfo {
	if c.Product == "" {
		return ProductInfo{}
	}
	return ProductInfo{
		Product:    c.Product,
		Dimensions: c.ProductDimensions,
		Meters:     c.ProductMeters,
	}
}

// ServiceAmount returns the allocated amount
func (c *ConsumerCostRecord) ServiceAmount(amount int) float64 { return c.Amounts[amount] }

// UnallocatedAmount returns the allocated amount not attributed to a product
func (c *ConsumerCostRecord) UnallocatedAmount(amount int) float64 {
	return c.UnallocatedProductAmounts[amount]
}

// Key returns the allocation key at the given index
func (c *ConsumerCostRecord) Key(index int) float64 {
	return c.AllocationKeys[index]
}

// SetKeys sets every allocation key to the same value
func (c *ConsumerCostRecord) SetKeys(value float64) {
	for i := range c.AllocationKeys {
		c.AllocationKeys[i] = value
	}
}

// ResetAmounts clears the computed amounts of the given amount indexes
func (c *ConsumerCostRecord) ResetAmounts(amounts []int) {
	for _, i := range amounts {
		c.Amounts[i] = 0
		c.ProductAmounts[i] = 0
		c.UnallocatedProductAmounts[i] = 0
	}
}

func (c *ConsumerCostRecord) costRecord() {}
