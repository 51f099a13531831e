// Package config provides the allocation configuration shared by every component.
//
// A Config is built once, validated, and then only read: the allocator, the
// readers and the writer all receive the same *Config.
package config

import (
	"fmt"
	"strings"

	"cloud-cost-allocation/internal/errors"
)

// Standard amount and allocation key names
const (
	AmortizedCost             = "AmortizedCost"
	OnDemandCost              = "OnDemandCost"
	ProviderCostAllocationKey = "ProviderCostAllocationKey"
)

// DefaultMaxBreaks bounds the number of cycle breaks in one run
const DefaultMaxBreaks = 10

// Config is the allocation configuration
type Config struct {
	// DateFormat is the strftime format of record dates
	DateFormat string `json:"date_format"`

	// DefaultService receives cost that no tag or column assigns
	DefaultService string `json:"default_service"`

	// DefaultProduct is attached to final consumption lacking a product
	DefaultProduct string `json:"default_product"`

	// Dimensions are the extra columns carried by every record
	Dimensions []string `json:"dimensions"`

	// Amounts are the allocated amount streams; index 0 is amortized cost, index 1 on-demand cost
	Amounts []string `json:"amounts"`

	// AllocationKeys are the weight columns of consumer records
	AllocationKeys []string `json:"allocation_keys"`

	// AmountAllocationKeys maps an amount index to the allocation key index weighting it
	AmountAllocationKeys map[int]int `json:"amount_allocation_keys"`

	NbProviderMeters    int `json:"nb_provider_meters"`
	NbProductDimensions int `json:"nb_product_dimensions"`
	NbProductMeters     int `json:"nb_product_meters"`

	// TagKeys lists, per concept, the tag keys to look up (first match wins)
	TagKeys TagKeys `json:"tag_keys"`

	// Cycles configures cycle untangling and breaking
	Cycles CyclesConfig `json:"cycles"`

	// FocusUnusedCommitment routes unused commitments of FOCUS exports
	FocusUnusedCommitment UnusedCommitmentConfig `json:"focus_unused_commitment"`
}

// TagKeys contains the tag keys mapped to record fields
type TagKeys struct {
	Service                      []string            `json:"service"`
	Instance                     []string            `json:"instance"`
	ConsumerService              []string            `json:"consumer_service"`
	ConsumerServiceIgnoredValues []string            `json:"consumer_service_ignored_values"`
	ConsumerInstance             []string            `json:"consumer_instance"`
	Product                      []string            `json:"product"`
	Dimensions                   map[string][]string `json:"dimensions"`
	ConsumerDimensions           map[string][]string `json:"consumer_dimensions"`
}

// CyclesConfig contains cycle handling settings
type CyclesConfig struct {
	// ServicePrecedenceList orders services when choosing where to break a cycle
	ServicePrecedenceList []string `json:"service_precedence_list"`

	// ServiceUpstreams lists services with their upstream service, in order
	ServiceUpstreams []ServiceUpstream `json:"service_upstreams"`

	// MaxBreaks bounds the number of cycle breaks
	MaxBreaks int `json:"max_breaks"`
}

// ServiceUpstream pairs a service with the service its consumption is moved to
type ServiceUpstream struct {
	Service  string `json:"service"`
	Upstream string `json:"upstream"`
}

// UnusedCommitmentConfig identifies where unused commitments are booked
type UnusedCommitmentConfig struct {
	Service    string            `json:"service"`
	Instance   string            `json:"instance"`
	Dimensions map[string]string `json:"dimensions"`
}

// Default returns a configuration with the standard amounts and keys
func Default() *Config {
	return &Config{
		DateFormat:           "%Y-%m-%d",
		DefaultService:       "unallocated",
		Amounts:              []string{AmortizedCost, OnDemandCost},
		AllocationKeys:       []string{ProviderCostAllocationKey},
		AmountAllocationKeys: map[int]int{0: 0, 1: 0},
		TagKeys: TagKeys{
			Dimensions:         map[string][]string{},
			ConsumerDimensions: map[string][]string{},
		},
		Cycles: CyclesConfig{
			MaxBreaks: DefaultMaxBreaks,
		},
		FocusUnusedCommitment: UnusedCommitmentConfig{
			Dimensions: map[string]string{},
		},
	}
}

// NbAmounts returns the number of amount streams
func (c *Config) NbAmounts() int {
	return len(c.Amounts)
}

// NbAllocationKeys returns the number of allocation keys
func (c *Config) NbAllocationKeys() int {
	return len(c.AllocationKeys)
}

// AmountIndex returns the index of the named amount
func (c *Config) AmountIndex(amount string) (int, bool) {
	for i, a := range c.Amounts {
		if a == amount {
			return i, true
		}
	}
	return -1, false
}

// AllocationKeyIndex returns the index of the named allocation key
func (c *Config) AllocationKeyIndex(key string) (int, bool) {
	for i, k := range c.AllocationKeys {
		if k == key {
			return i, true
		}
	}
	return -1, false
}

// AmountToKeyIndexes returns the amount index → allocation key index mapping
// restricted to the given amounts.
func (c *Config) AmountToKeyIndexes(amounts []string) (map[int]int, error) {
	indexes := make(map[int]int, len(amounts))
	for _, amount := range amounts {
		amountIndex, ok := c.AmountIndex(amount)
		if !ok {
			return nil, errors.Newf(errors.TypeConfig, "amount is missing in configuration: %q", amount)
		}
		keyIndex, ok := c.AmountAllocationKeys[amountIndex]
		if !ok {
			return nil, errors.Newf(errors.TypeConfig, "amount %q has no allocation key", amount)
		}
		indexes[amountIndex] = keyIndex
	}
	return indexes, nil
}

// Validate checks the configuration is consistent
func (c *Config) Validate() error {
	if c.DateFormat == "" {
		return errors.Config("date format is empty")
	}
	if c.DefaultService == "" {
		return errors.Config("default service is empty")
	}
	if len(c.Amounts) == 0 {
		return errors.Config("no amount configured")
	}
	if len(c.AllocationKeys) == 0 {
		return errors.Config("no allocation key configured")
	}
	for i, amount := range c.Amounts {
		keyIndex, ok := c.AmountAllocationKeys[i]
		if !ok {
			return errors.Newf(errors.TypeConfig, "amount %q has no allocation key", amount)
		}
		if keyIndex < 0 || keyIndex >= len(c.AllocationKeys) {
			return errors.Newf(errors.TypeConfig, "amount %q maps to unknown allocation key index %d", amount, keyIndex)
		}
	}
	if c.NbProviderMeters < 0 || c.NbProductDimensions < 0 || c.NbProductMeters < 0 {
		return errors.Config("numbers of meters and product dimensions must not be negative")
	}
	if c.Cycles.MaxBreaks < 0 {
		return errors.Config("max cycle breaks must not be negative")
	}
	seen := make(map[string]bool, len(c.Cycles.ServiceUpstreams))
	for _, su := range c.Cycles.ServiceUpstreams {
		if su.Service == "" || su.Upstream == "" {
			return errors.Config("service upstream entries need a service and an upstream")
		}
		if seen[su.Service] {
			return errors.Newf(errors.TypeConfig, "service %q listed twice in service upstreams", su.Service)
		}
		seen[su.Service] = true
	}
	return nil
}

// String summarizes the configuration for `config show`
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DateFormat: %s\n", c.DateFormat)
	fmt.Fprintf(&sb, "DefaultService: %s\n", c.DefaultService)
	fmt.Fprintf(&sb, "DefaultProduct: %s\n", c.DefaultProduct)
	fmt.Fprintf(&sb, "Dimensions: %s\n", strings.Join(c.Dimensions, ","))
	fmt.Fprintf(&sb, "Amounts: %s\n", strings.Join(c.Amounts, ","))
	fmt.Fprintf(&sb, "AllocationKeys: %s\n", strings.Join(c.AllocationKeys, ","))
	pairs := make([]string, 0, len(c.Amounts))
	for i, amount := range c.Amounts {
		if k, ok := c.AmountAllocationKeys[i]; ok && k < len(c.AllocationKeys) {
			pairs = append(pairs, amount+":"+c.AllocationKeys[k])
		}
	}
	fmt.Fprintf(&sb, "AmountAllocationKeys: %s\n", strings.Join(pairs, ","))
	fmt.Fprintf(&sb, "NumberOfProviderMeters: %d\n", c.NbProviderMeters)
	fmt.Fprintf(&sb, "NumberOfProductDimensions: %d\n", c.NbProductDimensions)
	fmt.Fprintf(&sb, "NumberOfProductMeters: %d\n", c.NbProductMeters)
	fmt.Fprintf(&sb, "ServicePrecedenceList: %s\n", strings.Join(c.Cycles.ServicePrecedenceList, ","))
	upstreams := make([]string, 0, len(c.Cycles.ServiceUpstreams))
	for _, su := range c.Cycles.ServiceUpstreams {
		upstreams = append(upstreams, su.Service+":"+su.Upstream)
	}
	fmt.Fprintf(&sb, "ServiceUpstreamList: %s\n", strings.Join(upstreams, ","))
	fmt.Fprintf(&sb, "MaxBreaks: %d\n", c.Cycles.MaxBreaks)
	return sb.String()
}
