package graph

import "cloud-cost-allocation/core/types"

// ProductInfoAmounts is the share of a provider tag selector going to one
// product info. The bucket with a zero Info is the default bucket, holding
// the keys of every edge of the selector.
type ProductInfoAmounts struct {
	Info types.ProductInfo

	RawAmounts             []float64
	RawProductAmounts      []float64
	AdjustedAmounts        []float64
	AdjustedProductAmounts []float64

	// TotalKeys sums the keys of the edges in this bucket, per allocation key
	TotalKeys []float64
	NbKeys    int
}

func newProductInfoAmounts(info types.ProductInfo, nbAmounts, nbKeys int) *ProductInfoAmounts {
	return &ProductInfoAmounts{
		Info:                   info,
		RawAmounts:             make([]float64, nbAmounts),
		RawProductAmounts:      make([]float64, nbAmounts),
		AdjustedAmounts:        make([]float64, nbAmounts),
		AdjustedProductAmounts: make([]float64, nbAmounts),
		TotalKeys:              make([]float64, nbKeys),
	}
}

// AddKeys accumulates the allocation keys of an edge
func (p *ProductInfoAmounts) AddKeys(edge *types.ConsumerCostRecord) {
	for k, v := range edge.AllocationKeys {
		p.TotalKeys[k] += v
	}
	p.NbKeys++
}

// Share returns the part of total going to an edge with the given key
func (p *ProductInfoAmounts) Share(total, key float64, keyIndex int) float64 {
	if p.TotalKeys[keyIndex] != 0 {
		return total * key / p.TotalKeys[keyIndex]
	}
	if p.NbKeys == 0 {
		return 0
	}
	return total / float64(p.NbKeys)
}

// ProviderTagSelectorAmounts holds, for one selector of a provider
// instance, the raw and adjusted amounts of both streams, split by product
// info.
type ProviderTagSelectorAmounts struct {
	Selector string

	RawAmounts             []float64
	RawProductAmounts      []float64
	AdjustedAmounts        []float64
	AdjustedProductAmounts []float64

	Default  *ProductInfoAmounts
	products []*ProductInfoAmounts
	index    map[string]int

	nbAmounts int
	nbKeys    int
}

func newProviderTagSelectorAmounts(selector string, nbAmounts, nbKeys int) *ProviderTagSelectorAmounts {
	return &ProviderTagSelectorAmounts{
		Selector:               selector,
		RawAmounts:             make([]float64, nbAmounts),
		RawProductAmounts:      make([]float64, nbAmounts),
		AdjustedAmounts:        make([]float64, nbAmounts),
		AdjustedProductAmounts: make([]float64, nbAmounts),
		Default:                newProductInfoAmounts(types.ProductInfo{}, nbAmounts, nbKeys),
		index:                  make(map[string]int),
		nbAmounts:              nbAmounts,
		nbKeys:                 nbKeys,
	}
}

// IsDefault reports whether this is the catch-all selector
func (p *ProviderTagSelectorAmounts) IsDefault() bool {
	return p.Selector == ""
}

// Product returns the bucket of a product info, creating it if needed
func (p *ProviderTagSelectorAmounts) Product(info types.ProductInfo) *ProductInfoAmounts {
	if info.IsZero() {
		return p.Default
	}
	key := info.Key()
	if i, ok := p.index[key]; ok {
		return p.products[i]
	}
	b := newProductInfoAmounts(info, p.nbAmounts, p.nbKeys)
	p.index[key] = len(p.products)
	p.products = append(p.products, b)
	return b
}

// LookupProduct returns the bucket of a product info if it exists
func (p *ProviderTagSelectorAmounts) LookupProduct(info types.ProductInfo) (*ProductInfoAmounts, bool) {
	if info.IsZero() {
		return p.Default, true
	}
	i, ok := p.index[info.Key()]
	if !ok {
		return nil, false
	}
	return p.products[i], true
}

// Products returns the product buckets in order of first appearance,
// the default bucket excluded
func (p *ProviderTagSelectorAmounts) Products() []*ProductInfoAmounts {
	return p.products
}

// Buckets returns the default bucket followed by the product buckets
func (p *ProviderTagSelectorAmounts) Buckets() []*ProductInfoAmounts {
	buckets := make([]*ProductInfoAmounts, 0, len(p.products)+1)
	buckets = append(buckets, p.Default)
	return append(buckets, p.products...)
}
