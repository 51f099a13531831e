package allocation

import (
	"go.uber.org/zap"

	"cloud-cost-allocation/core/graph"
	"cloud-cost-allocation/core/selector"
	"cloud-cost-allocation/core/types"
)

// share is the fraction of a provider record routed to a product info bucket
type share struct {
	bucket *graph.ProductInfoAmounts
	weight float64
}

// partition splits the cost of a provider instance across the selectors of
// its consumer edges, then across the product infos of each selector. It
// runs once the non self-consumption records of the instance hold their
// amounts for the current pass.
func (v *visitor) partition(si *graph.ServiceInstance) {
	if !si.IsProvider() {
		return
	}

	// Selector and product info buckets, with the keys of their edges
	si.ClearSelectors()
	for _, edge := range si.ConsumerRecords {
		sel := si.Selector(edge.ProviderTagSelector, v.nbAmounts, v.nbKeys)
		sel.Default.AddKeys(edge)
		if info := edge.ProductInfo(); !info.IsZero() {
			sel.Product(info).AddKeys(edge)
		}
	}

	// Raw amounts of the selectors matching each record
	scope := selector.Scope{ProviderService: si.Service, ProviderInstance: si.Instance, Date: v.date}
	matches := make([]int, len(si.CostRecords))
	for _, sel := range si.Selectors() {
		if sel.IsDefault() {
			continue
		}
		for i, record := range si.CostRecords {
			if record.IsSelfConsumption() {
				continue
			}
			if v.evaluator.Match(sel.Selector, record.Base(), scope) {
				matches[i]++
				v.addRaw(sel, record)
			}
		}
	}

	// Unmatched records fall into the catch-all selector
	if def, ok := si.LookupSelector(""); ok {
		for i, record := range si.CostRecords {
			if matches[i] == 0 && !record.IsSelfConsumption() {
				matches[i] = 1
				v.addRaw(def, record)
			}
		}
	}

	isPartition := true
	for i, record := range si.CostRecords {
		if !record.IsSelfConsumption() && matches[i] != 1 {
			isPartition = false
			break
		}
	}
	if !isPartition {
		v.logger.Debug("Provider tag selectors do not form a partition",
			zap.String("service_instance", si.Key()),
			zap.Int("selectors", len(si.Selectors())),
		)
	}

	v.adjust(si, isPartition)
}

// addRaw adds the amounts of a provider record to a selector and to the
// product info buckets the record is routed to
func (v *visitor) addRaw(sel *graph.ProviderTagSelectorAmounts, record types.CostRecord) {
	info := record.ProductInfo()
	for _, i := range v.amounts {
		amount := record.ServiceAmount(i)
		productAmount := record.UnallocatedAmount(i)
		sel.RawAmounts[i] += amount
		sel.RawProductAmounts[i] += productAmount

		for _, s := range route(sel, info, v.keyOf[i]) {
			s.bucket.RawAmounts[i] += amount * s.weight
			s.bucket.RawProductAmounts[i] += productAmount * s.weight
		}
	}
}

// route picks the product info buckets of a selector best matching a
// provider record. A record without product belongs to the default bucket.
// A record with a product goes to the buckets of the same product with the
// most leading product dimensions in common, then the most leading product
// meter names in common. A product without bucket is spread over every
// bucket of the selector.
func route(sel *graph.ProviderTagSelectorAmounts, info types.ProductInfo, keyIndex int) []share {
	if info.IsZero() {
		return []share{{bucket: sel.Default, weight: 1}}
	}

	var best []*graph.ProductInfoAmounts
	bestDimensions, bestMeters := -1, -1
	for _, bucket := range sel.Products() {
		if bucket.Info.Product != info.Product {
			continue
		}
		dimensions, meters := info.Similarity(bucket.Info)
		switch {
		case dimensions > bestDimensions || (dimensions == bestDimensions && meters > bestMeters):
			best = []*graph.ProductInfoAmounts{bucket}
			bestDimensions, bestMeters = dimensions, meters
		case dimensions == bestDimensions && meters == bestMeters:
			best = append(best, bucket)
		}
	}
	if len(best) == 0 {
		best = sel.Buckets()
	}
	return proportional(best, keyIndex)
}

// proportional weights buckets by their total keys, equally when all are zero
func proportional(buckets []*graph.ProductInfoAmounts, keyIndex int) []share {
	shares := make([]share, len(buckets))
	total := 0.0
	for _, b := range buckets {
		total += b.TotalKeys[keyIndex]
	}
	for i, b := range buckets {
		shares[i].bucket = b
		if total != 0 {
			shares[i].weight = b.TotalKeys[keyIndex] / total
		} else {
			shares[i].weight = 1 / float64(len(buckets))
		}
	}
	return shares
}

// adjust sets the adjusted amounts of every selector and bucket so that
// they sum to the instance totals
func (v *visitor) adjust(si *graph.ServiceInstance, isPartition bool) {
	selectors := si.Selectors()
	for _, i := range v.amounts {
		rawTotal, rawProductTotal := 0.0, 0.0
		for _, sel := range selectors {
			rawTotal += sel.RawAmounts[i]
			rawProductTotal += sel.RawProductAmounts[i]
		}

		for _, sel := range selectors {
			sel.AdjustedAmounts[i] = adjustSelector(isPartition, si.Totals[i], sel.RawAmounts[i], rawTotal, len(selectors))
			sel.AdjustedProductAmounts[i] = adjustSelector(isPartition, si.UnallocatedTotals[i], sel.RawProductAmounts[i], rawProductTotal, len(selectors))

			buckets := sel.Buckets()
			for _, b := range buckets {
				b.AdjustedAmounts[i] = adjustBucket(b.RawAmounts[i], sel.RawAmounts[i], sel.AdjustedAmounts[i], len(buckets))
				b.AdjustedProductAmounts[i] = adjustBucket(b.RawProductAmounts[i], sel.RawProductAmounts[i], sel.AdjustedProductAmounts[i], len(buckets))
			}
		}
	}
}

func adjustSelector(isPartition bool, instanceTotal, raw, rawTotal float64, nbSelectors int) float64 {
	switch {
	case isPartition:
		return raw
	case rawTotal != 0:
		return instanceTotal * raw / rawTotal
	default:
		return instanceTotal / float64(nbSelectors)
	}
}

func adjustBucket(raw, selectorRaw, selectorAdjusted float64, nbBuckets int) float64 {
	if selectorRaw != 0 {
		return raw * selectorAdjusted / selectorRaw
	}
	return selectorAdjusted / float64(nbBuckets)
}
