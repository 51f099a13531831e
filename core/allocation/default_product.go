package allocation

import (
	"go.uber.org/zap"

	"cloud-cost-allocation/core/graph"
	"cloud-cost-allocation/core/types"
)

// resolveDefaultProducts turns DefaultProduct records into self-consumption
// edges carrying their product. For a provider service S with DefaultProduct
// records P1..Pn, weighted by their keys (equally when all are zero):
//   - every instance of S that nobody consumes gets one self-consumption
//     edge per product, with the product weight as key;
//   - every product-less self-consumption of S is split into one edge per
//     product, its keys scaled by the product weight.
//
// Then, if a default product is configured, it is set on the remaining
// product-less self-consumption and on every other instance nobody consumes.
func (a *Allocator) resolveDefaultProducts(records []types.CostRecord, defaultProducts []*types.ConsumerCostRecord) []types.CostRecord {
	if len(defaultProducts) == 0 && a.cfg.DefaultProduct == "" {
		return records
	}

	var services []string
	byService := make(map[string][]*types.ConsumerCostRecord)
	for _, dp := range defaultProducts {
		if dp.Product == "" {
			a.logger.Warn("Ignoring default product record without product",
				zap.String("provider_service", dp.ProviderService))
			continue
		}
		if _, ok := byService[dp.ProviderService]; !ok {
			services = append(services, dp.ProviderService)
		}
		byService[dp.ProviderService] = append(byService[dp.ProviderService], dp)
	}

	registry := graph.Build(records, 0)
	weights := make(map[string][][]float64, len(services))
	for _, service := range services {
		weights[service] = productWeights(byService[service], a.cfg.NbAllocationKeys())
	}

	// Split product-less self-consumption
	resolved := make([]types.CostRecord, 0, len(records))
	for _, record := range records {
		edge, ok := record.(*types.ConsumerCostRecord)
		if !ok || !edge.IsSelfConsumption() || edge.Product != "" {
			resolved = append(resolved, record)
			continue
		}
		dps, ok := byService[edge.Service]
		if !ok {
			if a.cfg.DefaultProduct != "" {
				edge.Product = a.cfg.DefaultProduct
			}
			resolved = append(resolved, record)
			continue
		}
		for j, dp := range dps {
			split := a.factory.Clone(edge)
			setProduct(split, dp)
			split.AllocationType = types.AllocationDefaultProduct
			for k := range split.AllocationKeys {
				split.AllocationKeys[k] *= weights[edge.Service][j][k]
			}
			resolved = append(resolved, split)
		}
	}

	// Final instances
	added := 0
	for _, si := range registry.Instances() {
		if si.IsProvider() {
			continue
		}
		src := si.CostRecords[0].Base()
		if dps, ok := byService[si.Service]; ok {
			for j, dp := range dps {
				edge := a.factory.NewConsumerFrom(&dp.Record, si.Service, si.Instance, si.Service, si.Instance)
				setProduct(edge, dp)
				edge.AllocationType = types.AllocationDefaultProduct
				copy(edge.AllocationKeys, weights[si.Service][j])
				resolved = append(resolved, edge)
				added++
			}
			continue
		}
		if a.cfg.DefaultProduct != "" {
			edge := a.factory.NewConsumerFrom(src, si.Service, si.Instance, si.Service, si.Instance)
			edge.Product = a.cfg.DefaultProduct
			edge.AllocationType = types.AllocationDefaultProduct
			edge.SetKeys(1)
			resolved = append(resolved, edge)
			added++
		}
	}

	if added > 0 {
		a.logger.Info("Added default product consumption", zap.Int("records", added))
	}
	return resolved
}

// productWeights returns, per record and allocation key, the share of the
// record's key in the total
func productWeights(dps []*types.ConsumerCostRecord, nbKeys int) [][]float64 {
	totals := make([]float64, nbKeys)
	for _, dp := range dps {
		for k := range totals {
			totals[k] += dp.Key(k)
		}
	}
	weights := make([][]float64, len(dps))
	for j, dp := range dps {
		weights[j] = make([]float64, nbKeys)
		for k := range totals {
			if totals[k] != 0 {
				weights[j][k] = dp.Key(k) / totals[k]
			} else {
				weights[j][k] = 1 / float64(len(dps))
			}
		}
	}
	return weights
}

func setProduct(edge, dp *types.ConsumerCostRecord) {
	edge.Product = dp.Product
	copy(edge.ProductDimensions, dp.ProductDimensions)
	copy(edge.ProductMeters, dp.ProductMeters)
}
