package allocation

import (
	"go.uber.org/zap"

	"cloud-cost-allocation/core/selector"
	"cloud-cost-allocation/core/types"
)

// materializeCloudTagSelector replaces a CloudTagSelector edge by one edge
// per cloud service instance matching its cloud tag selector. The keys of
// each edge sum the amortized cost of the matching cloud records of its
// instance. Cloud records of the provider service never match.
func (a *Allocator) materializeCloudTagSelector(edge *types.ConsumerCostRecord, clouds []*types.CloudCostRecord) []*types.ConsumerCostRecord {
	scope := selector.Scope{
		ProviderService:  edge.ProviderService,
		ProviderInstance: edge.ProviderInstance,
		Date:             edge.Date,
	}

	var edges []*types.ConsumerCostRecord
	byInstance := make(map[string]*types.ConsumerCostRecord)
	for _, c := range clouds {
		if c.Service == edge.ProviderService {
			continue
		}
		if !a.evaluator.Match(edge.CloudTagSelector, &c.Record, scope) {
			continue
		}

		key := c.InstanceKey()
		if existing, ok := byInstance[key]; ok {
			for k := range existing.AllocationKeys {
				existing.AllocationKeys[k] += c.Amounts[0]
			}
			continue
		}

		e := a.factory.NewConsumerFrom(&c.Record, c.Service, c.Instance, edge.ProviderService, edge.ProviderInstance)
		for k, v := range edge.Tags {
			e.Tags[k] = v
		}
		for k, v := range c.Dimensions {
			e.Dimensions[k] = v
		}
		e.ProviderTagSelector = edge.ProviderTagSelector
		e.AllocationType = types.AllocationCloudTagSelector
		e.CloudTagSelector = edge.CloudTagSelector
		copy(e.ProviderMeters, edge.ProviderMeters)
		e.Product = edge.Product
		copy(e.ProductDimensions, edge.ProductDimensions)
		copy(e.ProductMeters, edge.ProductMeters)
		e.SetKeys(c.Amounts[0])

		byInstance[key] = e
		edges = append(edges, e)
	}

	if len(edges) == 0 {
		a.logger.Warn("Cloud tag selector matches no cloud record",
			zap.String("provider_service", edge.ProviderService),
			zap.String("provider_instance", edge.ProviderInstance),
			zap.String("cloud_tag_selector", edge.CloudTagSelector),
		)
	}
	return edges
}
