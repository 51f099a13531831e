package allocation

import (
	"strings"

	"cloud-cost-allocation/core/selector"
	"cloud-cost-allocation/core/types"
)

// firstTag returns the first of keys present in tags with a non-empty value
func firstTag(tags map[string]string, keys []string) (key, value string) {
	for _, k := range keys {
		if v := strings.ToLower(strings.TrimSpace(tags[k])); v != "" {
			return k, v
		}
	}
	return "", ""
}

func (a *Allocator) ignoredConsumerService(service string) bool {
	if service == "-" {
		return true
	}
	for _, ignored := range a.cfg.TagKeys.ConsumerServiceIgnoredValues {
		if service == ignored {
			return true
		}
	}
	return false
}

// consumersFromTags synthesizes a ConsumerTag edge for every record tagged
// with a consumer service or a product. The edge consumes the tagged record's
// instance with key 1, through a selector matching exactly the tags that
// triggered it.
func (a *Allocator) consumersFromTags(records []types.CostRecord) []*types.ConsumerCostRecord {
	tagKeys := a.cfg.TagKeys
	if len(tagKeys.ConsumerService) == 0 && len(tagKeys.Product) == 0 {
		return nil
	}

	var edges []*types.ConsumerCostRecord
	for _, record := range records {
		base := record.Base()

		serviceKey, service := firstTag(base.Tags, tagKeys.ConsumerService)
		if a.ignoredConsumerService(service) {
			serviceKey, service = "", ""
		}
		instanceKey, instance := firstTag(base.Tags, tagKeys.ConsumerInstance)
		productKey, product := firstTag(base.Tags, tagKeys.Product)

		if service == "" && product == "" {
			continue
		}

		if service == "" {
			// Product without consumer: final consumption of the record's own service
			service = base.Service
		}
		if instance == "" {
			instance = service
		}

		var conditions []string
		if serviceKey != "" {
			conditions = append(conditions, selector.Synthesize(serviceKey, service))
			if instanceKey != "" {
				conditions = append(conditions, selector.Synthesize(instanceKey, instance))
			}
		}
		if productKey != "" {
			conditions = append(conditions, selector.Synthesize(productKey, product))
		}

		edge := a.factory.NewConsumerFrom(base, service, instance, base.Service, base.Instance)
		edge.ProviderTagSelector = strings.Join(conditions, " and ")
		edge.AllocationType = types.AllocationConsumerTag
		edge.SetKeys(1)
		edge.Product = product

		for dimension, keys := range tagKeys.ConsumerDimensions {
			if _, value := firstTag(base.Tags, keys); value != "" {
				edge.Dimensions[dimension] = value
			}
		}

		edges = append(edges, edge)
	}
	return edges
}
