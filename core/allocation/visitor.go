package allocation

import (
	"strings"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/graph"
	"cloud-cost-allocation/core/selector"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/errors"
)

// visitor propagates cost from providers to consumers over an acyclic
// registry, for a set of amounts
type visitor struct {
	registry  *graph.Registry
	evaluator *selector.Evaluator
	logger    *zap.Logger
	date      string

	// amounts are the active amount indexes; keyOf maps each to its allocation key index
	amounts []int
	keyOf   map[int]int

	nbAmounts int
	nbKeys    int

	ignoreCostAsKey bool
	stack           []*graph.ServiceInstance
}

// pass resets the active amounts and visits every instance
func (v *visitor) pass(ignoreCostAsKey bool) error {
	v.ignoreCostAsKey = ignoreCostAsKey
	v.stack = v.stack[:0]

	v.registry.ResetVisits(v.amounts)
	for _, si := range v.registry.Instances() {
		si.ClearSelectors()
		for _, record := range si.CostRecords {
			if edge, ok := record.(*types.ConsumerCostRecord); ok {
				edge.ResetAmounts(v.amounts)
			}
		}
	}

	for _, si := range v.registry.Instances() {
		if err := v.visit(si); err != nil {
			return err
		}
	}
	return nil
}

func (v *visitor) visit(si *graph.ServiceInstance) error {
	switch si.State {
	case graph.Visited:
		return nil
	case graph.Visiting:
		keys := make([]string, 0, len(v.stack)+1)
		for _, s := range v.stack {
			keys = append(keys, s.Key())
		}
		keys = append(keys, si.Key())
		v.logger.Error("Found unexpected cost allocation cycle", zap.String("cycle", strings.Join(keys, ",")))
		return errors.New(errors.TypeInternal, "unexpected cost allocation cycle").
			WithContext("cycle", strings.Join(keys, ","))
	}

	si.State = graph.Visiting
	v.stack = append(v.stack, si)

	// Providers first, then own records
	for _, record := range si.CostRecords {
		switch r := record.(type) {
		case *types.CloudCostRecord:
			for _, i := range v.amounts {
				si.Totals[i] += r.Amounts[i]
				si.UnallocatedTotals[i] += r.Amounts[i]
			}

		case *types.ConsumerCostRecord:
			if r.IsSelfConsumption() {
				continue
			}
			provider := v.registry.Instance(r.Provider)
			if err := v.visit(provider); err != nil {
				return err
			}
			if err := v.allocateEdge(r, provider); err != nil {
				return err
			}
			for _, i := range v.amounts {
				si.Totals[i] += r.Amounts[i]
				si.UnallocatedTotals[i] += r.UnallocatedProductAmounts[i]
			}
		}
	}

	v.partition(si)

	// Self-consumption once the instance cost is known
	for _, record := range si.CostRecords {
		if edge, ok := record.(*types.ConsumerCostRecord); ok && edge.IsSelfConsumption() {
			if err := v.allocateEdge(edge, si); err != nil {
				return err
			}
		}
	}

	v.stack = v.stack[:len(v.stack)-1]
	si.State = graph.Visited
	return nil
}

// allocateEdge computes the amounts of an edge from the partition of its provider
func (v *visitor) allocateEdge(edge *types.ConsumerCostRecord, provider *graph.ServiceInstance) error {
	if v.ignoreCostAsKey && edge.AllocationType == types.AllocationCost {
		return nil
	}

	sel, ok := provider.LookupSelector(edge.ProviderTagSelector)
	if !ok {
		return errors.Newf(errors.TypeInternal, "provider %s has no bucket for selector %q",
			provider.Key(), edge.ProviderTagSelector)
	}

	var product *graph.ProductInfoAmounts
	info := edge.ProductInfo()
	if !info.IsZero() {
		if product, ok = sel.LookupProduct(info); !ok {
			return errors.Newf(errors.TypeInternal, "provider %s has no bucket for product %q",
				provider.Key(), info.Key())
		}
	}

	for _, i := range v.amounts {
		k := v.keyOf[i]
		key := edge.Key(k)

		amount := sel.Default.Share(sel.Default.AdjustedAmounts[i], key, k)
		if product != nil {
			amount += product.Share(product.AdjustedAmounts[i], key, k)
		}
		edge.Amounts[i] = amount

		productAmount := sel.Default.Share(sel.AdjustedProductAmounts[i], key, k)
		if product != nil {
			edge.ProductAmounts[i] = productAmount
			edge.UnallocatedProductAmounts[i] = 0
		} else {
			edge.ProductAmounts[i] = 0
			edge.UnallocatedProductAmounts[i] = productAmount
		}
	}
	return nil
}

// setCostAsKeys sets the keys of Cost edges to the total of their owning
// instance, using for each key the first active amount weighted by it
func (v *visitor) setCostAsKeys() int {
	amountOfKey := make(map[int]int, len(v.amounts))
	for _, i := range v.amounts {
		k := v.keyOf[i]
		if _, ok := amountOfKey[k]; !ok {
			amountOfKey[k] = i
		}
	}

	n := 0
	for _, si := range v.registry.Instances() {
		for _, record := range si.CostRecords {
			edge, ok := record.(*types.ConsumerCostRecord)
			if !ok || edge.AllocationType != types.AllocationCost {
				continue
			}
			for k, i := range amountOfKey {
				edge.AllocationKeys[k] = si.Totals[i]
			}
			n++
		}
	}
	return n
}
