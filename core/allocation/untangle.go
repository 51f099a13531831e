package allocation

import (
	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
)

// untangle applies the configured service upstream list. For services Ai
// and Aj listed at positions i < j, consumption of Aj by Ai is moved to the
// upstream of Ai, and consumption of that upstream by Aj is dropped.
func (a *Allocator) untangle(records []types.CostRecord) []types.CostRecord {
	upstreams := a.cfg.Cycles.ServiceUpstreams
	if len(upstreams) == 0 {
		return records
	}

	position := make(map[string]int, len(upstreams))
	for i, su := range upstreams {
		position[su.Service] = i
	}

	// positions of the services whose upstream is the key
	upstreamOf := make(map[string][]int, len(upstreams))
	for i, su := range upstreams {
		upstreamOf[su.Upstream] = append(upstreamOf[su.Upstream], i)
	}

	kept := records[:0:0]
	rewritten, dropped := 0, 0
	for _, record := range records {
		edge, ok := record.(*types.ConsumerCostRecord)
		if !ok || edge.IsSelfConsumption() {
			kept = append(kept, record)
			continue
		}

		j, consumerListed := position[edge.Service]
		if consumerListed && dropsUpstream(j, upstreamOf[edge.ProviderService]) {
			dropped++
			continue
		}

		i, providerListed := position[edge.ProviderService]
		if consumerListed && providerListed && j < i {
			upstream := upstreams[j].Upstream
			a.logger.Debug("Moving consumption to upstream service",
				zap.String("consumer", edge.InstanceKey()),
				zap.String("provider", edge.ProviderKey()),
				zap.String("upstream", upstream),
			)
			edge.Service = upstream
			edge.Instance = upstream
			rewritten++
		}
		kept = append(kept, record)
	}

	if rewritten > 0 || dropped > 0 {
		a.logger.Info("Untangled service upstreams", zap.Int("rewritten", rewritten), zap.Int("dropped", dropped))
	}
	if dropped > 0 {
		a.stats.DroppedRecords += dropped
		a.observer.RecordsDropped(DropUntangled, dropped)
	}
	return kept
}

// dropsUpstream reports whether a service listed at position j consuming an
// upstream of the services at positions must be dropped
func dropsUpstream(j int, positions []int) bool {
	for _, i := range positions {
		if i < j {
			return true
		}
	}
	return false
}
