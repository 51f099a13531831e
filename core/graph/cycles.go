package graph

import (
	"strings"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

// CycleStatus is the outcome of a cycle detection visit
type CycleStatus int

const (
	// CycleContinue means no cycle was found below the visited instance
	CycleContinue CycleStatus = iota

	// CycleBreakAt means an edge was removed; detection must restart
	CycleBreakAt

	// CycleUnbreakable means a cycle was found that the precedence list cannot break
	CycleUnbreakable
)

// String returns the status name
func (s CycleStatus) String() string {
	switch s {
	case CycleContinue:
		return "continue"
	case CycleBreakAt:
		return "break_at"
	case CycleUnbreakable:
		return "unbreakable"
	}
	return "unknown"
}

// CycleBreak describes a removed edge
type CycleBreak struct {
	Edge   *types.ConsumerCostRecord
	First  *ServiceInstance
	Second *ServiceInstance
	Cycle  []string
}

type cycleDetector struct {
	registry   *Registry
	precedence []string
	stack      []*ServiceInstance

	// set when a cycle is found
	cycle []string
	brk   *CycleBreak
}

// DetectAndBreak runs one detection pass over the registry, visiting
// instances in creation order. On the first cycle found it either removes
// one edge and returns CycleBreakAt, or returns CycleUnbreakable.
func DetectAndBreak(registry *Registry, precedence []string) (CycleStatus, *CycleBreak, []string) {
	d := &cycleDetector{registry: registry, precedence: precedence}
	for _, si := range registry.Instances() {
		si.State = Unvisited
	}
	for _, si := range registry.Instances() {
		if status := d.visit(si); status != CycleContinue {
			return status, d.brk, d.cycle
		}
	}
	return CycleContinue, nil, nil
}

func (d *cycleDetector) visit(si *ServiceInstance) CycleStatus {
	switch si.State {
	case Visited:
		return CycleContinue
	case Visiting:
		return d.resolve(si)
	}

	si.State = Visiting
	d.stack = append(d.stack, si)

	for _, record := range si.CostRecords {
		edge, ok := record.(*types.ConsumerCostRecord)
		if !ok || edge.IsSelfConsumption() {
			continue
		}
		if status := d.visit(d.registry.Instance(edge.Provider)); status != CycleContinue {
			return status
		}
	}

	d.stack = d.stack[:len(d.stack)-1]
	si.State = Visited
	return CycleContinue
}

// resolve is called when revisited is reached while still on the stack
func (d *cycleDetector) resolve(revisited *ServiceInstance) CycleStatus {
	start := 0
	for i, si := range d.stack {
		if si == revisited {
			start = i
			break
		}
	}
	members := d.stack[start:]

	d.cycle = make([]string, 0, len(members)+1)
	for _, si := range members {
		d.cycle = append(d.cycle, si.Key())
	}
	d.cycle = append(d.cycle, revisited.Key())

	first, second := pickByPrecedence(members, d.precedence)
	if second == nil {
		return CycleUnbreakable
	}

	for _, record := range first.CostRecords {
		edge, ok := record.(*types.ConsumerCostRecord)
		if !ok || edge.IsSelfConsumption() {
			continue
		}
		if d.registry.Instance(edge.Provider).State == Visiting {
			edge.RemovedFromCycle = true
			d.brk = &CycleBreak{Edge: edge, First: first, Second: second, Cycle: d.cycle}
			return CycleBreakAt
		}
	}
	return CycleUnbreakable
}

// pickByPrecedence returns the instances of the first two distinct services
// of the precedence list present among members
func pickByPrecedence(members []*ServiceInstance, precedence []string) (first, second *ServiceInstance) {
	for _, service := range precedence {
		if first != nil && service == first.Service {
			continue
		}
		for _, si := range members {
			if si.Service != service {
				continue
			}
			if first == nil {
				first = si
			} else {
				second = si
			}
			break
		}
		if second != nil {
			return first, second
		}
	}
	return first, nil
}

// BreakCycles removes edges until the graph of active records is acyclic.
// Each detection pass runs on a freshly built registry. It returns the
// number of edges removed.
func BreakCycles(records []types.CostRecord, precedence []string, maxBreaks int) (int, error) {
	logger := logging.Named("cycles")

	breaks := 0
	for {
		logger.Debug("Detecting cycles", zap.Int("pass", breaks))

		registry := Build(records, 0)
		status, brk, cycle := DetectAndBreak(registry, precedence)

		switch status {
		case CycleContinue:
			return breaks, nil

		case CycleUnbreakable:
			logger.Error("Unbreakable cost allocation cycle detected",
				zap.String("cycle", strings.Join(cycle, ",")),
				zap.Strings("precedence", precedence),
			)
			return breaks, errors.New(errors.TypeCycleUnbreakable, "unbreakable cost allocation cycle").
				WithContext("cycle", strings.Join(cycle, ","))

		case CycleBreakAt:
			breaks++
			logger.Info("Broke cost allocation cycle",
				zap.String("consumer", brk.First.Key()),
				zap.String("provider", brk.Edge.ProviderKey()),
				zap.String("first", brk.First.Service),
				zap.String("second", brk.Second.Service),
				zap.String("cycle", strings.Join(brk.Cycle, ",")),
			)
			if breaks >= maxBreaks {
				logger.Error("Max number of cost allocation cycle breaks reached", zap.Int("max_breaks", maxBreaks))
				return breaks, errors.Newf(errors.TypeCycleBreakLimit,
					"cycle breaks reached the limit of %d", maxBreaks)
			}
		}
	}
}
