// Package graph holds the service instance registry and the cycle breaker.
//
// The registry is an arena: instances are addressed by their integer id and
// consumer records refer to their provider by id. A registry is never
// updated incrementally; it is rebuilt from the record set whenever the set
// of active edges changes.
package graph

import (
	"sort"

	"cloud-cost-allocation/core/types"
)

// VisitState is the traversal state of an instance
type VisitState int

const (
	Unvisited VisitState = iota
	Visiting
	Visited
)

// String returns the state name
func (s VisitState) String() string {
	switch s {
	case Unvisited:
		return "unvisited"
	case Visiting:
		return "visiting"
	case Visited:
		return "visited"
	}
	return "unknown"
}

// ServiceInstance is a node of the consumer → provider graph
type ServiceInstance struct {
	ID       types.InstanceID
	Service  string
	Instance string

	// CostRecords are the records owned by this instance, in input order
	CostRecords []types.CostRecord

	// ConsumerRecords are the edges whose provider is this instance,
	// self-consumption included
	ConsumerRecords []*types.ConsumerCostRecord

	State VisitState

	// Totals is the service cost of the instance per amount
	Totals []float64

	// UnallocatedTotals is the part of Totals not yet attributed to a product
	UnallocatedTotals []float64

	selectors     []*ProviderTagSelectorAmounts
	selectorIndex map[string]int
}

func newServiceInstance(id types.InstanceID, service, instance string, nbAmounts int) *ServiceInstance {
	return &ServiceInstance{
		ID:                id,
		Service:           service,
		Instance:          instance,
		Totals:            make([]float64, nbAmounts),
		UnallocatedTotals: make([]float64, nbAmounts),
		selectorIndex:     make(map[string]int),
	}
}

// Key returns the registry key
func (s *ServiceInstance) Key() string {
	return types.InstanceKey(s.Service, s.Instance)
}

// IsProvider reports whether any edge consumes this instance
func (s *ServiceInstance) IsProvider() bool {
	return len(s.ConsumerRecords) > 0
}

// ResetVisit clears the visit state and the totals of the given amounts
func (s *ServiceInstance) ResetVisit(amounts []int) {
	s.State = Unvisited
	for _, i := range amounts {
		s.Totals[i] = 0
		s.UnallocatedTotals[i] = 0
	}
}

// Selectors returns the provider tag selector buckets in order of first appearance
func (s *ServiceInstance) Selectors() []*ProviderTagSelectorAmounts {
	return s.selectors
}

// Selector returns the bucket of a selector, creating it if needed
func (s *ServiceInstance) Selector(selector string, nbAmounts, nbKeys int) *ProviderTagSelectorAmounts {
	if i, ok := s.selectorIndex[selector]; ok {
		return s.selectors[i]
	}
	p := newProviderTagSelectorAmounts(selector, nbAmounts, nbKeys)
	s.selectorIndex[selector] = len(s.selectors)
	s.selectors = append(s.selectors, p)
	return p
}

// LookupSelector returns the bucket of a selector if it exists
func (s *ServiceInstance) LookupSelector(selector string) (*ProviderTagSelectorAmounts, bool) {
	i, ok := s.selectorIndex[selector]
	if !ok {
		return nil, false
	}
	return s.selectors[i], true
}

// ClearSelectors drops every selector bucket
func (s *ServiceInstance) ClearSelectors() {
	s.selectors = nil
	s.selectorIndex = make(map[string]int)
}

// Registry owns the service instances of one allocation phase
type Registry struct {
	instances []*ServiceInstance
	index     map[string]types.InstanceID
	nbAmounts int
}

// NewRegistry creates an empty registry whose instances track nbAmounts amounts
func NewRegistry(nbAmounts int) *Registry {
	return &Registry{
		index:     make(map[string]types.InstanceID),
		nbAmounts: nbAmounts,
	}
}

// Build links records into a fresh registry. Edges removed from a cycle are
// ignored; every other consumer record gets its Provider id set.
func Build(records []types.CostRecord, nbAmounts int) *Registry {
	r := NewRegistry(nbAmounts)
	for _, record := range records {
		r.Link(record)
	}
	return r
}

// Link adds a record to its owning instance and, for consumer records, to
// its provider instance
func (r *Registry) Link(record types.CostRecord) {
	consumer, isConsumer := record.(*types.ConsumerCostRecord)
	if isConsumer && consumer.RemovedFromCycle {
		return
	}

	base := record.Base()
	owner := r.GetOrAdd(base.Service, base.Instance)
	owner.CostRecords = append(owner.CostRecords, record)

	if isConsumer {
		provider := r.GetOrAdd(consumer.ProviderService, consumer.ProviderInstance)
		provider.ConsumerRecords = append(provider.ConsumerRecords, consumer)
		consumer.Provider = provider.ID
	}
}

// GetOrAdd returns the instance, creating it if needed
func (r *Registry) GetOrAdd(service, instance string) *ServiceInstance {
	key := types.InstanceKey(service, instance)
	if id, ok := r.index[key]; ok {
		return r.instances[id]
	}
	id := types.InstanceID(len(r.instances))
	si := newServiceInstance(id, service, instance, r.nbAmounts)
	r.instances = append(r.instances, si)
	r.index[key] = id
	return si
}

// Get looks up an instance by service and instance name
func (r *Registry) Get(service, instance string) (*ServiceInstance, bool) {
	id, ok := r.index[types.InstanceKey(service, instance)]
	if !ok {
		return nil, false
	}
	return r.instances[id], true
}

// Instance returns the instance with the given id
func (r *Registry) Instance(id types.InstanceID) *ServiceInstance {
	return r.instances[id]
}

// Len returns the number of instances
func (r *Registry) Len() int {
	return len(r.instances)
}

// NbAmounts returns the size of the per-amount totals
func (r *Registry) NbAmounts() int {
	return r.nbAmounts
}

// Instances returns the instances in creation order
func (r *Registry) Instances() []*ServiceInstance {
	return r.instances
}

// Sorted returns the instances sorted by key
func (r *Registry) Sorted() []*ServiceInstance {
	sorted := make([]*ServiceInstance, len(r.instances))
	copy(sorted, r.instances)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key() < sorted[j].Key()
	})
	return sorted
}

// ResetVisits resets the visit state of every instance
func (r *Registry) ResetVisits(amounts []int) {
	for _, si := range r.instances {
		si.ResetVisit(amounts)
	}
}
