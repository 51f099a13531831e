// Package allocation allocates cloud costs along consumption edges.
//
// An Allocator takes cloud cost records and consumer records, materializes
// the edges implied by tags and selectors, breaks cycles, and propagates
// every requested amount from providers to consumers and products.
package allocation

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/graph"
	"cloud-cost-allocation/core/selector"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

// Stats summarizes the last run of an allocator
type Stats struct {
	Records          int
	Instances        int
	CycleBreaks      int
	DroppedRecords   int
	SelectorFailures int
	Duration         time.Duration

	// Totals is the cloud cost allocated per amount name
	Totals map[string]float64
}

// Option configures an Allocator
type Option func(*Allocator)

// WithObserver reports run statistics to o
func WithObserver(o Observer) Option {
	return func(a *Allocator) {
		a.observer = o
	}
}

// WithEvaluator shares a selector evaluator, and its memoized results
func WithEvaluator(e *selector.Evaluator) Option {
	return func(a *Allocator) {
		a.evaluator = e
	}
}

// Allocator runs cost allocations. An allocator is not safe for concurrent
// use; each run rebuilds its registry.
type Allocator struct {
	// Date and Currency every record must share
	Date     string
	Currency string

	cfg       *config.Config
	factory   *types.Factory
	evaluator *selector.Evaluator
	observer  Observer
	logger    *zap.Logger

	records  []types.CostRecord
	registry *graph.Registry
	stats    Stats
}

// New creates an allocator
func New(cfg *config.Config, opts ...Option) *Allocator {
	a := &Allocator{
		cfg:      cfg,
		factory:  types.NewFactory(cfg),
		observer: nopObserver{},
		logger:   logging.Named("allocator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.evaluator == nil {
		a.evaluator = selector.NewEvaluator()
	}
	return a
}

// Allocate allocates the given amounts of the cloud records along the consumer records
func (a *Allocator) Allocate(consumers []*types.ConsumerCostRecord, clouds []*types.CloudCostRecord, amounts []string) error {
	start := time.Now()
	a.stats = Stats{Totals: make(map[string]float64)}

	if a.Date == "" {
		return errors.New(errors.TypeDateMissing, "allocation date is not set")
	}
	if a.Currency == "" {
		return errors.Config("allocation currency is not set")
	}
	keyOf, err := a.cfg.AmountToKeyIndexes(amounts)
	if err != nil {
		return err
	}

	a.logger.Info("Processing cloud tag selectors", zap.Int("consumer_records", len(consumers)))
	records := make([]types.CostRecord, 0, len(clouds)+len(consumers))
	for _, c := range clouds {
		records = append(records, c)
	}
	var defaultProducts []*types.ConsumerCostRecord
	for _, c := range consumers {
		switch c.AllocationType {
		case types.AllocationCloudTagSelector:
			for _, edge := range a.materializeCloudTagSelector(c, clouds) {
				records = append(records, edge)
			}
		case types.AllocationDefaultProduct:
			defaultProducts = append(defaultProducts, c)
		default:
			records = append(records, c)
		}
	}

	a.logger.Info("Creating consumer records from tags")
	for _, edge := range a.consumersFromTags(records) {
		records = append(records, edge)
	}

	records = a.untangle(records)
	records = a.resolveDefaultProducts(records, defaultProducts)

	if records, err = a.normalizeDateAndCurrency(records); err != nil {
		return err
	}

	a.logger.Info("Breaking cycles", zap.Strings("precedence", a.cfg.Cycles.ServicePrecedenceList))
	breaks, err := graph.BreakCycles(records, a.cfg.Cycles.ServicePrecedenceList, a.cfg.Cycles.MaxBreaks)
	a.stats.CycleBreaks = breaks
	a.observer.CycleBreaks(breaks)
	if breaks > 0 {
		a.observer.RecordsDropped(DropRemovedInCycle, breaks)
	}
	if err != nil {
		return err
	}

	a.records = records
	return a.run(amounts, keyOf, start)
}

// AllocateFurtherAmounts allocates additional amounts of records that were
// already allocated, keeping their edges and the other amounts unchanged
func (a *Allocator) AllocateFurtherAmounts(records []types.CostRecord, amounts []string) error {
	start := time.Now()
	a.stats = Stats{Totals: make(map[string]float64)}

	keyOf, err := a.cfg.AmountToKeyIndexes(amounts)
	if err != nil {
		return err
	}
	if a.Date != "" {
		for _, record := range records {
			if base := record.Base(); base.Date != "" && base.Date != a.Date {
				return errors.Newf(errors.TypeDateMismatch,
					"allocated cost records of %s found in a run of %s", base.Date, a.Date).
					WithContext("service_instance", base.InstanceKey())
			}
		}
	}
	a.records = records
	return a.run(amounts, keyOf, start)
}

// run performs the two allocation passes on a fresh registry
func (a *Allocator) run(amounts []string, keyOf map[int]int, start time.Time) error {
	a.registry = graph.Build(a.records, a.cfg.NbAmounts())

	indexes := make([]int, 0, len(keyOf))
	for i := range keyOf {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	v := &visitor{
		registry:  a.registry,
		evaluator: a.evaluator,
		logger:    a.logger,
		date:      a.Date,
		amounts:   indexes,
		keyOf:     keyOf,
		nbAmounts: a.cfg.NbAmounts(),
		nbKeys:    a.cfg.NbAllocationKeys(),
	}

	if len(indexes) > 0 {
		a.logger.Info("Allocating costs, ignoring keys that are costs", zap.Strings("amounts", amounts))
		if err := v.pass(true); err != nil {
			return err
		}
		if n := v.setCostAsKeys(); n > 0 {
			a.logger.Debug("Set cost allocation keys from costs", zap.Int("records", n))
		}

		a.logger.Info("Allocating costs", zap.Strings("amounts", amounts))
		if err := v.pass(false); err != nil {
			return err
		}
	}

	a.evaluator.Flush()
	distinct, total := a.evaluator.Failures()
	a.stats.SelectorFailures = distinct
	a.observer.SelectorFailures(distinct, total)

	a.stats.Records = len(a.records)
	a.stats.Instances = a.registry.Len()
	for _, record := range a.records {
		if c, ok := record.(*types.CloudCostRecord); ok {
			for _, i := range indexes {
				a.stats.Totals[a.cfg.Amounts[i]] += c.Amounts[i]
			}
		}
	}
	for _, i := range indexes {
		a.observer.AmountAllocated(a.cfg.Amounts[i], a.stats.Totals[a.cfg.Amounts[i]])
	}

	a.stats.Duration = time.Since(start)
	a.observer.AllocationDuration(a.stats.Duration)
	a.logger.Info("Allocation completed",
		zap.Int("records", a.stats.Records),
		zap.Int("service_instances", a.stats.Instances),
		zap.Int("cycle_breaks", a.stats.CycleBreaks),
		zap.Duration("duration", a.stats.Duration),
	)
	return nil
}

// ServiceInstances returns the instances of the last run, sorted by key
func (a *Allocator) ServiceInstances() []*graph.ServiceInstance {
	if a.registry == nil {
		return nil
	}
	return a.registry.Sorted()
}

// Registry returns the registry of the last run
func (a *Allocator) Registry() *graph.Registry {
	return a.registry
}

// Records returns the records of the last run, synthesized edges included
func (a *Allocator) Records() []types.CostRecord {
	return a.records
}

// Stats returns the statistics of the last run
func (a *Allocator) Stats() Stats {
	return a.stats
}
