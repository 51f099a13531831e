package selector

import (
	"errors"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/logging"
)

// Scope identifies where a selector is evaluated, for error reporting
type Scope struct {
	ProviderService  string
	ProviderInstance string
	Date             string
}

type compiled struct {
	program *Program
	err     error
}

type resultKey struct {
	selector string
	tags     string
}

type result struct {
	matched bool
	err     error
}

type reportKey struct {
	scope    Scope
	selector string
	kind     ErrorKind
}

// Evaluator matches records against selectors.
//
// Programs are compiled once per selector and results memoized per
// (selector, tag set). Failures count as non-matches; each distinct
// (scope, selector, error kind) is logged once and counted afterwards.
type Evaluator struct {
	programs map[string]compiled
	results  map[resultKey]result
	counts   map[reportKey]int
	order    []reportKey
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		programs: make(map[string]compiled),
		results:  make(map[resultKey]result),
		counts:   make(map[reportKey]int),
		logger:   logging.Named("selector"),
	}
}

// Program returns the compiled selector
func (e *Evaluator) Program(selector string) (*Program, error) {
	c, ok := e.programs[selector]
	if !ok {
		p, err := Compile(selector)
		c = compiled{program: p, err: err}
		e.programs[selector] = c
	}
	return c.program, c.err
}

// Match evaluates selector against the tags of record
func (e *Evaluator) Match(selector string, record *types.Record, scope Scope) bool {
	if selector == "" {
		return true
	}

	key := resultKey{selector: selector, tags: record.TagsKey()}
	r, ok := e.results[key]
	if !ok {
		program, err := e.Program(selector)
		if err == nil {
			r.matched, r.err = program.Eval(record.Tags)
		} else {
			r.err = err
		}
		e.results[key] = r
	}

	if r.err != nil {
		e.report(selector, scope, r.err)
		return false
	}
	return r.matched
}

func (e *Evaluator) report(selector string, scope Scope, err error) {
	kind := ErrType
	var selErr *Error
	if errors.As(err, &selErr) {
		kind = selErr.Kind
	}

	key := reportKey{scope: scope, selector: selector, kind: kind}
	e.counts[key]++
	if e.counts[key] > 1 {
		return
	}
	e.order = append(e.order, key)
	e.logger.Error("Provider tag selector evaluation failed",
		zap.String("provider_service", scope.ProviderService),
		zap.String("provider_instance", scope.ProviderInstance),
		zap.String("date", scope.Date),
		zap.String("selector", selector),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}

// Flush logs the occurrence count of failures seen more than once
func (e *Evaluator) Flush() {
	for _, key := range e.order {
		if n := e.counts[key]; n > 1 {
			e.logger.Warn("Provider tag selector evaluation failed repeatedly",
				zap.String("provider_service", key.scope.ProviderService),
				zap.String("provider_instance", key.scope.ProviderInstance),
				zap.String("date", key.scope.Date),
				zap.String("selector", key.selector),
				zap.String("kind", string(key.kind)),
				zap.Int("occurrences", n),
			)
		}
	}
}

// Failures returns the number of distinct failures and their total occurrences
func (e *Evaluator) Failures() (distinct, total int) {
	for _, n := range e.counts {
		distinct++
		total += n
	}
	return distinct, total
}
