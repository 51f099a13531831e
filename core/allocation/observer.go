package allocation

import "time"

// Drop reasons reported to observers
const (
	DropDateMismatch   = "date_mismatch"
	DropUntangled      = "untangled"
	DropRemovedInCycle = "removed_from_cycle"
)

// Observer receives run statistics from the allocator
type Observer interface {
	RecordsDropped(reason string, n int)
	CycleBreaks(n int)
	SelectorFailures(distinct, total int)
	AmountAllocated(amount string, total float64)
	AllocationDuration(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordsDropped(string, int)       {}
func (nopObserver) CycleBreaks(int)                  {}
func (nopObserver) SelectorFailures(int, int)        {}
func (nopObserver) AmountAllocated(string, float64)  {}
func (nopObserver) AllocationDuration(time.Duration) {}
