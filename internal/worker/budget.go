package worker

import "sync/atomic"

// Budget is the run-wide cap on extraction attempts, shared by every batch of
// a phase. A zero or negative limit means unlimited.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a budget allowing limit attempts.
func NewBudget(limit int) *Budget {
	return &Budget{limit: int64(limit)}
}

// Take consumes one attempt and reports whether it was granted.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	if b.limit <= 0 {
		b.used.Add(1)
		return true
	}
	for {
		used := b.used.Load()
		if used >= b.limit {
			return false
		}
		if b.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

// Used returns the number of attempts granted so far.
func (b *Budget) Used() int {
	if b == nil {
		return 0
	}
	return int(b.used.Load())
}
