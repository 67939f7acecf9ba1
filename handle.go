package spritepal

import (
	"sync"
	"sync/atomic"

	"github.com/semmlerino/spritepal/scanner"
)

// SearchState is the lifecycle of one search request.
type SearchState int32

const (
	StatePending SearchState = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s SearchState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SearchHandle tracks an asynchronous search. Progress and Cancel are
// safe from any goroutine; Await blocks until the request reaches a
// terminal state.
type SearchHandle struct {
	state     atomic.Int32
	scanned   atomic.Int64
	total     int64
	cancelled atomic.Bool
	done      chan struct{}

	progressMu sync.Mutex
	reported   float64

	results []scanner.Candidate
	err     error
}

func newSearchHandle(total int64) *SearchHandle {
	if total < 1 {
		total = 1
	}
	return &SearchHandle{total: total, done: make(chan struct{})}
}

// State returns the current lifecycle state.
func (h *SearchHandle) State() SearchState {
	return SearchState(h.state.Load())
}

// Progress returns the fraction of the range scanned so far in [0, 1].
// It is monotonically non-decreasing for the lifetime of the request.
func (h *SearchHandle) Progress() float64 {
	f := float64(h.scanned.Load()) / float64(h.total)
	if f > 1 {
		f = 1
	}
	return f
}

// Cancel requests cooperative cancellation. Workers observe it at probe
// granularity; the request then terminates in StateCancelled with
// whatever results were already complete. Idempotent.
func (h *SearchHandle) Cancel() {
	h.cancelled.Store(true)
}

// Await blocks until the search finishes and returns its results. After
// cancellation it returns the partial results alongside a nil error;
// State distinguishes the outcome.
func (h *SearchHandle) Await() ([]scanner.Candidate, error) {
	<-h.done
	return h.results, h.err
}

// notify delivers the current progress to fn. Workers report
// concurrently, so the read and the call are serialised under one lock
// and values that would run backwards are dropped; the callback only
// ever sees a non-decreasing sequence.
func (h *SearchHandle) notify(fn func(float64)) {
	h.progressMu.Lock()
	defer h.progressMu.Unlock()
	f := h.Progress()
	if f <= h.reported {
		return
	}
	h.reported = f
	fn(f)
}

// advance credits n scanned bytes toward progress.
func (h *SearchHandle) advance(n int64) {
	h.scanned.Add(n)
}

func (h *SearchHandle) finish(state SearchState, results []scanner.Candidate, err error) {
	h.results = results
	h.err = err
	if state == StateCompleted {
		h.scanned.Store(h.total)
	}
	h.state.Store(int32(state))
	close(h.done)
}
