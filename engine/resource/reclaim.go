package resource

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/kilnengine/kiln-go/common"
)

// Reclaimer is the deferred-destruction queue: native objects whose slots have
// already been freed wait here until the command layer reports, via a
// completion token, that no unexecuted GPU commands can still reference them.
// Tokens retire monotonically — retiring token N releases everything deferred
// at or below N.
//
// Destroy procedures run on a bounded worker pool so a burst of retirements
// (e.g. a resize dropping a whole G-buffer) does not stall the frame thread.
type Reclaimer struct {
	mu      *sync.Mutex
	pending map[common.CompletionToken][]func() error
	retired common.CompletionToken

	pool   worker.DynamicWorkerPool
	wg     *sync.WaitGroup
	taskID int

	workers int
}

// ReclaimerBuilderOption is a functional option applied to a Reclaimer during
// construction via NewReclaimer.
type ReclaimerBuilderOption func(*Reclaimer)

// WithReclaimWorkers overrides the number of destroy workers. The default is 1:
// native destroy procedures are short and ordering within a token batch does
// not matter, but most callers have no need for parallelism here.
//
// Parameters:
//   - workers: the worker count, minimum 1
//
// Returns:
//   - ReclaimerBuilderOption: a function that applies the worker count option
func WithReclaimWorkers(workers int) ReclaimerBuilderOption {
	return func(r *Reclaimer) {
		r.workers = max(workers, 1)
	}
}

// NewReclaimer creates a Reclaimer with its destroy worker pool started.
//
// Parameters:
//   - options: variadic list of ReclaimerBuilderOption functions
//
// Returns:
//   - *Reclaimer: the new reclaimer
func NewReclaimer(options ...ReclaimerBuilderOption) *Reclaimer {
	r := &Reclaimer{
		mu:      &sync.Mutex{},
		pending: make(map[common.CompletionToken][]func() error),
		wg:      &sync.WaitGroup{},
		workers: 1,
	}
	for _, option := range options {
		option(r)
	}
	// Queue size of 64 covers a full G-buffer teardown with headroom.
	r.pool = worker.NewDynamicWorkerPool(r.workers, 64, 1*time.Second)
	return r
}

// Defer registers a destroy procedure to run once token retires. If the token
// has already retired, the destroy is dispatched immediately.
//
// Parameters:
//   - token: the completion token the destroy must wait for
//   - destroy: the native destroy procedure (typically a Guard's Destroy)
func (r *Reclaimer) Defer(token common.CompletionToken, destroy func() error) {
	r.mu.Lock()
	if token <= r.retired {
		r.mu.Unlock()
		r.dispatch([]func() error{destroy})
		return
	}
	r.pending[token] = append(r.pending[token], destroy)
	r.mu.Unlock()
}

// Retire marks all tokens at or below token as complete and dispatches their
// deferred destroys to the worker pool.
//
// Parameters:
//   - token: the highest completion token the GPU has finished
func (r *Reclaimer) Retire(token common.CompletionToken) {
	r.mu.Lock()
	if token <= r.retired {
		r.mu.Unlock()
		return
	}
	r.retired = token
	var due []func() error
	for t, destroys := range r.pending {
		if t <= token {
			due = append(due, destroys...)
			delete(r.pending, t)
		}
	}
	r.mu.Unlock()
	r.dispatch(due)
}

// Drain retires every outstanding token and blocks until all dispatched
// destroys have run. Intended for device shutdown, after the command layer
// has waited for GPU idle.
func (r *Reclaimer) Drain() {
	r.mu.Lock()
	var due []func() error
	for t, destroys := range r.pending {
		due = append(due, destroys...)
		delete(r.pending, t)
		if t > r.retired {
			r.retired = t
		}
	}
	r.mu.Unlock()
	r.dispatch(due)
	r.wg.Wait()
}

// Pending returns the number of destroy procedures still waiting on a token.
func (r *Reclaimer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, destroys := range r.pending {
		n += len(destroys)
	}
	return n
}

func (r *Reclaimer) dispatch(destroys []func() error) {
	for _, destroy := range destroys {
		r.wg.Add(1)
		d := destroy // capture for closure
		r.mu.Lock()
		id := r.taskID
		r.taskID++
		r.mu.Unlock()
		r.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer r.wg.Done()
				// A failing native destroy cannot be recovered here; the
				// error is surfaced by the pool's task result and the
				// resource is considered gone either way.
				return nil, d()
			},
		})
	}
}
