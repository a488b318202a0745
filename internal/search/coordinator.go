package search

import (
	"context"
	"sync"

	"github.com/flrossetto/fseek/internal/fseekerr"
)

// WorkerState is the coordinator's record of one worker.
type WorkerState struct {
	// Terminated is set by the worker itself, last thing in its cleanup.
	Terminated bool
	// Reclaimed is set by the join loop once the worker's outcome is collected.
	Reclaimed bool
}

// Disposition says what a worker does with an interruption.
type Disposition int

const (
	// Terminate stops the receiving worker as if it had been cancelled.
	Terminate Disposition = iota
	// Handle logs the interruption and carries on.
	Handle
	// Fault makes the receiving worker panic.
	Fault
)

// Interruption is an externally requested stop or notification for one worker.
type Interruption struct {
	Signal      string
	Disposition Disposition
}

const mailboxSize = 4

// errCancelRequested is the cancellation cause a winner hands to its peers.
var errCancelRequested = fseekerr.New(fseekerr.CodeCanceled, "match reported by another worker") //nolint:gochecknoglobals

// Coordinator owns the per-worker state table and the match claim. All
// mutation goes through its methods under one mutex; cond is signalled every
// time a worker terminates.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	states    []WorkerState
	cancels   []context.CancelCauseFunc
	mailboxes []chan Interruption

	// changed is the level-triggered "a worker terminated" flag. It is only
	// cleared by the join loop while holding mu, after it has scanned states.
	changed bool

	claimed bool
	winner  int
}

// NewCoordinator creates the table for n workers, all running and unreclaimed.
func NewCoordinator(n int) *Coordinator {
	c := &Coordinator{
		states:    make([]WorkerState, n),
		cancels:   make([]context.CancelCauseFunc, n),
		mailboxes: make([]chan Interruption, n),
		winner:    -1,
	}
	c.cond = sync.NewCond(&c.mu)

	for i := range c.mailboxes {
		c.mailboxes[i] = make(chan Interruption, mailboxSize)
	}

	return c
}

// attach binds a worker's cancel function. Called before any worker starts.
func (c *Coordinator) attach(worker int, cancel context.CancelCauseFunc) {
	c.mu.Lock()
	c.cancels[worker] = cancel
	c.mu.Unlock()
}

// ClaimFirstMatch is an atomic test-and-set of the match claim. Exactly one
// caller per run gets true.
func (c *Coordinator) ClaimFirstMatch(worker int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.claimed {
		return false
	}

	c.claimed = true
	c.winner = worker

	return true
}

// Winner returns the worker holding the claim, if any.
func (c *Coordinator) Winner() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.winner, c.claimed
}

// RequestCancelAllExcept asks every worker other than self that has not yet
// terminated to stop, and returns how many were asked. Requests are
// cooperative: each worker notices at its next checkpoint.
func (c *Coordinator) RequestCancelAllExcept(self int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for i, st := range c.states {
		if i == self || st.Terminated || c.cancels[i] == nil {
			continue
		}

		c.cancels[i](errCancelRequested)
		n++
	}

	return n
}

// Interrupt queues an interruption for one worker. It never blocks: a full
// mailbox or a terminated worker is reported as SIGNAL_ERROR. A Terminate
// interruption also cancels the worker's context right away, so a worker
// waiting for the reader in immediate mode stops waiting.
func (c *Coordinator) Interrupt(worker int, in Interruption) error {
	if worker < 0 || worker >= len(c.states) {
		return fseekerr.New(fseekerr.CodeSignalError, "no such worker",
			fseekerr.WithDetails(fseekerr.Details{"worker": worker}))
	}

	c.mu.Lock()
	terminated := c.states[worker].Terminated

	if !terminated && in.Disposition == Terminate && c.cancels[worker] != nil {
		c.cancels[worker](errInterrupted)
	}

	c.mu.Unlock()

	if terminated {
		return fseekerr.New(fseekerr.CodeSignalError, "worker already terminated",
			fseekerr.WithDetails(fseekerr.Details{"worker": worker}))
	}

	select {
	case c.mailboxes[worker] <- in:
		return nil
	default:
		return fseekerr.New(fseekerr.CodeSignalError, "worker mailbox full",
			fseekerr.WithDetails(fseekerr.Details{"worker": worker}))
	}
}

func (c *Coordinator) mailbox(worker int) <-chan Interruption {
	return c.mailboxes[worker]
}

// MarkTerminated records that worker has finished its cleanup and wakes the
// join loop.
func (c *Coordinator) MarkTerminated(worker int) {
	c.mu.Lock()
	c.states[worker].Terminated = true
	c.changed = true
	c.cond.Signal()
	c.mu.Unlock()
}

// AwaitTerminated blocks until at least one termination has been signalled
// since the last call, then returns every worker that is terminated but not
// yet reclaimed. Spurious wakeups are absorbed by the loop, and a termination
// that lands after the scan sets changed again, so none is lost.
func (c *Coordinator) AwaitTerminated() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.changed {
		c.cond.Wait()
	}

	var ready []int

	for i, st := range c.states {
		if st.Terminated && !st.Reclaimed {
			ready = append(ready, i)
		}
	}

	c.changed = false

	return ready
}

// MarkReclaimed records that worker's outcome has been collected.
func (c *Coordinator) MarkReclaimed(worker int) {
	c.mu.Lock()
	c.states[worker].Reclaimed = true
	c.mu.Unlock()
}

// States returns a snapshot of the table.
func (c *Coordinator) States() []WorkerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]WorkerState(nil), c.states...)
}
