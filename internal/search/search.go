// Package search runs a one-shot parallel substring search over a source of
// fixed-width records.
//
// A pool of workers pulls sequential chunks from one shared reader and scans
// them record by record. The first worker to find the query claims the match,
// reports it and asks every other worker to stop. The coordinator returns only
// after every worker has run its cleanup, so the source may be closed as soon
// as Run returns.
package search

import (
	"context"
	"io"
	"sync"

	"github.com/flrossetto/fseek/internal/events"
	"github.com/flrossetto/fseek/internal/firsterr"
	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/reader"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Match is the authoritative result of a run.
type Match struct {
	Worker   int
	WorkerID string
	RecordID int
	Offset   int64
}

// Result summarizes a run once every worker has terminated.
type Result struct {
	RunID string
	Found bool
	Match Match
	// Workers holds one outcome per worker, by index.
	Workers []Outcome
	// States is the coordinator's final table.
	States []WorkerState
	// Reads counts the chunk reads attempted on the shared reader.
	Reads int64
}

// Records returns the total number of records tested across all workers.
func (r *Result) Records() int {
	total := 0
	for _, o := range r.Workers {
		total += o.Records
	}

	return total
}

// ReleaseHook runs once every worker is parked at the release gate (or has
// already failed to allocate), before any is released.
type ReleaseHook func(ctx context.Context, coord *Coordinator) error

// Option customizes a Search.
type Option func(*Search)

// WithAllocator replaces the default heap allocator for scan buffers.
func WithAllocator(a Allocator) Option {
	return func(s *Search) { s.alloc = a }
}

// WithBus sets the bus run events are published on.
func WithBus(b events.Bus) Option {
	return func(s *Search) { s.bus = b }
}

// WithReleaseHook adds a hook run just before the release gate opens.
func WithReleaseHook(h ReleaseHook) Option {
	return func(s *Search) { s.hooks = append(s.hooks, h) }
}

// Search is a configured, not yet started, run.
type Search struct {
	logger *logrus.Logger
	opts   Options
	src    io.Reader
	alloc  Allocator
	bus    events.Bus
	hooks  []ReleaseHook
}

// New validates opts and prepares a search of src.
func New(logger *logrus.Logger, src io.Reader, opts Options, options ...Option) (*Search, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if src == nil {
		return nil, fseekerr.New(fseekerr.CodeInvalidInput, "nil source")
	}

	s := &Search{
		logger: logger,
		opts:   opts.withDefaults(),
		src:    src,
	}

	for _, o := range options {
		o(s)
	}

	if s.alloc == nil {
		s.alloc = NewHeapAllocator(0)
	}

	if s.bus == nil {
		s.bus = events.New()
	}

	return s, nil
}

// Run starts every worker, waits until each has its buffer and is parked at
// the release gate, opens the gate and waits until all of them are done.
// Worker faults are reported in the outcomes, not as an error. The error is
// CANCELED when ctx ended before any match was found.
func (s *Search) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	n := s.opts.Workers

	log := s.logger.WithFields(logrus.Fields{
		"runID":           runID,
		"workers":         n,
		"recordsPerChunk": s.opts.RecordsPerChunk,
		"cancelMode":      s.opts.CancelMode,
		"lifetime":        s.opts.Lifetime,
	})
	log.Info("Starting search")

	rd := reader.New(s.src, s.opts.RecordSize)
	coord := NewCoordinator(n)
	start := make(chan struct{})
	workers := make([]*worker, n)

	var ready sync.WaitGroup
	ready.Add(n)

	for i := range workers {
		wctx, cancel := context.WithCancelCause(ctx)
		coord.attach(i, cancel)

		id := uuid.NewString()
		workers[i] = &worker{
			index:   i,
			runID:   runID,
			log:     log.WithFields(logrus.Fields{"worker": i, "workerID": id}),
			opts:    s.opts,
			query:   []byte(s.opts.Query),
			reader:  rd,
			alloc:   s.alloc,
			coord:   coord,
			bus:     s.bus,
			start:   start,
			ready:   &ready,
			ctx:     wctx,
			cancel:  cancel,
			outcome: Outcome{Worker: i, WorkerID: id, RecordID: -1},
			exited:  make(chan struct{}),
		}
	}

	var group *firsterr.Group

	switch s.opts.Lifetime {
	case Detached:
		_, group = firsterr.WithContext(context.WithoutCancel(ctx))
		for _, w := range workers {
			group.Go(func(context.Context) error {
				w.run()

				return nil
			})
		}
	default:
		for _, w := range workers {
			go w.run()
		}
	}

	ready.Wait()

	for _, hook := range s.hooks {
		if err := hook(ctx, coord); err != nil {
			log.WithError(err).Warn("Release hook failed")
		}
	}

	close(start)
	log.Debug("Workers released")

	if group != nil {
		<-group.Done()
	} else {
		s.join(log, coord, workers)
	}

	res := &Result{
		RunID:   runID,
		Workers: make([]Outcome, n),
		States:  coord.States(),
		Reads:   rd.Reads(),
	}

	for i, w := range workers {
		res.Workers[i] = w.outcome
	}

	if winner, ok := coord.Winner(); ok {
		o := res.Workers[winner]
		res.Found = true
		res.Match = Match{Worker: winner, WorkerID: o.WorkerID, RecordID: o.RecordID, Offset: o.Offset}
	}

	log.WithFields(logrus.Fields{
		"found":    res.Found,
		"recordID": res.Match.RecordID,
		"records":  res.Records(),
		"reads":    res.Reads,
	}).Info("Search finished")

	if !res.Found && ctx.Err() != nil {
		return res, fseekerr.New(fseekerr.CodeCanceled, "search cancelled before a match was found",
			fseekerr.WithError(context.Cause(ctx)))
	}

	return res, nil
}

// join reclaims workers as they terminate until none is left.
func (s *Search) join(log *logrus.Entry, coord *Coordinator, workers []*worker) {
	remaining := len(workers)

	for remaining > 0 {
		for _, i := range coord.AwaitTerminated() {
			<-workers[i].exited
			coord.MarkReclaimed(i)
			remaining--

			log.WithFields(logrus.Fields{
				"worker":    i,
				"state":     workers[i].outcome.State.String(),
				"remaining": remaining,
			}).Debug("Reclaimed worker")
		}
	}
}
