package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/flrossetto/fseek/internal/events"
	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/reader"
	"github.com/flrossetto/fseek/internal/record"
	"github.com/sirupsen/logrus"
)

// Outcome is a worker's final status, collected when it is reclaimed.
type Outcome struct {
	Worker   int
	WorkerID string
	State    State
	// Chunks lists every chunk the worker took from the reader, in order.
	Chunks []reader.Chunk
	// Records counts the records the worker parsed and tested.
	Records int
	// RecordID is the id of the matching record, or -1.
	RecordID int
	Offset   int64
	// Won is true for the one worker whose match is authoritative.
	Won bool
	Err error
}

var errInterrupted = fseekerr.New(fseekerr.CodeCanceled, "worker interrupted") //nolint:gochecknoglobals

type worker struct {
	index int
	runID string
	log   *logrus.Entry

	opts  Options
	query []byte

	reader *reader.Reader
	alloc  Allocator
	coord  *Coordinator
	bus    events.Bus

	start   <-chan struct{}
	ready   *sync.WaitGroup
	arrived bool

	ctx    context.Context //nolint:containedctx
	cancel context.CancelCauseFunc

	// owned by the worker goroutine
	buf   []byte
	lease *reader.Lease

	outcome Outcome
	exited  chan struct{}
}

// run is the worker goroutine. Every exit path, including runtime.Goexit and
// panics, goes through terminate exactly once before exited is closed.
func (w *worker) run() {
	defer close(w.exited)
	defer func() { w.terminate(recover()) }()

	w.transition(Starting)

	buf, err := w.alloc.Alloc(w.opts.ChunkSize())
	if err != nil {
		w.finish(ResourceFault, err)

		return
	}

	w.buf = buf

	w.transition(WaitingToRun)
	w.arrive()

	select {
	case <-w.start:
	case <-w.ctx.Done():
		w.drainInterruptions()
		w.finish(Cancelled, w.cancelErr())

		return
	}

	w.transition(Active)
	w.scan()
}

func (w *worker) scan() {
	size := w.reader.RecordSize()

	for {
		if w.checkpoint() {
			return
		}

		chunk, err := w.read()

		switch {
		case errors.Is(err, reader.ErrEndOfSource):
			w.finish(ExhaustedSource, nil)

			return
		case fseekerr.Is(err, fseekerr.ErrCanceled):
			w.finish(Cancelled, err)

			return
		case fseekerr.IsReadFailure(err):
			w.finish(ReadFault, err)

			return
		case err != nil:
			w.finish(Faulted, err)

			return
		}

		w.outcome.Chunks = append(w.outcome.Chunks, chunk)
		w.log.WithFields(logrus.Fields{
			"offset":  chunk.Offset,
			"records": chunk.Records,
		}).Debug("Read chunk")

		for i := range chunk.Records {
			rec, err := record.Parse(w.buf[i*size : (i+1)*size])
			if err != nil {
				w.finish(ReadFault, fseekerr.New(fseekerr.CodeReadFault, "malformed record",
					fseekerr.WithError(err),
					fseekerr.WithDetails(fseekerr.Details{"offset": chunk.Offset + int64(i*size)})))

				return
			}

			w.outcome.Records++

			if rec.Contains(w.query) {
				w.matched(rec, chunk.Offset+int64(i*size))

				return
			}

			if w.checkpoint() {
				return
			}
		}
	}
}

// read takes one chunk from the shared reader. The lease is stored on the
// worker while held so terminate can give it back if the worker unwinds
// in between.
func (w *worker) read() (reader.Chunk, error) {
	acquireCtx := context.WithoutCancel(w.ctx)
	if w.opts.CancelMode == CancelImmediate {
		acquireCtx = w.ctx
	}

	lease, err := w.reader.Acquire(acquireCtx)
	if err != nil {
		w.checkpoint()

		return reader.Chunk{}, err
	}

	w.lease = lease

	chunk, err := lease.Read(w.buf)

	if w.opts.CancelMode == CancelImmediate {
		w.checkpoint()
	}

	lease.Release()
	w.lease = nil

	return chunk, err
}

// checkpoint handles queued interruptions and reports whether the worker has
// been cancelled. In immediate mode an observed cancellation does not return.
func (w *worker) checkpoint() bool {
	w.drainInterruptions()

	if w.ctx.Err() == nil {
		return false
	}

	w.finish(Cancelled, w.cancelErr())

	if w.opts.CancelMode == CancelImmediate {
		runtime.Goexit()
	}

	return true
}

func (w *worker) drainInterruptions() {
	for {
		select {
		case in := <-w.coord.mailbox(w.index):
			w.interrupted(in)
		default:
			return
		}
	}
}

func (w *worker) interrupted(in Interruption) {
	handled := in.Disposition == Handle

	w.log.WithFields(logrus.Fields{
		"signal":  in.Signal,
		"handled": handled,
	}).Info("Interruption received")

	_ = w.bus.Send(w.runID, events.Interrupted{
		Worker:  w.index,
		Signal:  in.Signal,
		PID:     os.Getpid(),
		Handled: handled,
	})

	switch in.Disposition {
	case Fault:
		panic(fmt.Sprintf("injected fault (%s) in worker %d", in.Signal, w.index))
	case Terminate:
		w.cancel(errInterrupted)
	case Handle:
	}
}

func (w *worker) matched(rec record.Record, offset int64) {
	w.outcome.RecordID = rec.ID
	w.outcome.Offset = offset
	w.finish(Matched, nil)

	log := w.log.WithFields(logrus.Fields{
		"recordID": rec.ID,
		"offset":   offset,
	})

	if !w.coord.ClaimFirstMatch(w.index) {
		log.Warn("Match found after another worker reported; discarding")

		_ = w.bus.Send(w.runID, events.MatchDiscarded{Worker: w.index, RecordID: rec.ID})

		return
	}

	w.outcome.Won = true

	log.Info("Match claimed")

	if err := w.bus.Send(w.runID, events.MatchReported{
		Worker:   w.index,
		WorkerID: w.outcome.WorkerID,
		RecordID: rec.ID,
		Offset:   offset,
	}); err != nil {
		log.WithError(err).Warn("Failed to deliver match report")
	}

	peers := w.coord.RequestCancelAllExcept(w.index)
	log.WithField("peers", peers).Debug("Requested cancellation of peers")
}

// terminate is the single cleanup path. Everything it releases is safe to
// release in whatever state the worker stopped.
func (w *worker) terminate(panicked any) {
	if panicked != nil {
		w.finish(Faulted, fseekerr.New(fseekerr.CodeWorkerPanic, fmt.Sprint(panicked),
			fseekerr.WithDetails(fseekerr.Details{"state": w.outcome.State.String()})))
	} else if !w.outcome.State.Terminal() {
		// unwound by runtime.Goexit outside a checkpoint
		w.finish(Cancelled, w.cancelErr())
	}

	w.lease.Release()
	w.lease = nil

	if w.buf != nil {
		w.alloc.Release(w.buf)
		w.buf = nil
	}

	w.cancel(nil)
	w.arrive()

	entry := w.log.WithFields(logrus.Fields{
		"state":   w.outcome.State.String(),
		"records": w.outcome.Records,
		"chunks":  len(w.outcome.Chunks),
	})

	switch w.outcome.State {
	case ReadFault, ResourceFault, Faulted:
		entry.WithError(w.outcome.Err).Warn("Worker failed")
	default:
		entry.Debug("Worker terminated")
	}

	_ = w.bus.Send(w.runID, events.WorkerTerminated{
		Worker:  w.index,
		State:   w.outcome.State.String(),
		Records: w.outcome.Records,
		Err:     w.outcome.Err,
	})

	w.coord.MarkTerminated(w.index)
}

// arrive tells the coordinator this worker is parked at the release gate, or
// will never get there.
func (w *worker) arrive() {
	if !w.arrived {
		w.arrived = true
		w.ready.Done()
	}
}

func (w *worker) transition(s State) {
	w.outcome.State = s
	w.log.WithField("state", s.String()).Debug("Worker state changed")
}

func (w *worker) finish(s State, err error) {
	w.outcome.State = s
	w.outcome.Err = err
}

func (w *worker) cancelErr() error {
	cause := context.Cause(w.ctx)
	if fseekerr.Is(cause, fseekerr.ErrCanceled) {
		return cause
	}

	return fseekerr.New(fseekerr.CodeCanceled, "run cancelled", fseekerr.WithError(cause))
}
