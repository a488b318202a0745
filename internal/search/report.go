package search

import (
	"fmt"
	"io"
	"sync"

	"github.com/flrossetto/fseek/internal/events"
	"github.com/sirupsen/logrus"
)

// Reporter prints the authoritative match and interruption notices. Its
// handlers only touch the reporter's own writer.
type Reporter struct {
	logger *logrus.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewReporter creates a reporter writing to out.
func NewReporter(logger *logrus.Logger, out io.Writer) *Reporter {
	return &Reporter{logger: logger, out: out}
}

// Attach subscribes the reporter to bus. Only one reporter may own the match
// report on a bus. The returned function unsubscribes it.
func (r *Reporter) Attach(bus events.Bus) (func(), error) {
	unMatch, err := bus.RegisterUniqueHandler(r.onMatch)
	if err != nil {
		return nil, err
	}

	unDiscard, err := bus.RegisterHandler(r.onDiscard)
	if err != nil {
		unMatch()

		return nil, err
	}

	unInterrupt, err := bus.RegisterHandler(r.onInterrupt)
	if err != nil {
		unMatch()
		unDiscard()

		return nil, err
	}

	return func() {
		unInterrupt()
		unDiscard()
		unMatch()
	}, nil
}

func (r *Reporter) onMatch(runID string, ev events.MatchReported) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := fmt.Fprintf(r.out, "Worker %d (%s): found in row id %d\n", ev.Worker, ev.WorkerID, ev.RecordID)

	return err
}

func (r *Reporter) onDiscard(runID string, ev events.MatchDiscarded) {
	r.logger.WithFields(logrus.Fields{
		"runID":    runID,
		"worker":   ev.Worker,
		"recordID": ev.RecordID,
	}).Debug("Late match discarded")
}

func (r *Reporter) onInterrupt(_ string, ev events.Interrupted) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if ev.Worker < 0 {
		_, err = fmt.Fprintf(r.out, "%s signal received. PID: %d\n", ev.Signal, ev.PID)
	} else {
		_, err = fmt.Fprintf(r.out, "%s signal received. PID: %d, worker: %d\n", ev.Signal, ev.PID, ev.Worker)
	}

	return err
}
