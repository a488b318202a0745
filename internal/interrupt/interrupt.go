// Package interrupt injects interruptions into a search run.
//
// It reproduces the experiments the search must survive: a signal sent to the
// whole process (with the default action, blocked, or with a handler) and an
// interruption aimed at one worker (default action, handler, or a fault
// inside the worker). Process signals are consumed on a channel by Listen;
// nothing runs in signal-handler context and nothing here touches the
// coordinator's state other than through its public operations.
package interrupt

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/flrossetto/fseek/config"
	"github.com/flrossetto/fseek/internal/events"
	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/search"
	"github.com/sirupsen/logrus"
)

// Mode selects where an interruption goes and how it is handled.
type Mode string

const (
	None           Mode = "none"
	Process        Mode = "process"
	ProcessBlocked Mode = "process-blocked"
	ProcessHandler Mode = "process-handler"
	Worker         Mode = "worker"
	WorkerHandler  Mode = "worker-handler"
	WorkerFault    Mode = "worker-fault"
)

// ParseMode maps a configured mode name to a Mode.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(name)); m {
	case "":
		return None, nil
	case None, Process, ProcessBlocked, ProcessHandler, Worker, WorkerHandler, WorkerFault:
		return m, nil
	default:
		return "", fseekerr.New(fseekerr.CodeConfigError, "incorrect interrupt mode: "+name)
	}
}

// TargetsProcess reports whether the interruption is sent to the whole process.
func (m Mode) TargetsProcess() bool {
	return m == Process || m == ProcessBlocked || m == ProcessHandler
}

// Injector delivers one configured interruption.
type Injector struct {
	logger *logrus.Logger
	bus    events.Bus
	stop   context.CancelCauseFunc

	mode   Mode
	name   string
	sig    os.Signal
	target int

	ch chan os.Signal
}

// NewInjector validates cfg and arms the process-level disposition right
// away, so a signal raised later never meets the runtime's default action.
// stop cancels the run when a process signal keeps its default action.
func NewInjector(logger *logrus.Logger, cfg config.InterruptConfig, bus events.Bus, stop context.CancelCauseFunc) (*Injector, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	i := &Injector{
		logger: logger,
		bus:    bus,
		stop:   stop,
		mode:   mode,
		target: cfg.Target,
	}

	switch mode {
	case None:
		return i, nil
	case WorkerFault:
		i.name = "fault"

		return i, nil
	}

	i.name, i.sig, err = ParseSignal(cfg.Signal)
	if err != nil {
		return nil, err
	}

	if mode.TargetsProcess() && uncatchable(i.sig) {
		return nil, fseekerr.New(fseekerr.CodeSignalError,
			"refusing to send an uncatchable signal to this process",
			fseekerr.WithDetails(fseekerr.Details{"signal": i.name, "mode": string(mode)}))
	}

	switch mode {
	case Process, ProcessHandler:
		i.ch = make(chan os.Signal, 1)
		signal.Notify(i.ch, i.sig)
	case ProcessBlocked:
		signal.Ignore(i.sig)
	}

	return i, nil
}

// Mode returns the configured mode.
func (i *Injector) Mode() Mode {
	return i.mode
}

// Signal returns the signal the injector raises, nil when it raises none.
func (i *Injector) Signal() os.Signal {
	return i.sig
}

// Listen consumes process signals until ctx ends. It returns at once for
// modes that do not listen.
func (i *Injector) Listen(ctx context.Context) error {
	if i.ch == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-i.ch:
			i.received()
		}
	}
}

func (i *Injector) received() {
	pid := os.Getpid()
	handled := i.mode == ProcessHandler

	i.logger.WithFields(logrus.Fields{
		"signal":  i.name,
		"pid":     pid,
		"handled": handled,
	}).Info("Process received interruption")

	_ = i.bus.Send("", events.Interrupted{Worker: -1, Signal: i.name, PID: pid, Handled: handled})

	if !handled && i.stop != nil {
		i.stop(fseekerr.New(fseekerr.CodeCanceled, "process interrupted by "+i.name))
	}
}

// Inject delivers the interruption. It matches search.ReleaseHook so it runs
// once every worker exists and before any starts scanning.
func (i *Injector) Inject(_ context.Context, coord *search.Coordinator) error {
	log := i.logger.WithFields(logrus.Fields{
		"mode":   string(i.mode),
		"signal": i.name,
	})

	switch i.mode {
	case None:
		return nil
	case Process, ProcessBlocked, ProcessHandler:
		log.Info("Sending interruption to the process")

		return raise(i.sig)
	}

	in := search.Interruption{Signal: i.name, Disposition: search.Terminate}

	switch i.mode {
	case WorkerHandler:
		// no handler can be installed for an uncatchable signal
		if !uncatchable(i.sig) {
			in.Disposition = search.Handle
		}
	case WorkerFault:
		in.Disposition = search.Fault
	}

	log.WithField("target", i.target).Info("Sending interruption to a worker")

	return coord.Interrupt(i.target, in)
}

// Close restores the process-level disposition.
func (i *Injector) Close() {
	switch i.mode {
	case Process, ProcessHandler:
		signal.Stop(i.ch)
	case ProcessBlocked:
		signal.Reset(i.sig)
	}
}
