// Package events routes run lifecycle events between fseek components.
//
// Handlers are plain functions of the form
//
//	func(runID string, ev SomeEvent) error
//
// and are selected by the Go type of the event. Delivery is synchronous on
// the sender's goroutine; handlers must not block on search state.
package events

import (
	"reflect"
	"sync"

	"github.com/flrossetto/fseek/internal/fseekerr"
)

//nolint:gochecknoglobals
var (
	stringType = reflect.TypeOf("")
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

// handlerEntry is one registration. wg counts calls in flight; it is only
// incremented under the bus read lock while the entry is still registered.
type handlerEntry struct {
	fn      reflect.Value
	argType reflect.Type
	wg      sync.WaitGroup
}

// Bus delivers events to the handlers registered for their type.
type Bus interface {
	// Send delivers an event synchronously, returning the first handler error.
	Send(runID string, event any) error

	// AsyncSend delivers an event on a new goroutine.
	AsyncSend(runID string, event any) <-chan error

	// RegisterHandler registers fn and returns a function that unregisters it.
	RegisterHandler(fn any) (func(), error)

	// RegisterUniqueHandler is RegisterHandler, failing if the event type
	// already has a handler.
	RegisterUniqueHandler(fn any) (func(), error)
}

// DefaultBus is the in-process Bus.
type DefaultBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[reflect.Type]map[uint64]*handlerEntry
}

// New creates an empty bus, safe for concurrent use.
func New() *DefaultBus {
	return &DefaultBus{
		handlers: make(map[reflect.Type]map[uint64]*handlerEntry),
	}
}

// RegisterUniqueHandler registers fn unless its event type is already taken.
func (b *DefaultBus) RegisterUniqueHandler(fn any) (func(), error) {
	return b.register(fn, true)
}

// RegisterHandler validates fn's signature and registers it.
func (b *DefaultBus) RegisterHandler(fn any) (func(), error) {
	return b.register(fn, false)
}

func (b *DefaultBus) register(fn any, unique bool) (func(), error) {
	argType, err := handlerArg(fn)
	if err != nil {
		return nil, err
	}

	entry := &handlerEntry{
		fn:      reflect.ValueOf(fn),
		argType: argType,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if unique && len(b.handlers[argType]) > 0 {
		return nil, fseekerr.New(fseekerr.CodeInternalError,
			"handler already registered for this event type",
			fseekerr.WithDetails(fseekerr.Details{"event": argType.String()}),
		)
	}

	b.nextID++
	id := b.nextID

	if b.handlers[argType] == nil {
		b.handlers[argType] = make(map[uint64]*handlerEntry)
	}

	b.handlers[argType][id] = entry

	return func() { b.unregister(argType, id, entry) }, nil
}

// AsyncSend executes Send in a separate goroutine
func (b *DefaultBus) AsyncSend(runID string, event any) <-chan error {
	errCh := make(chan error, 1)

	go (func() {
		defer close(errCh)
		errCh <- b.Send(runID, event)
	})()

	return errCh
}

// Send snapshots the handlers for the event's type under the read lock and
// calls them outside it. A handler whose unregister function has returned is
// never called.
func (b *DefaultBus) Send(runID string, event any) error {
	if event == nil {
		return fseekerr.New(fseekerr.CodeInternalError, "nil event")
	}

	ev := reflect.ValueOf(event)

	b.mu.RLock()

	group := b.handlers[ev.Type()]
	snap := make([]*handlerEntry, 0, len(group))

	for _, e := range group {
		e.wg.Add(1)
		snap = append(snap, e)
	}

	b.mu.RUnlock()

	rid := reflect.ValueOf(runID)

	for i, e := range snap {
		if err := e.call(rid, ev); err != nil {
			for _, rest := range snap[i+1:] {
				rest.wg.Done()
			}

			return err
		}
	}

	return nil
}

func (e *handlerEntry) call(rid, ev reflect.Value) error {
	defer e.wg.Done()

	out := e.fn.Call([]reflect.Value{rid, ev})
	if len(out) == 1 && !out[0].IsNil() {
		if err, ok := out[0].Interface().(error); ok {
			return err
		}
	}

	return nil
}

func (b *DefaultBus) unregister(argType reflect.Type, id uint64, entry *handlerEntry) {
	b.mu.Lock()

	if g, ok := b.handlers[argType]; ok {
		if _, exists := g[id]; exists {
			delete(g, id)

			if len(g) == 0 {
				delete(b.handlers, argType)
			}
		}
	}

	b.mu.Unlock()
	entry.wg.Wait()
}

// handlerArg checks fn is func(string, T) [error] and returns T.
func handlerArg(fn any) (reflect.Type, error) {
	if fn == nil {
		return nil, fseekerr.New(fseekerr.CodeInternalError, "nil handler")
	}

	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		return nil, fseekerr.New(fseekerr.CodeInternalError, "handler must be a function")
	}

	if t.NumIn() != 2 || t.In(0) != stringType {
		return nil, fseekerr.New(fseekerr.CodeInternalError, "invalid handler signature")
	}

	if t.NumOut() > 1 || (t.NumOut() == 1 && !t.Out(0).AssignableTo(errorType)) {
		return nil, fseekerr.New(fseekerr.CodeInternalError, "handler must return error or nothing")
	}

	return t.In(1), nil
}
