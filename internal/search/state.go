package search

// State is a worker's position in its lifecycle.
type State int

const (
	// Starting: the worker is allocating its scan buffer
	Starting State = iota
	// WaitingToRun: parked at the release gate
	WaitingToRun
	// Active: reading and scanning chunks
	Active

	// Terminal states, ordered after Active.

	// Matched: found the query (the report may still have been discarded)
	Matched
	// ExhaustedSource: reached the end of the source without a match
	ExhaustedSource
	// Cancelled: stopped on a cancellation request or interruption
	Cancelled
	// ReadFault: a read failed or returned a partial record
	ReadFault
	// ResourceFault: the scan buffer could not be allocated
	ResourceFault
	// Faulted: stopped by a panic inside the worker
	Faulted
)

var stateNames = [...]string{ //nolint:gochecknoglobals
	Starting:        "starting",
	WaitingToRun:    "waiting",
	Active:          "active",
	Matched:         "matched",
	ExhaustedSource: "exhausted",
	Cancelled:       "cancelled",
	ReadFault:       "read-fault",
	ResourceFault:   "resource-fault",
	Faulted:         "faulted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Terminal reports whether s ends a worker.
func (s State) Terminal() bool {
	return s >= Matched
}
