package events

// MatchReported is sent once per run, by the worker that won the match claim.
type MatchReported struct {
	Worker   int
	WorkerID string
	RecordID int
	Offset   int64
}

// MatchDiscarded is sent by a worker that matched after the claim was taken.
type MatchDiscarded struct {
	Worker   int
	RecordID int
}

// WorkerTerminated is sent from a worker's cleanup, after its buffer is
// released and before the coordinator is signalled.
type WorkerTerminated struct {
	Worker  int
	State   string
	Records int
	Err     error
}

// Interrupted describes an interruption that reached the process (Worker is
// -1) or a single worker.
type Interrupted struct {
	Worker  int
	Signal  string
	PID     int
	Handled bool
}
