package config

const (
	// DefaultRecordSize is the record width of generated and scanned sources
	DefaultRecordSize = 1024

	// MinRecordSize is the smallest usable record: id, separator, terminator
	MinRecordSize = 3

	// DefaultMaxBufferBytes caps scan buffers across all workers (1GiB)
	DefaultMaxBufferBytes = 1 << 30

	// MaxConfigSize Define constant for max config file size (1MB)
	MaxConfigSize = 1 << 20 // 1MB

	// ConfigFileName is looked up in the working directory, then the home directory
	ConfigFileName = ".fseek.yaml"

	// CancelDeferred observes cancellation at checkpoints only
	CancelDeferred = "deferred"

	// CancelImmediate also abandons waiting for the reader and unwinds the worker at once
	CancelImmediate = "immediate"

	// LifetimeJoined reclaims every worker individually
	LifetimeJoined = "joined"

	// LifetimeDetached only waits for the whole pool to finish
	LifetimeDetached = "detached"

	// InterruptNone disables the interruption harness
	InterruptNone = "none"

	// InterruptWorkerFault makes the target worker panic; it takes no signal
	InterruptWorkerFault = "worker-fault"
)
