package search

import (
	"math"

	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/record"
)

// CancelMode selects where a worker observes cancellation.
type CancelMode string

const (
	// CancelDeferred checks for cancellation before every chunk read and after
	// every record. A worker waiting for the reader lock keeps waiting.
	CancelDeferred CancelMode = "deferred"

	// CancelImmediate additionally abandons waiting for the reader lock and
	// checks right after the underlying read, while the lock is still held.
	// An observed cancellation unwinds the worker with runtime.Goexit, so
	// only deferred cleanup runs. Go cannot stop a goroutine between
	// arbitrary instructions; this is the closest safe equivalent.
	CancelImmediate CancelMode = "immediate"
)

// Lifetime selects how the coordinator waits for workers.
type Lifetime string

const (
	// Joined reclaims each worker individually as it terminates.
	Joined Lifetime = "joined"

	// Detached waits only for the group-wide "all finished" signal.
	Detached Lifetime = "detached"
)

// Options configures one search run.
type Options struct {
	Workers         int
	RecordsPerChunk int
	RecordSize      int
	Query           string
	CancelMode      CancelMode
	Lifetime        Lifetime
}

// ChunkSize is the size in bytes of each worker's scan buffer.
func (o Options) ChunkSize() int {
	return o.RecordsPerChunk * o.RecordSize
}

func (o Options) withDefaults() Options {
	if o.RecordSize == 0 {
		o.RecordSize = DefaultRecordSize
	}

	if o.CancelMode == "" {
		o.CancelMode = CancelDeferred
	}

	if o.Lifetime == "" {
		o.Lifetime = Joined
	}

	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()

	switch {
	case o.Workers <= 0:
		return fseekerr.New(fseekerr.CodeInvalidInput, "worker count must be > 0")
	case o.RecordsPerChunk <= 0:
		return fseekerr.New(fseekerr.CodeInvalidInput, "records per chunk must be > 0")
	case o.RecordSize < record.MinSize:
		return fseekerr.New(fseekerr.CodeInvalidInput, "record size too small",
			fseekerr.WithDetails(fseekerr.Details{"recordSize": o.RecordSize, "min": record.MinSize}))
	case o.RecordsPerChunk > math.MaxInt/o.RecordSize:
		return fseekerr.New(fseekerr.CodeInvalidInput, "chunk size overflows",
			fseekerr.WithDetails(fseekerr.Details{"recordsPerChunk": o.RecordsPerChunk, "recordSize": o.RecordSize}))
	}

	switch o.CancelMode {
	case CancelDeferred, CancelImmediate:
	default:
		return fseekerr.New(fseekerr.CodeInvalidInput, "unknown cancel mode: "+string(o.CancelMode))
	}

	switch o.Lifetime {
	case Joined, Detached:
	default:
		return fseekerr.New(fseekerr.CodeInvalidInput, "unknown lifetime: "+string(o.Lifetime))
	}

	return nil
}

// DefaultRecordSize is the block width used when none is configured.
const DefaultRecordSize = 1024
