// Package reader implements the shared record reader.
//
// A single Reader wraps one byte source. Workers take turns on it: the lock
// is held only for the duration of one underlying read, so the chunks handed
// out across all workers form a strict, gap-free partition of the source in
// the order they were read.
package reader

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/flrossetto/fseek/internal/fseekerr"
	"golang.org/x/sync/semaphore"
)

// ErrEndOfSource is returned once the source is exhausted.
var ErrEndOfSource = io.EOF //nolint:gochecknoglobals

// Chunk describes one contiguous read.
type Chunk struct {
	// Offset is the cursor position the chunk starts at.
	Offset int64
	// Bytes is the number of bytes placed in the caller's buffer.
	Bytes int
	// Records is Bytes divided by the record size.
	Records int
}

// Reader serializes sequential reads of a shared source.
type Reader struct {
	src        io.Reader
	recordSize int

	// sem is a weighted semaphore of size one used as the read mutex;
	// unlike sync.Mutex, acquiring it can be abandoned when ctx ends.
	sem *semaphore.Weighted

	// offset is only touched while sem is held.
	offset int64

	reads atomic.Int64
}

// New returns a Reader over src for records of recordSize bytes.
func New(src io.Reader, recordSize int) *Reader {
	return &Reader{
		src:        src,
		recordSize: recordSize,
		sem:        semaphore.NewWeighted(1),
	}
}

// RecordSize returns the configured block width.
func (r *Reader) RecordSize() int {
	return r.recordSize
}

// Reads returns how many chunk reads have been attempted. Each may issue
// several Read calls on the source.
func (r *Reader) Reads() int64 {
	return r.reads.Load()
}

// Acquire takes the read lock. It returns a CANCELED error, without holding
// the lock, if ctx ends first.
func (r *Reader) Acquire(ctx context.Context) (*Lease, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fseekerr.New(fseekerr.CodeCanceled, "gave up waiting for the reader", fseekerr.WithError(err))
	}

	l := &Lease{r: r}
	l.held.Store(true)

	return l, nil
}

// ReadChunk acquires the lock, reads the next chunk into buf and releases the
// lock before returning.
func (r *Reader) ReadChunk(ctx context.Context, buf []byte) (Chunk, error) {
	lease, err := r.Acquire(ctx)
	if err != nil {
		return Chunk{}, err
	}
	defer lease.Release()

	return lease.Read(buf)
}

// Lease is the right to read from the source. It is owned by one worker.
type Lease struct {
	r    *Reader
	held atomic.Bool
}

// Held reports whether the lease still owns the read lock.
func (l *Lease) Held() bool {
	return l != nil && l.held.Load()
}

// Release gives the read lock back. Releasing a nil or already released lease
// is a no-op, so cleanup paths may call it unconditionally.
func (l *Lease) Release() {
	if l == nil || !l.held.CompareAndSwap(true, false) {
		return
	}

	l.r.sem.Release(1)
}

// Read consumes up to len(buf) bytes from the shared cursor. The read is
// attempted exactly once.
//
// Outcomes:
//   - a chunk whose size is a whole number of records (the final chunk may be
//     shorter than buf)
//   - ErrEndOfSource when nothing is left
//   - READ_FAULT when the byte count is not a multiple of the record size
//   - READ_ERROR when the source itself fails
func (l *Lease) Read(buf []byte) (Chunk, error) {
	if !l.Held() {
		return Chunk{}, fseekerr.New(fseekerr.CodeInternalError, "read without holding the reader lock")
	}

	r := l.r
	r.reads.Add(1)

	n, err := io.ReadFull(r.src, buf)
	chunk := Chunk{Offset: r.offset, Bytes: n}
	r.offset += int64(n)

	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
	case errors.Is(err, io.EOF):
		return chunk, ErrEndOfSource
	default:
		return chunk, fseekerr.New(fseekerr.CodeReadError, "source read failed",
			fseekerr.WithError(err),
			fseekerr.WithDetails(fseekerr.Details{"offset": chunk.Offset, "bytes": n}))
	}

	if n%r.recordSize != 0 {
		return chunk, fseekerr.New(fseekerr.CodeReadFault, "chunk is not a whole number of records",
			fseekerr.WithDetails(fseekerr.Details{"offset": chunk.Offset, "bytes": n, "recordSize": r.recordSize}))
	}

	chunk.Records = n / r.recordSize

	return chunk, nil
}
