package search

import (
	"fmt"
	"sync/atomic"

	"github.com/flrossetto/fseek/internal/fseekerr"
	"golang.org/x/sync/semaphore"
)

// Allocator hands out worker scan buffers. Every buffer returned by Alloc is
// passed to Release exactly once.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Release(buf []byte)
}

// HeapAllocator allocates from the Go heap, optionally capping the bytes
// outstanding across all workers.
type HeapAllocator struct {
	limit int64
	// sem holds the byte budget; nil when unlimited.
	sem *semaphore.Weighted

	inUse atomic.Int64
}

// NewHeapAllocator returns an allocator capped at limit bytes (0 = unlimited).
func NewHeapAllocator(limit int64) *HeapAllocator {
	a := &HeapAllocator{limit: limit}
	if limit > 0 {
		a.sem = semaphore.NewWeighted(limit)
	}

	return a
}

// Alloc returns a zeroed buffer, or a RESOURCE_ERROR when the cap would be
// exceeded or the runtime refuses the size.
func (a *HeapAllocator) Alloc(size int) (buf []byte, err error) {
	if size <= 0 {
		return nil, fseekerr.New(fseekerr.CodeResourceError, "invalid scan buffer size",
			fseekerr.WithDetails(fseekerr.Details{"size": size}))
	}

	if a.sem != nil && !a.sem.TryAcquire(int64(size)) {
		return nil, fseekerr.New(fseekerr.CodeResourceError, "scan buffer exceeds the memory limit",
			fseekerr.WithDetails(fseekerr.Details{"size": size, "inUse": a.inUse.Load(), "limit": a.limit}))
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if a.sem != nil {
			a.sem.Release(int64(size))
		}

		buf, err = nil, fseekerr.New(fseekerr.CodeResourceError, "failed to allocate scan buffer",
			fseekerr.WithDetails(fseekerr.Details{"size": size, "cause": fmt.Sprint(r)}))
	}()

	buf = make([]byte, size)
	a.inUse.Add(int64(size))

	return buf, nil
}

// Release returns buf's bytes to the limit.
func (a *HeapAllocator) Release(buf []byte) {
	if len(buf) == 0 {
		return
	}

	a.inUse.Add(-int64(len(buf)))

	if a.sem != nil {
		a.sem.Release(int64(len(buf)))
	}
}

// InUse returns the bytes currently allocated.
func (a *HeapAllocator) InUse() int64 {
	return a.inUse.Load()
}
