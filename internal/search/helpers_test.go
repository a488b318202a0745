package search_test

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/record"
	"github.com/sirupsen/logrus"
)

const testRecordSize = 64

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

// source builds count records, planting text at the given ids.
func source(t *testing.T, count int, plant map[int]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	if _, err := record.Generate(&buf, record.GenerateOptions{
		Count: count,
		Size:  testRecordSize,
		Seed:  42,
		Plant: plant,
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	return buf.Bytes()
}

// countingAllocator checks every buffer is released exactly once.
type countingAllocator struct {
	mu       sync.Mutex
	allocs   int
	releases int
	failFrom int // allocations with index >= failFrom fail; 0 disables
	live     map[*byte]bool
	bad      []string
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{live: make(map[*byte]bool)}
}

func (a *countingAllocator) Alloc(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failFrom > 0 && a.allocs >= a.failFrom {
		return nil, fseekerr.New(fseekerr.CodeResourceError, "out of buffers")
	}

	buf := make([]byte, size)
	a.allocs++
	a.live[&buf[0]] = true

	return buf, nil
}

func (a *countingAllocator) Release(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.releases++

	if len(buf) == 0 || !a.live[&buf[0]] {
		a.bad = append(a.bad, "release of a buffer that is not live")

		return
	}

	delete(a.live, &buf[0])
}

func (a *countingAllocator) check(t *testing.T) {
	t.Helper()

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.bad) > 0 {
		t.Fatalf("allocator misuse: %v", a.bad)
	}

	if a.allocs != a.releases || len(a.live) != 0 {
		t.Fatalf("allocs=%d releases=%d live=%d", a.allocs, a.releases, len(a.live))
	}
}

// gatedSource blocks the first Read until proceed is closed.
type gatedSource struct {
	r       io.Reader
	once    sync.Once
	entered chan struct{}
	proceed chan struct{}
}

func newGatedSource(data []byte) *gatedSource {
	return &gatedSource{
		r:       bytes.NewReader(data),
		entered: make(chan struct{}),
		proceed: make(chan struct{}),
	}
}

func (g *gatedSource) Read(p []byte) (int, error) {
	first := false
	g.once.Do(func() { first = true })

	if first {
		close(g.entered)
		<-g.proceed
	}

	return g.r.Read(p)
}
