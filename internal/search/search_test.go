package search_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flrossetto/fseek/internal/events"
	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/search"
)

var modes = []struct { //nolint:gochecknoglobals
	cancel   search.CancelMode
	lifetime search.Lifetime
}{
	{search.CancelDeferred, search.Joined},
	{search.CancelImmediate, search.Joined},
	{search.CancelDeferred, search.Detached},
	{search.CancelImmediate, search.Detached},
}

func modeName(c search.CancelMode, l search.Lifetime) string {
	return fmt.Sprintf("%s/%s", c, l)
}

func run(t *testing.T, data []byte, opts search.Options, options ...search.Option) (*search.Result, error) {
	t.Helper()

	return runSource(t, bytes.NewReader(data), opts, options...)
}

func runSource(t *testing.T, src io.Reader, opts search.Options, options ...search.Option) (*search.Result, error) {
	t.Helper()

	if opts.RecordSize == 0 {
		opts.RecordSize = testRecordSize
	}

	s, err := search.New(quietLogger(), src, opts, options...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})

	var (
		res    *search.Result
		runErr error
	)

	go func() {
		defer close(done)
		res, runErr = s.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("search did not terminate")
	}

	return res, runErr
}

func assertAllTerminated(t *testing.T, res *search.Result, lifetime search.Lifetime) {
	t.Helper()

	for i, st := range res.States {
		if !st.Terminated {
			t.Fatalf("worker %d not terminated", i)
		}

		if lifetime == search.Joined && !st.Reclaimed {
			t.Fatalf("worker %d not reclaimed", i)
		}
	}

	for _, o := range res.Workers {
		if !o.State.Terminal() {
			t.Fatalf("worker %d ended in %s", o.Worker, o.State)
		}
	}
}

// assertDisjoint checks no chunk was handed to two workers.
func assertDisjoint(t *testing.T, res *search.Result) {
	t.Helper()

	seen := make(map[int64]int)

	for _, o := range res.Workers {
		for _, c := range o.Chunks {
			if prev, ok := seen[c.Offset]; ok {
				t.Fatalf("chunk at %d read by workers %d and %d", c.Offset, prev, o.Worker)
			}

			seen[c.Offset] = o.Worker
		}
	}
}

func TestFindsNeedleInRecordSeven(t *testing.T) {
	data := source(t, 10, map[int]string{7: "needle"})

	for _, m := range modes {
		t.Run(modeName(m.cancel, m.lifetime), func(t *testing.T) {
			alloc := newCountingAllocator()
			bus := events.New()

			var out bytes.Buffer
			if _, err := search.NewReporter(quietLogger(), &out).Attach(bus); err != nil {
				t.Fatal(err)
			}

			res, err := run(t, data, search.Options{
				Workers:         4,
				RecordsPerChunk: 2,
				Query:           "needle",
				CancelMode:      m.cancel,
				Lifetime:        m.lifetime,
			}, search.WithAllocator(alloc), search.WithBus(bus))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			if !res.Found || res.Match.RecordID != 7 {
				t.Fatalf("match = %+v found=%v", res.Match, res.Found)
			}

			if res.Match.Offset != 7*testRecordSize {
				t.Fatalf("offset = %d", res.Match.Offset)
			}

			if res.Records() > 10 {
				t.Fatalf("observed %d records from a 10 record source", res.Records())
			}

			assertAllTerminated(t, res, m.lifetime)
			assertDisjoint(t, res)
			alloc.check(t)

			want := fmt.Sprintf("Worker %d (%s): found in row id 7\n", res.Match.Worker, res.Match.WorkerID)
			if out.String() != want {
				t.Fatalf("report = %q, want %q", out.String(), want)
			}
		})
	}
}

func TestNoMatchScansEveryRecordOnce(t *testing.T) {
	const records = 101

	data := source(t, records, nil)

	for _, m := range modes {
		t.Run(modeName(m.cancel, m.lifetime), func(t *testing.T) {
			res, err := run(t, data, search.Options{
				Workers:         5,
				RecordsPerChunk: 3,
				Query:           "needle",
				CancelMode:      m.cancel,
				Lifetime:        m.lifetime,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			if res.Found {
				t.Fatalf("unexpected match %+v", res.Match)
			}

			assertAllTerminated(t, res, m.lifetime)
			assertDisjoint(t, res)

			covered := make([]bool, records)

			for _, o := range res.Workers {
				if o.State != search.ExhaustedSource {
					t.Fatalf("worker %d ended in %s", o.Worker, o.State)
				}

				for _, c := range o.Chunks {
					first := int(c.Offset / testRecordSize)
					for id := first; id < first+c.Records; id++ {
						covered[id] = true
					}
				}
			}

			for id, ok := range covered {
				if !ok {
					t.Fatalf("record %d never scanned", id)
				}
			}

			if res.Records() != records {
				t.Fatalf("scanned %d records, want %d", res.Records(), records)
			}
		})
	}
}

func TestMatchInFirstRecord(t *testing.T) {
	data := source(t, 50, map[int]string{0: "needle"})

	res, err := run(t, data, search.Options{Workers: 6, RecordsPerChunk: 4, Query: "needle"})
	if err != nil {
		t.Fatal(err)
	}

	if !res.Found || res.Match.RecordID != 0 {
		t.Fatalf("match = %+v", res.Match)
	}

	assertAllTerminated(t, res, search.Joined)
}

func TestRacingMatchesReportOnce(t *testing.T) {
	plant := make(map[int]string)
	for id := range 200 {
		plant[id] = "needle"
	}

	data := source(t, 200, plant)

	for _, m := range modes {
		t.Run(modeName(m.cancel, m.lifetime), func(t *testing.T) {
			for range 20 {
				bus := events.New()
				alloc := newCountingAllocator()

				var reported, discarded atomic.Int32

				_, _ = bus.RegisterHandler(func(string, events.MatchReported) { reported.Add(1) })
				_, _ = bus.RegisterHandler(func(string, events.MatchDiscarded) { discarded.Add(1) })

				res, err := run(t, data, search.Options{
					Workers:         8,
					RecordsPerChunk: 1,
					Query:           "needle",
					CancelMode:      m.cancel,
					Lifetime:        m.lifetime,
				}, search.WithBus(bus), search.WithAllocator(alloc))
				if err != nil {
					t.Fatal(err)
				}

				if reported.Load() != 1 {
					t.Fatalf("%d authoritative reports", reported.Load())
				}

				won, matched := 0, 0

				for _, o := range res.Workers {
					if o.Won {
						won++
					}

					if o.State == search.Matched {
						matched++
					}
				}

				if won != 1 || int(discarded.Load()) != matched-1 {
					t.Fatalf("won=%d matched=%d discarded=%d", won, matched, discarded.Load())
				}

				if res.Workers[res.Match.Worker].RecordID != res.Match.RecordID {
					t.Fatal("result does not come from the winner")
				}

				assertAllTerminated(t, res, m.lifetime)
				alloc.check(t)
			}
		})
	}
}

func TestSingleWorker(t *testing.T) {
	data := source(t, 30, map[int]string{29: "needle"})

	res, err := run(t, data, search.Options{Workers: 1, RecordsPerChunk: 7, Query: "needle"})
	if err != nil {
		t.Fatal(err)
	}

	if !res.Found || res.Match.RecordID != 29 || res.Match.Worker != 0 {
		t.Fatalf("match = %+v", res.Match)
	}

	if res.Records() != 30 {
		t.Fatalf("scanned %d records", res.Records())
	}
}

func TestResultIsStableAcrossRuns(t *testing.T) {
	data := source(t, 64, map[int]string{41: "needle"})

	for i := range 10 {
		res, err := run(t, data, search.Options{Workers: 4, RecordsPerChunk: 3, Query: "needle"})
		if err != nil {
			t.Fatal(err)
		}

		if res.Match.RecordID != 41 {
			t.Fatalf("run %d found record %d", i, res.Match.RecordID)
		}
	}
}

func TestReadFaultStaysLocal(t *testing.T) {
	data := append(source(t, 5, nil), "123"...)
	alloc := newCountingAllocator()

	res, err := run(t, data, search.Options{Workers: 3, RecordsPerChunk: 1, Query: "needle"}, search.WithAllocator(alloc))
	if err != nil {
		t.Fatal(err)
	}

	faults, exhausted := 0, 0

	for _, o := range res.Workers {
		switch o.State {
		case search.ReadFault:
			faults++

			if !errors.Is(o.Err, fseekerr.ErrReadFault) {
				t.Fatalf("fault error = %v", o.Err)
			}
		case search.ExhaustedSource:
			exhausted++
		default:
			t.Fatalf("worker %d ended in %s", o.Worker, o.State)
		}
	}

	if faults != 1 || exhausted != 2 {
		t.Fatalf("faults=%d exhausted=%d", faults, exhausted)
	}

	if res.Records() != 5 {
		t.Fatalf("scanned %d records", res.Records())
	}

	assertAllTerminated(t, res, search.Joined)
	alloc.check(t)
}

func TestMalformedRecordIsReadFault(t *testing.T) {
	data := source(t, 4, nil)
	copy(data[2*testRecordSize:], strings.Repeat("x", testRecordSize-1))

	res, err := run(t, data, search.Options{Workers: 1, RecordsPerChunk: 4, Query: "needle"})
	if err != nil {
		t.Fatal(err)
	}

	o := res.Workers[0]
	if o.State != search.ReadFault || o.Records != 2 {
		t.Fatalf("outcome = %s after %d records (%v)", o.State, o.Records, o.Err)
	}
}

func TestResourceErrorOnlyStopsThatWorker(t *testing.T) {
	data := source(t, 40, map[int]string{33: "needle"})
	alloc := newCountingAllocator()
	alloc.failFrom = 2

	res, err := run(t, data, search.Options{Workers: 4, RecordsPerChunk: 2, Query: "needle"}, search.WithAllocator(alloc))
	if err != nil {
		t.Fatal(err)
	}

	faults := 0

	for _, o := range res.Workers {
		if o.State == search.ResourceFault {
			faults++

			if !errors.Is(o.Err, fseekerr.ErrResource) || len(o.Chunks) != 0 {
				t.Fatalf("resource fault outcome = %+v", o)
			}
		}
	}

	if faults != 2 {
		t.Fatalf("%d resource faults, want 2", faults)
	}

	if !res.Found || res.Match.RecordID != 33 {
		t.Fatalf("match = %+v", res.Match)
	}

	assertAllTerminated(t, res, search.Joined)
	alloc.check(t)
}

func TestHeapAllocatorLimit(t *testing.T) {
	data := source(t, 20, nil)
	alloc := search.NewHeapAllocator(3 * 2 * testRecordSize)

	res, err := run(t, data, search.Options{Workers: 5, RecordsPerChunk: 2, Query: "needle"}, search.WithAllocator(alloc))
	if err != nil {
		t.Fatal(err)
	}

	faults := 0

	for _, o := range res.Workers {
		if o.State == search.ResourceFault {
			faults++
		}
	}

	if faults != 2 {
		t.Fatalf("%d resource faults, want 2", faults)
	}

	if alloc.InUse() != 0 {
		t.Fatalf("%d bytes still allocated", alloc.InUse())
	}
}

func TestOverflowingChunkSizeIsRejected(t *testing.T) {
	_, err := search.New(quietLogger(), bytes.NewReader(nil), search.Options{
		Workers:         2,
		RecordsPerChunk: math.MaxInt / 32,
		RecordSize:      testRecordSize,
		Query:           "needle",
	})
	if fseekerr.CodeOf(err) != fseekerr.CodeInvalidInput {
		t.Fatalf("err = %v, want INVALID_INPUT", err)
	}
}

func TestOversizedBufferIsResourceFault(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("needs a 64-bit address space")
	}

	tests := []struct {
		name    string
		records int
		limit   int64
	}{
		{"over the limit", 1 << 40, 1 << 20},
		{"refused by the runtime", math.MaxInt / (2 * testRecordSize), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := search.NewHeapAllocator(tt.limit)

			res, err := run(t, source(t, 4, nil), search.Options{
				Workers:         2,
				RecordsPerChunk: tt.records,
				Query:           "needle",
			}, search.WithAllocator(alloc))
			if err != nil {
				t.Fatal(err)
			}

			for _, o := range res.Workers {
				if o.State != search.ResourceFault || !errors.Is(o.Err, fseekerr.ErrResource) {
					t.Fatalf("worker %d ended in %s (%v)", o.Worker, o.State, o.Err)
				}
			}

			if alloc.InUse() != 0 {
				t.Fatalf("%d bytes still allocated", alloc.InUse())
			}

			assertAllTerminated(t, res, search.Joined)
		})
	}
}

var errFlaky = errors.New("device went away") //nolint:gochecknoglobals

// flakySource fails exactly one Read once the cursor reaches failAt, then
// carries on from where it stopped.
type flakySource struct {
	r      *bytes.Reader
	pos    int
	failAt int
	failed bool
}

func (f *flakySource) Read(p []byte) (int, error) {
	if !f.failed && f.pos >= f.failAt {
		f.failed = true

		return 0, errFlaky
	}

	n, err := f.r.Read(p)
	f.pos += n

	return n, err
}

func TestSourceErrorStaysLocal(t *testing.T) {
	for _, m := range modes {
		t.Run(modeName(m.cancel, m.lifetime), func(t *testing.T) {
			src := &flakySource{r: bytes.NewReader(source(t, 10, nil)), failAt: 4 * testRecordSize}
			alloc := newCountingAllocator()

			res, err := runSource(t, src, search.Options{
				Workers:         3,
				RecordsPerChunk: 2,
				Query:           "needle",
				CancelMode:      m.cancel,
				Lifetime:        m.lifetime,
			}, search.WithAllocator(alloc))
			if err != nil {
				t.Fatal(err)
			}

			faults, exhausted := 0, 0

			for _, o := range res.Workers {
				switch o.State {
				case search.ReadFault:
					faults++

					if !errors.Is(o.Err, fseekerr.ErrReadError) || !errors.Is(o.Err, errFlaky) {
						t.Fatalf("read error = %v", o.Err)
					}
				case search.ExhaustedSource:
					exhausted++
				default:
					t.Fatalf("worker %d ended in %s", o.Worker, o.State)
				}
			}

			if faults != 1 || exhausted != 2 {
				t.Fatalf("faults=%d exhausted=%d", faults, exhausted)
			}

			if res.Records() != 10 {
				t.Fatalf("scanned %d records", res.Records())
			}

			assertAllTerminated(t, res, m.lifetime)
			alloc.check(t)
		})
	}
}

func TestCancelledContextStopsEveryWorker(t *testing.T) {
	data := source(t, 20, map[int]string{10: "needle"})

	for _, m := range modes {
		t.Run(modeName(m.cancel, m.lifetime), func(t *testing.T) {
			alloc := newCountingAllocator()

			s, err := search.New(quietLogger(), bytes.NewReader(data), search.Options{
				Workers:         3,
				RecordsPerChunk: 2,
				RecordSize:      testRecordSize,
				Query:           "needle",
				CancelMode:      m.cancel,
				Lifetime:        m.lifetime,
			}, search.WithAllocator(alloc))
			if err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			res, err := s.Run(ctx)
			if !errors.Is(err, fseekerr.ErrCanceled) {
				t.Fatalf("err = %v, want CANCELED", err)
			}

			for _, o := range res.Workers {
				if o.State != search.Cancelled || len(o.Chunks) != 0 {
					t.Fatalf("worker %d: %s after %d chunks", o.Worker, o.State, len(o.Chunks))
				}
			}

			assertAllTerminated(t, res, m.lifetime)
			alloc.check(t)
		})
	}
}

func TestInvalidOptions(t *testing.T) {
	tests := []search.Options{
		{Workers: 0, RecordsPerChunk: 1},
		{Workers: 1, RecordsPerChunk: 0},
		{Workers: 1, RecordsPerChunk: 1, RecordSize: 2},
		{Workers: 1, RecordsPerChunk: 1, CancelMode: "async"},
		{Workers: 1, RecordsPerChunk: 1, Lifetime: "zombie"},
	}

	for _, opts := range tests {
		if _, err := search.New(quietLogger(), bytes.NewReader(nil), opts); !errors.Is(err, &fseekerr.Error{Code: fseekerr.CodeInvalidInput}) {
			t.Errorf("%+v: err = %v", opts, err)
		}
	}
}
