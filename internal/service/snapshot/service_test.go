package snapshot

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"

	"github.com/seathold/seathold/internal/domain"
	postgresrepo "github.com/seathold/seathold/internal/repository/postgres"
)

type fakeSource struct {
	calls int64
	block chan struct{} // when set, BlockSnapshot waits here
	snap  []domain.SeatStatus
	err   error
}

func (f *fakeSource) BlockSnapshot(ctx context.Context, _, _ int64, _ postgresrepo.Schema) ([]domain.SeatStatus, error) {
	atomic.AddInt64(&f.calls, 1)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type fakeShared struct {
	mu   sync.Mutex
	data map[[2]int64][]domain.SeatStatus
	sets int
}

func (f *fakeShared) GetSnapshot(_ context.Context, eventID, blockID int64) ([]domain.SeatStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.data[[2]int64{eventID, blockID}]
	return snap, ok, nil
}

func (f *fakeShared) SetSnapshot(_ context.Context, eventID, blockID int64, snap []domain.SeatStatus, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[[2]int64][]domain.SeatStatus)
	}
	f.data[[2]int64{eventID, blockID}] = snap
	f.sets++
	return nil
}

type fakeLocal struct {
	mu   sync.Mutex
	data map[[2]int64][]domain.SeatStatus
}

func (f *fakeLocal) Get(eventID, blockID int64) ([]domain.SeatStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.data[[2]int64{eventID, blockID}]
	return snap, ok
}

func (f *fakeLocal) Set(eventID, blockID int64, snap []domain.SeatStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[[2]int64][]domain.SeatStatus)
	}
	f.data[[2]int64{eventID, blockID}] = snap
}

func testSnap() []domain.SeatStatus {
	return []domain.SeatStatus{
		{SeatID: 10, Status: domain.StatusAvailable},
		{SeatID: 11, Status: domain.StatusHold},
	}
}

func newTestService(source *fakeSource, cfg Config) (*Service, *fakeShared, *fakeLocal) {
	shared := &fakeShared{}
	local := &fakeLocal{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(source, shared, local, logger, cfg), shared, local
}

func TestGetSnapshot_Strategies(t *testing.T) {
	for _, strategy := range []Strategy{StrategyDirect, StrategyCollapse, StrategyShared, StrategyLocal} {
		t.Run(strategy.String(), func(t *testing.T) {
			source := &fakeSource{snap: testSnap()}
			svc, _, _ := newTestService(source, Config{})

			snap, err := svc.GetSnapshot(context.Background(), 1, 1, strategy, postgresrepo.SchemaDenorm)
			if err != nil {
				t.Fatalf("GetSnapshot: %v", err)
			}
			if len(snap) != 2 || snap[0].SeatID != 10 {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
		})
	}
}

func TestGetSnapshot_UnknownStrategy(t *testing.T) {
	source := &fakeSource{snap: testSnap()}
	svc, _, _ := newTestService(source, Config{})

	_, err := svc.GetSnapshot(context.Background(), 1, 1, Strategy(99), postgresrepo.SchemaDenorm)
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestCollapse_BoundsConcurrentQueries(t *testing.T) {
	source := &fakeSource{snap: testSnap(), block: make(chan struct{})}
	svc, _, _ := newTestService(source, Config{})

	const readers = 8

	var wg sync.WaitGroup
	errs := make([]error, readers)

	for i := range readers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.GetSnapshot(context.Background(), 1, 1, StrategyCollapse, postgresrepo.SchemaDenorm)
		}(i)
	}

	// Let every reader reach the in-flight query, then release it.
	time.Sleep(100 * time.Millisecond)
	close(source.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("reader %d: %v", i, err)
		}
	}

	if got := atomic.LoadInt64(&source.calls); got != 1 {
		t.Fatalf("expected 1 store query for %d concurrent readers, got %d", readers, got)
	}
}

func TestCollapse_QueriesFreshAfterResolve(t *testing.T) {
	source := &fakeSource{snap: testSnap()}
	svc, _, _ := newTestService(source, Config{})

	for range 3 {
		if _, err := svc.GetSnapshot(context.Background(), 1, 1, StrategyCollapse, postgresrepo.SchemaDenorm); err != nil {
			t.Fatalf("GetSnapshot: %v", err)
		}
	}

	// Sequential reads never share a flight; each one hits the store.
	if got := atomic.LoadInt64(&source.calls); got != 3 {
		t.Fatalf("expected 3 store queries for sequential reads, got %d", got)
	}
}

func TestShared_ReadsThroughCache(t *testing.T) {
	source := &fakeSource{snap: testSnap()}
	svc, shared, _ := newTestService(source, Config{})

	for range 3 {
		if _, err := svc.GetSnapshot(context.Background(), 1, 1, StrategyShared, postgresrepo.SchemaDenorm); err != nil {
			t.Fatalf("GetSnapshot: %v", err)
		}
	}

	if got := atomic.LoadInt64(&source.calls); got != 1 {
		t.Fatalf("expected 1 store query with warm shared cache, got %d", got)
	}
	if shared.sets != 1 {
		t.Fatalf("expected 1 cache fill, got %d", shared.sets)
	}
}

func TestLocal_ReadsThroughCache(t *testing.T) {
	source := &fakeSource{snap: testSnap()}
	svc, _, local := newTestService(source, Config{})

	for range 3 {
		if _, err := svc.GetSnapshot(context.Background(), 1, 1, StrategyLocal, postgresrepo.SchemaDenorm); err != nil {
			t.Fatalf("GetSnapshot: %v", err)
		}
	}

	if got := atomic.LoadInt64(&source.calls); got != 1 {
		t.Fatalf("expected 1 store query with warm local cache, got %d", got)
	}
	if _, ok := local.Get(1, 1); !ok {
		t.Fatal("expected local cache to be filled")
	}
}

func TestGetSnapshot_Timeout(t *testing.T) {
	source := &fakeSource{snap: testSnap(), block: make(chan struct{})} // never released
	svc, _, _ := newTestService(source, Config{Timeout: 20 * time.Millisecond})

	_, err := svc.GetSnapshot(context.Background(), 1, 1, StrategyDirect, postgresrepo.SchemaDenorm)
	if !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("expected ErrSnapshotTimeout, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in   string
		want Strategy
		ok   bool
	}{
		{"", StrategyCollapse, true},
		{"collapse", StrategyCollapse, true},
		{"collapsing", StrategyCollapse, true},
		{"direct", StrategyDirect, true},
		{"shared", StrategyShared, true},
		{"shared-cache", StrategyShared, true},
		{"local", StrategyLocal, true},
		{"local-cache", StrategyLocal, true},
		{"bogus", 0, false},
	}

	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseStrategy(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrUnknownStrategy) {
			t.Errorf("ParseStrategy(%q): expected ErrUnknownStrategy, got %v", tc.in, err)
		}
	}
}

func TestParseSchema(t *testing.T) {
	if s, err := ParseSchema(""); err != nil || s != postgresrepo.SchemaDenorm {
		t.Errorf("ParseSchema(\"\") = %v, %v; want denorm", s, err)
	}
	if s, err := ParseSchema("join"); err != nil || s != postgresrepo.SchemaJoin {
		t.Errorf("ParseSchema(join) = %v, %v; want join", s, err)
	}
	if _, err := ParseSchema("bogus"); !errors.Is(err, ErrUnknownSchema) {
		t.Errorf("ParseSchema(bogus): expected ErrUnknownSchema, got %v", err)
	}
}
