package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/seathold/seathold/internal/domain"
)

type fakeChanges struct {
	mu      sync.Mutex
	pending map[key][]domain.SeatStatus
	errs    map[key]error
	calls   map[key]int
}

func newFakeChanges() *fakeChanges {
	return &fakeChanges{
		pending: make(map[key][]domain.SeatStatus),
		errs:    make(map[key]error),
		calls:   make(map[key]int),
	}
}

func (f *fakeChanges) push(k key, changes ...domain.SeatStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[k] = append(f.pending[k], changes...)
}

func (f *fakeChanges) ChangesSince(_ context.Context, eventID, blockID int64, since time.Time) ([]domain.SeatStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key{eventID, blockID}
	f.calls[k]++

	if err := f.errs[k]; err != nil {
		return nil, err
	}

	var out []domain.SeatStatus
	for _, c := range f.pending[k] {
		if c.UpdatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeSnapshots struct {
	snap []domain.SeatStatus
	err  error
}

func (f *fakeSnapshots) BlockState(context.Context, int64, int64) ([]domain.SeatStatus, error) {
	return f.snap, f.err
}

func newTestFeed(source *fakeChanges, snaps SnapshotReader, bufferSize int) *Feed {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(source, snaps, logger, Config{BufferSize: bufferSize})
}

func change(seatID int64, at time.Time) domain.SeatStatus {
	return domain.SeatStatus{SeatID: seatID, Status: domain.StatusHold, UpdatedAt: at}
}

func recvMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, open := <-ch:
		if !open {
			t.Fatal("channel closed unexpectedly")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func assertNoMessage(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func TestSubscribe_SnapshotFirst(t *testing.T) {
	source := newFakeChanges()
	snaps := &fakeSnapshots{snap: []domain.SeatStatus{{SeatID: 10, Status: domain.StatusAvailable}}}
	f := newTestFeed(source, snaps, 4)

	ch, cancel, err := f.Subscribe(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	msg := recvMessage(t, ch)
	if msg.Kind != KindSnapshot {
		t.Fatalf("expected snapshot first, got %q", msg.Kind)
	}
	if len(msg.Seats) != 1 || msg.Seats[0].SeatID != 10 {
		t.Fatalf("unexpected snapshot payload: %+v", msg.Seats)
	}
}

func TestSubscribe_SnapshotError(t *testing.T) {
	source := newFakeChanges()
	wantErr := errors.New("store down")
	f := newTestFeed(source, &fakeSnapshots{err: wantErr}, 4)

	_, _, err := f.Subscribe(context.Background(), 1, 1)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected snapshot error to surface, got %v", err)
	}
}

// gatedSnapshots blocks mid-read so tests can interleave a commit with
// an in-flight snapshot query.
type gatedSnapshots struct {
	entered chan struct{}
	release chan struct{}
	snap    []domain.SeatStatus
}

func (g *gatedSnapshots) BlockState(context.Context, int64, int64) ([]domain.SeatStatus, error) {
	close(g.entered)
	<-g.release
	return g.snap, nil
}

func TestSubscribe_ChangeDuringSnapshotNotLost(t *testing.T) {
	source := newFakeChanges()
	snaps := &gatedSnapshots{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		snap:    []domain.SeatStatus{{SeatID: 10, Status: domain.StatusAvailable}},
	}
	f := newTestFeed(source, snaps, 4)

	type result struct {
		ch     <-chan Message
		cancel func()
		err    error
	}
	done := make(chan result, 1)
	go func() {
		ch, cancel, err := f.Subscribe(context.Background(), 1, 1)
		done <- result{ch, cancel, err}
	}()

	// The snapshot result set is already fixed; this transition commits
	// too late to appear in it and must reach the subscriber as a delta.
	<-snaps.entered
	source.push(key{1, 1}, change(10, time.Now().Add(time.Millisecond)))
	close(snaps.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("Subscribe: %v", res.err)
	}
	defer res.cancel()

	msg := recvMessage(t, res.ch)
	if msg.Kind != KindSnapshot || msg.Seats[0].Status != domain.StatusAvailable {
		t.Fatalf("expected stale snapshot first, got %+v", msg)
	}

	f.poll(context.Background())

	msg = recvMessage(t, res.ch)
	if msg.Kind != KindChanges || len(msg.Seats) != 1 || msg.Seats[0].SeatID != 10 {
		t.Fatalf("transition during snapshot was lost, got %+v", msg)
	}
}

func TestSubscribe_SnapshotAlwaysFirst(t *testing.T) {
	source := newFakeChanges()
	snaps := &fakeSnapshots{snap: []domain.SeatStatus{{SeatID: 10, Status: domain.StatusAvailable}}}
	f := newTestFeed(source, snaps, 4)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	base := time.Now()
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			source.push(key{1, 1}, change(10, base.Add(time.Duration(i+1)*time.Millisecond)))
			f.poll(context.Background())
		}
	}()

	// Subscribing while deliveries race must never put a change frame
	// ahead of the snapshot.
	for range 25 {
		ch, cancel, err := f.Subscribe(context.Background(), 1, 1)
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		msg := recvMessage(t, ch)
		cancel()
		if msg.Kind != KindSnapshot {
			t.Fatalf("expected snapshot first, got %q", msg.Kind)
		}
	}

	close(stop)
	wg.Wait()
}

func TestPoll_FanOutOnce(t *testing.T) {
	source := newFakeChanges()
	f := newTestFeed(source, &fakeSnapshots{}, 4)

	chA, cancelA, err := f.Subscribe(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	defer cancelA()
	chB, cancelB, err := f.Subscribe(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}
	defer cancelB()

	recvMessage(t, chA) // snapshots
	recvMessage(t, chB)

	source.push(key{1, 1}, change(10, time.Now().Add(time.Second)))
	f.poll(context.Background())

	for _, ch := range []<-chan Message{chA, chB} {
		msg := recvMessage(t, ch)
		if msg.Kind != KindChanges {
			t.Fatalf("expected changes, got %q", msg.Kind)
		}
		if len(msg.Seats) != 1 || msg.Seats[0].SeatID != 10 {
			t.Fatalf("unexpected changes payload: %+v", msg.Seats)
		}
	}

	// The watermark advanced past the change; the next poll must not
	// re-emit it.
	f.poll(context.Background())
	assertNoMessage(t, chA)
	assertNoMessage(t, chB)
}

func TestPoll_BatchesChanges(t *testing.T) {
	source := newFakeChanges()
	f := newTestFeed(source, &fakeSnapshots{}, 4)

	ch, cancel, err := f.Subscribe(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()
	recvMessage(t, ch)

	at := time.Now().Add(time.Second)
	source.push(key{1, 1}, change(10, at), change(11, at.Add(time.Millisecond)))
	f.poll(context.Background())

	msg := recvMessage(t, ch)
	if len(msg.Seats) != 2 {
		t.Fatalf("expected one batched message with 2 seats, got %+v", msg.Seats)
	}
	assertNoMessage(t, ch)
}

func TestPoll_KeyIsolation(t *testing.T) {
	source := newFakeChanges()
	source.errs[key{1, 1}] = errors.New("query failed")
	f := newTestFeed(source, &fakeSnapshots{}, 4)

	chA, cancelA, err := f.Subscribe(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	defer cancelA()
	chB, cancelB, err := f.Subscribe(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}
	defer cancelB()

	recvMessage(t, chA)
	recvMessage(t, chB)

	source.push(key{1, 2}, change(20, time.Now().Add(time.Second)))
	f.poll(context.Background())

	// The failing key must not stall delivery on the healthy one.
	msg := recvMessage(t, chB)
	if msg.Kind != KindChanges || msg.Seats[0].SeatID != 20 {
		t.Fatalf("unexpected message on healthy key: %+v", msg)
	}
	assertNoMessage(t, chA)
}

func TestPoll_PerKeyWatermark(t *testing.T) {
	source := newFakeChanges()
	f := newTestFeed(source, &fakeSnapshots{}, 4)

	chA, cancelA, _ := f.Subscribe(context.Background(), 1, 1)
	defer cancelA()
	chB, cancelB, _ := f.Subscribe(context.Background(), 1, 2)
	defer cancelB()
	recvMessage(t, chA)
	recvMessage(t, chB)

	// Key A sees a change and advances; key B stays quiet.
	source.push(key{1, 1}, change(10, time.Now().Add(time.Second)))
	f.poll(context.Background())
	recvMessage(t, chA)

	// A later change on B must still be delivered: B's watermark was
	// not dragged forward by A's poll.
	source.push(key{1, 2}, change(20, time.Now().Add(2*time.Second)))
	f.poll(context.Background())

	msg := recvMessage(t, chB)
	if msg.Seats[0].SeatID != 20 {
		t.Fatalf("expected change on key B, got %+v", msg)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	source := newFakeChanges()
	f := newTestFeed(source, &fakeSnapshots{}, 1)

	ch, cancel, err := f.Subscribe(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	// The unread snapshot fills the whole buffer; the next delivery
	// cannot be accepted and the subscriber is detached.
	source.push(key{1, 1}, change(10, time.Now().Add(time.Second)))
	f.poll(context.Background())

	msg := recvMessage(t, ch) // buffered snapshot drains first
	if msg.Kind != KindSnapshot {
		t.Fatalf("expected buffered snapshot, got %q", msg.Kind)
	}

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after subscriber was dropped")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.topics) != 0 {
		t.Fatalf("expected topic pruned after last subscriber dropped, got %d", len(f.topics))
	}
}

func TestCancel_PrunesTopic(t *testing.T) {
	source := newFakeChanges()
	f := newTestFeed(source, &fakeSnapshots{}, 4)

	ch, cancel, err := f.Subscribe(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	recvMessage(t, ch)

	cancel()
	cancel() // second cancel is a no-op

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}

	f.poll(context.Background())
	if source.calls[key{1, 1}] != 0 {
		t.Fatalf("expected no polling after last unsubscribe, got %d calls", source.calls[key{1, 1}])
	}
}
