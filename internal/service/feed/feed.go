package feed

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/seathold/seathold/internal/domain"
)

// ChangeSource reports allocations in a block updated after a point in
// time.
type ChangeSource interface {
	ChangesSince(ctx context.Context, eventID, blockID int64, since time.Time) ([]domain.SeatStatus, error)
}

// SnapshotReader supplies the full block state sent to a subscriber
// before it starts receiving deltas.
type SnapshotReader interface {
	BlockState(ctx context.Context, eventID, blockID int64) ([]domain.SeatStatus, error)
}

const (
	KindSnapshot = "snapshot"
	KindChanges  = "changes"
)

// Message is one frame pushed to a subscriber: the initial full
// snapshot, then batched changes.
type Message struct {
	Kind  string
	Seats []domain.SeatStatus
}

type Config struct {
	PollInterval time.Duration
	BufferSize   int
}

type subscriber struct {
	ch     chan Message
	closed bool
}

// topic tracks one (event, block) key: its live subscribers and the
// watermark below which changes have already been delivered. Each key
// advances its watermark independently, so a quiet block never misses
// updates because a busy one polled first.
type topic struct {
	watermark time.Time
	subs      map[*subscriber]struct{}
}

type key struct {
	eventID int64
	blockID int64
}

// Feed polls the store for per-block changes and fans them out to
// subscribers. One poll loop serves every subscribed key.
type Feed struct {
	source ChangeSource
	snaps  SnapshotReader
	logger *slog.Logger
	cfg    Config

	mu     sync.Mutex
	topics map[key]*topic
}

func New(source ChangeSource, snaps SnapshotReader, logger *slog.Logger, cfg Config) *Feed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}

	return &Feed{
		source: source,
		snaps:  snaps,
		logger: logger,
		cfg:    cfg,
		topics: make(map[key]*topic),
	}
}

// Subscribe registers a listener on one (event, block) key. The first
// message on the returned channel is a full snapshot; everything after
// is a batch of changes. The returned func detaches the listener and
// closes the channel.
func (f *Feed) Subscribe(ctx context.Context, eventID, blockID int64) (<-chan Message, func(), error) {
	// The watermark is pinned before the snapshot query, so a change
	// committing while the snapshot is read still sits above it and is
	// re-delivered next poll. Duplicates are safe; losses are not.
	start := time.Now()

	snap, err := f.snaps.BlockState(ctx, eventID, blockID)
	if err != nil {
		return nil, nil, err
	}

	sub := &subscriber{ch: make(chan Message, f.cfg.BufferSize)}

	// The channel is private until registration, so the snapshot is
	// unconditionally the first frame and never races a delivery.
	sub.ch <- Message{Kind: KindSnapshot, Seats: snap}

	k := key{eventID: eventID, blockID: blockID}

	f.mu.Lock()
	t, ok := f.topics[k]
	if !ok {
		t = &topic{watermark: start, subs: make(map[*subscriber]struct{})}
		f.topics[k] = t
	}
	t.subs[sub] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		f.drop(k, sub)
		f.mu.Unlock()
	}

	return sub.ch, cancel, nil
}

// Run polls until ctx is cancelled. A failing key is logged and
// retried next tick; it never stalls delivery on other keys.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *Feed) poll(ctx context.Context) {
	f.mu.Lock()
	marks := make(map[key]time.Time, len(f.topics))
	for k, t := range f.topics {
		marks[k] = t.watermark
	}
	f.mu.Unlock()

	for k, since := range marks {
		changes, err := f.source.ChangesSince(ctx, k.eventID, k.blockID, since)
		if err != nil {
			f.logger.Error("change poll failed",
				"event_id", k.eventID,
				"block_id", k.blockID,
				"error", err)
			continue
		}

		if len(changes) == 0 {
			continue
		}

		mark := since
		for _, c := range changes {
			if c.UpdatedAt.After(mark) {
				mark = c.UpdatedAt
			}
		}

		f.deliver(k, mark, changes)
	}
}

// deliver advances the key's watermark and pushes one batched message
// to every subscriber. A subscriber that cannot keep up (full buffer)
// is detached rather than allowed to block the feed.
func (f *Feed) deliver(k key, mark time.Time, changes []domain.SeatStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.topics[k]
	if !ok {
		return
	}

	if mark.After(t.watermark) {
		t.watermark = mark
	}

	msg := Message{Kind: KindChanges, Seats: changes}
	for sub := range t.subs {
		select {
		case sub.ch <- msg:
		default:
			f.logger.Warn("dropping slow feed subscriber",
				"event_id", k.eventID,
				"block_id", k.blockID)
			f.drop(k, sub)
		}
	}
}

// drop removes one subscriber and prunes the topic when it was the
// last. Callers hold f.mu.
func (f *Feed) drop(k key, sub *subscriber) {
	t, ok := f.topics[k]
	if !ok {
		return
	}

	if _, ok := t.subs[sub]; !ok {
		return
	}

	delete(t.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}

	if len(t.subs) == 0 {
		delete(f.topics, k)
	}
}
