package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlocksPubSub broadcasts "allocations in this block changed" across
// instances so every node can drop its cached snapshot for the key. The
// change feed itself stays poll-based; this channel only carries cache
// invalidation.
type BlocksPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewBlocksPubSub(rdb *redis.Client) *BlocksPubSub {
	return &BlocksPubSub{
		rdb:     rdb,
		channel: ChannelBlocksChanged(),
	}
}

type blockChangedMsg struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
	BlockID int64  `json:"block_id"`
	TsUnix  int64  `json:"ts_unix"`
}

func (p *BlocksPubSub) PublishBlockChanged(ctx context.Context, eventID, blockID int64) error {
	msg := blockChangedMsg{
		Type:    "block_changed",
		EventID: eventID,
		BlockID: blockID,
		TsUnix:  time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *BlocksPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, eventID, blockID int64)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev blockChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.EventID != 0 {
				handler(ctx, ev.EventID, ev.BlockID)
			}
		}
	}
}
