package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/store"
)

// Queue decouples webhook ingestion from the worker. One FIFO list per region;
// a pop is destructive (at-most-once delivery to a worker).
type Queue struct {
	store  store.Store
	logger *slog.Logger
}

func New(log *slog.Logger, st store.Store) *Queue {
	return &Queue{
		store:  st,
		logger: log.With(slog.String("service", "queue")),
	}
}

func (q *Queue) Push(ctx context.Context, item channel.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	if err := q.store.LPush(ctx, store.QueueKey(item.Region), data); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for an item from any of the region queues. ok is
// false when the timeout elapsed empty-handed.
func (q *Queue) Pop(ctx context.Context, regions []string, timeout time.Duration) (channel.QueueItem, bool, error) {
	keys := make([]string, len(regions))
	for i, region := range regions {
		keys[i] = store.QueueKey(region)
	}
	_, data, ok, err := q.store.BRPop(ctx, timeout, keys...)
	if err != nil {
		return channel.QueueItem{}, false, fmt.Errorf("dequeue: %w", err)
	}
	if !ok {
		return channel.QueueItem{}, false, nil
	}
	var item channel.QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return channel.QueueItem{}, false, fmt.Errorf("decode queue item: %w", err)
	}
	return item, true, nil
}
