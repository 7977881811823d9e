package bot

import (
	"context"

	"github.com/tbourn/go-relay-bot/internal/gateway"
)

// Queue buffers webhook updates between the HTTP handler and Serve. The
// handler enqueues, Serve drains the channel.
type Queue chan gateway.Update

// NewQueue returns a queue holding up to size pending updates.
func NewQueue(size int) Queue {
	if size < 0 {
		size = 0
	}
	return make(Queue, size)
}

// Enqueue adds upd, waiting for space until ctx is done.
func (q Queue) Enqueue(ctx context.Context, upd gateway.Update) error {
	select {
	case q <- upd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
