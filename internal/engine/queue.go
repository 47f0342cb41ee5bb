package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrHookClosed is returned by QueuedHook.Notify after Close.
var ErrHookClosed = errors.New("hook queue closed")

// QueuedHook moves notification delivery onto its own goroutine so a slow
// destination never stalls the engine.
//
// Notify enqueues and returns immediately. Run delivers in FIFO order to the
// wrapped Hook and must be called from exactly one goroutine. Delivery
// errors are logged and dropped; retry is the wrapped Hook's business.
type QueuedHook struct {
	next Hook

	mu     sync.Mutex
	queue  []Notification
	closed bool
	signal chan struct{} // buffered, size 1
	idle   *sync.Cond
	busy   bool
	// stopped is set once Run returns; nothing will drain the queue after.
	stopped bool
}

// NewQueuedHook wraps next.
func NewQueuedHook(next Hook) *QueuedHook {
	q := &QueuedHook{
		next:   next,
		queue:  make([]Notification, 0, 64),
		signal: make(chan struct{}, 1),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Notify implements Hook.
func (q *QueuedHook) Notify(_ context.Context, n Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrHookClosed
	}
	q.queue = append(q.queue, n)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Run delivers queued notifications until ctx is cancelled or Close is
// called and the queue has drained. Cancellation stops delivery after the
// notification in flight and closes the hook.
func (q *QueuedHook) Run(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = false
	q.mu.Unlock()
	defer q.stop()

	for {
		if err := ctx.Err(); err != nil {
			q.Close()
			return err
		}
		if n, ok := q.tryDequeue(); ok {
			if err := q.next.Notify(ctx, n); err != nil {
				slog.Error("callback delivery failed",
					"message_id", n.ID,
					"outcome", n.Outcome.String(),
					"error", err,
				)
			}
			q.done()
			continue
		}

		select {
		case <-ctx.Done():
			q.Close()
			return ctx.Err()
		case <-q.signal:
			q.mu.Lock()
			drained := q.closed && len(q.queue) == 0
			q.mu.Unlock()
			if drained {
				return nil
			}
		}
	}
}

// Flush blocks until every notification enqueued so far has been delivered,
// or until Run returns. Run must be active on another goroutine. Anything
// still queued when Run stops on a cancelled context stays undelivered and
// is counted by Len.
func (q *QueuedHook) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (len(q.queue) > 0 || q.busy) && !q.stopped {
		q.idle.Wait()
	}
}

// Len returns the number of undelivered notifications.
func (q *QueuedHook) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Close stops accepting notifications. Run returns once the queue drains.
func (q *QueuedHook) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *QueuedHook) tryDequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return Notification{}, false
	}
	n := q.queue[0]
	// Clear the slot so the payload can be collected.
	q.queue[0] = Notification{}
	if len(q.queue) == 1 {
		q.queue = q.queue[:0]
	} else {
		q.queue = q.queue[1:]
	}
	q.busy = true
	return n, true
}

func (q *QueuedHook) stop() {
	q.mu.Lock()
	q.stopped = true
	q.busy = false
	q.idle.Broadcast()
	q.mu.Unlock()
}

func (q *QueuedHook) done() {
	q.mu.Lock()
	q.busy = false
	q.idle.Broadcast()
	q.mu.Unlock()
}
