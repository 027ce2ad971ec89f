// Package sendqueue implements the per-client outbound send grain:
// an unbounded FIFO for ordinary messages, plus a per-connection
// at-most-one-in-flight frame coalescer that drops stale frames under
// a slow consumer rather than letting latency grow unbounded.
package sendqueue

import (
	"context"
	"log/slog"
	"sync"
)

// Sender delivers one message over the underlying transport
// connection. Implementations are expected to block until the write
// either completes or fails — the coalescer treats Send's return as
// the delivery ack that frees the frame slot for whatever arrived
// while the send was in flight.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Grain is the per-client send grain: one unbounded FIFO for
// non-frame messages plus one FrameCoalescer for Screen.Frame
// payloads, both driving the same underlying Sender. The two paths
// are independently serialized, matching the reentrant "per-client
// send grain" the routing layer can call from any goroutine.
type Grain struct {
	ClientGUID string

	nonFrame *fifoQueue
	frames   *FrameCoalescer
	sender   Sender

	wg sync.WaitGroup
}

// New creates a send grain for one client connection. Run must be
// called once to start the non-frame reader task.
func New(clientGUID string, sender Sender) *Grain {
	return &Grain{
		ClientGUID: clientGUID,
		nonFrame:   newFIFOQueue(),
		frames:     NewFrameCoalescer(sender),
		sender:     sender,
	}
}

// Run starts the non-frame reader task and blocks until the queue is
// closed and drained. Call it from its own goroutine.
func (g *Grain) Run(ctx context.Context) {
	g.wg.Add(1)
	defer g.wg.Done()

	for {
		data, ok := g.nonFrame.dequeue()
		if !ok {
			return
		}
		if err := g.sender.Send(ctx, data); err != nil {
			slog.Warn("sendqueue: non-frame send failed", "client_guid", g.ClientGUID, "error", err)
		}
	}
}

// EnqueueMessage appends a non-frame message to the FIFO. Never
// drops: the queue grows to accommodate a slow consumer.
func (g *Grain) EnqueueMessage(data []byte) {
	g.nonFrame.enqueue(data)
}

// EnqueueFrame offers a frame for the given connection's coalescing
// slot. If a frame for that connection is already in flight, this
// replaces (and silently drops) whatever was previously pending.
func (g *Grain) EnqueueFrame(ctx context.Context, connectionID string, data []byte) {
	g.frames.Enqueue(ctx, connectionID, data)
}

// DropConnection forgets a connection's frame slot, e.g. once a
// viewer stops watching that display. Any pending (not yet in-flight)
// frame is discarded.
func (g *Grain) DropConnection(connectionID string) {
	g.frames.Drop(connectionID)
}

// Close cancels the non-frame queue and waits for Run's reader task to
// exit cleanly, matching "on deactivate, cancel, complete the
// non-frame channel, and await the reader's clean exit."
func (g *Grain) Close() {
	g.nonFrame.close()
	g.wg.Wait()
}

// fifoQueue is an unbounded, mutex-and-condvar-backed FIFO. A plain
// Go channel is always bounded, so a genuinely unbounded queue needs
// a growable backing slice rather than a channel.
type fifoQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newFIFOQueue() *fifoQueue {
	q := &fifoQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *fifoQueue) enqueue(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, data)
	q.cond.Signal()
}

func (q *fifoQueue) dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

func (q *fifoQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
