package sendqueue

import (
	"context"
	"log/slog"
	"sync"
)

// frameSlot is the per-connection coalescing state: at most one frame
// in flight, at most one frame pending behind it. A fresh enqueue
// while a frame is in flight replaces pending outright — "latest
// wins" — rather than queueing.
type frameSlot struct {
	inFlight bool
	pending  []byte
}

// FrameCoalescer guarantees at most one Screen.Frame in flight per
// connection_id, so a slow viewer cannot make presenter-side latency
// grow: frames produced while a send is outstanding are dropped
// except for the most recent one.
type FrameCoalescer struct {
	mu     sync.Mutex
	slots  map[string]*frameSlot
	sender Sender
}

// NewFrameCoalescer creates a coalescer that delivers accepted frames
// through sender.
func NewFrameCoalescer(sender Sender) *FrameCoalescer {
	return &FrameCoalescer{
		slots:  make(map[string]*frameSlot),
		sender: sender,
	}
}

// Enqueue offers data for connectionID's slot. If nothing is in
// flight it dispatches immediately; otherwise it replaces pending.
func (c *FrameCoalescer) Enqueue(ctx context.Context, connectionID string, data []byte) {
	c.mu.Lock()
	slot, ok := c.slots[connectionID]
	if !ok {
		slot = &frameSlot{}
		c.slots[connectionID] = slot
	}

	if !slot.inFlight {
		slot.inFlight = true
		c.mu.Unlock()
		c.dispatch(ctx, connectionID, data)
		return
	}

	slot.pending = data
	c.mu.Unlock()
}

// Drop removes a connection's slot entirely, discarding any pending
// frame. An in-flight send already underway still completes and its
// ack is a no-op against the now-absent slot.
func (c *FrameCoalescer) Drop(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, connectionID)
}

func (c *FrameCoalescer) dispatch(ctx context.Context, connectionID string, data []byte) {
	go func() {
		err := c.sender.Send(ctx, data)

		c.mu.Lock()
		slot, ok := c.slots[connectionID]
		if !ok {
			c.mu.Unlock()
			return
		}

		if err != nil {
			slog.Warn("sendqueue: frame send failed", "connection_id", connectionID, "error", err)
			slot.inFlight = false
			slot.pending = nil
			c.mu.Unlock()
			return
		}

		if slot.pending != nil {
			next := slot.pending
			slot.pending = nil
			c.mu.Unlock()
			c.dispatch(ctx, connectionID, next)
			return
		}

		slot.inFlight = false
		c.mu.Unlock()
	}()
}
