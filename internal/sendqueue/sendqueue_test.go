package sendqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *recordingSender) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, data)
	return nil
}

func (s *recordingSender) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

func TestGrainDeliversNonFrameMessagesInOrder(t *testing.T) {
	sender := &recordingSender{}
	g := New("c1", sender)
	go g.Run(context.Background())

	g.EnqueueMessage([]byte("a"))
	g.EnqueueMessage([]byte("b"))
	g.EnqueueMessage([]byte("c"))

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 3
	}, time.Second, time.Millisecond)

	sent := sender.snapshot()
	require.Equal(t, []byte("a"), sent[0])
	require.Equal(t, []byte("b"), sent[1])
	require.Equal(t, []byte("c"), sent[2])

	g.Close()
}

func TestGrainCloseDrainsAndReturns(t *testing.T) {
	sender := &recordingSender{}
	g := New("c1", sender)

	done := make(chan struct{})
	go func() {
		g.Run(context.Background())
		close(done)
	}()

	g.EnqueueMessage([]byte("a"))
	g.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

type blockingSender struct {
	release chan struct{}
	sent    []string
	mu      sync.Mutex
}

func (s *blockingSender) Send(_ context.Context, data []byte) error {
	<-s.release
	s.mu.Lock()
	s.sent = append(s.sent, string(data))
	s.mu.Unlock()
	return nil
}

func (s *blockingSender) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func TestFrameCoalescerDropsStaleFramesUnderSlowConsumer(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	c := NewFrameCoalescer(sender)
	ctx := context.Background()

	c.Enqueue(ctx, "conn1", []byte("frame1")) // dispatched immediately, blocks in Send
	c.Enqueue(ctx, "conn1", []byte("frame2")) // becomes pending
	c.Enqueue(ctx, "conn1", []byte("frame3")) // replaces pending — "latest wins"

	close(sender.release)

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 2
	}, time.Second, time.Millisecond)

	sent := sender.snapshot()
	require.Equal(t, []string{"frame1", "frame3"}, sent)
}

func TestFrameCoalescerIndependentSlotsPerConnection(t *testing.T) {
	sender := &recordingSender{}
	c := NewFrameCoalescer(sender)
	ctx := context.Background()

	c.Enqueue(ctx, "conn1", []byte("a"))
	c.Enqueue(ctx, "conn2", []byte("b"))

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 2
	}, time.Second, time.Millisecond)

	require.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, sender.snapshot())
}

type erroringSender struct {
	err error
}

func (s *erroringSender) Send(context.Context, []byte) error {
	return s.err
}

func TestFrameCoalescerClearsSlotOnSendError(t *testing.T) {
	sender := &erroringSender{err: context.DeadlineExceeded}
	c := NewFrameCoalescer(sender)
	ctx := context.Background()

	c.Enqueue(ctx, "conn1", []byte("a"))

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		slot, ok := c.slots["conn1"]
		return ok && !slot.inFlight && slot.pending == nil
	}, time.Second, time.Millisecond)
}

func TestFrameCoalescerDropRemovesSlot(t *testing.T) {
	sender := &recordingSender{}
	c := NewFrameCoalescer(sender)

	c.Enqueue(context.Background(), "conn1", []byte("a"))
	require.Eventually(t, func() bool { return len(sender.snapshot()) == 1 }, time.Second, time.Millisecond)

	c.Drop("conn1")
	c.mu.Lock()
	_, ok := c.slots["conn1"]
	c.mu.Unlock()
	require.False(t, ok)
}
