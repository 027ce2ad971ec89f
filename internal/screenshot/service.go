// Package screenshot implements the priority-ordered capture service:
// one state machine per display, deciding when a keyframe is due and
// delegating to the highest-priority available grabber.
package screenshot

import (
	"sort"
	"sync"
	"time"

	"github.com/haefele/remoteviewer/internal/capture"
	"github.com/haefele/remoteviewer/internal/screen"
)

// keyframeInterval is the maximum time between forced full frames per
// display, bounding how stale a viewer's canvas can get after a drop.
const keyframeInterval = 1000 * time.Millisecond

// displayState tracks the per-display keyframe clock described by the
// capture state model: a timer reset on every full-frame emission and
// an idempotent force flag set by external callers (e.g. a viewer
// just selected this display and has no canvas yet).
type displayState struct {
	mu                sync.Mutex
	lastKeyframe      time.Time
	forceNextKeyframe bool
}

// Service fans a capture request for one display out to the
// available Grabbers in descending priority order, stopping at the
// first one that doesn't fail.
type Service struct {
	grabbers []capture.Grabber

	mu     sync.Mutex
	states map[string]*displayState
}

// New builds a Service over grabbers, sorted once by descending
// Priority(). Unavailable grabbers (IsAvailable()==false) are kept in
// the list — availability can change at runtime (e.g. the IPC
// recorder connection drops) — but are skipped on each capture.
func New(grabbers ...capture.Grabber) *Service {
	sorted := make([]capture.Grabber, len(grabbers))
	copy(sorted, grabbers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Service{grabbers: sorted, states: make(map[string]*displayState)}
}

// ForceKeyframe marks display as needing a full frame on its next
// capture. Idempotent: calling it repeatedly before the next capture
// has no additional effect.
func (s *Service) ForceKeyframe(displayID string) {
	st := s.stateFor(displayID)
	st.mu.Lock()
	st.forceNextKeyframe = true
	st.mu.Unlock()
}

// Capture runs one capture cycle for display, consulting the
// per-display keyframe clock and falling through grabbers in
// priority order until one returns anything other than Failure.
func (s *Service) Capture(display screen.Display) screen.GrabResult {
	st := s.stateFor(display.ID)

	st.mu.Lock()
	due := st.forceNextKeyframe || st.lastKeyframe.IsZero() || time.Since(st.lastKeyframe) >= keyframeInterval
	st.mu.Unlock()

	for _, g := range s.grabbers {
		if !g.IsAvailable() {
			continue
		}
		result := g.Capture(display, due)
		if result.Status == screen.GrabFailure {
			continue
		}
		if result.Status == screen.GrabSuccess && result.FullFrame != nil {
			st.mu.Lock()
			st.lastKeyframe = time.Now()
			st.forceNextKeyframe = false
			st.mu.Unlock()
		}
		return result
	}
	return screen.GrabResult{Status: screen.GrabFailure}
}

func (s *Service) stateFor(displayID string) *displayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[displayID]
	if !ok {
		st = &displayState{}
		s.states[displayID] = st
	}
	return st
}
