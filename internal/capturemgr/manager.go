// Package capturemgr reconciles the set of running capture pipelines
// against the set of displays currently selected by at least one
// viewer, polling on a fixed tick rather than reacting per-event.
package capturemgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haefele/remoteviewer/internal/pipeline"
	"github.com/haefele/remoteviewer/internal/screen"
)

// minTargetFPS and maxTargetFPS bound the FPS a caller may configure;
// the spec treats 10-15 as a reasonable floor and 1 as permitted in
// the most permissive variant, so the floor here is set at 1 and left
// to callers to raise for their own deployment.
const (
	minTargetFPS = 1
	maxTargetFPS = 120

	monitorInterval = 100 * time.Millisecond
)

// ClampTargetFPS validates fps into [minTargetFPS, maxTargetFPS].
func ClampTargetFPS(fps int) int {
	if fps < minTargetFPS {
		return minTargetFPS
	}
	if fps > maxTargetFPS {
		return maxTargetFPS
	}
	return fps
}

// PipelineFactory builds a fresh Pipeline for display. Manager calls
// it once per display that becomes needed.
type PipelineFactory func(display screen.Display) *pipeline.Pipeline

// NeededDisplaysFunc returns the set of displays at least one viewer
// currently has selected, keyed by display ID.
type NeededDisplaysFunc func() map[string]screen.Display

// Manager owns one Pipeline per currently-needed display and
// reconciles that set on a fixed tick.
type Manager struct {
	factory PipelineFactory
	needed  NeededDisplaysFunc

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Manager. Call Start to begin reconciling.
func New(factory PipelineFactory, needed NeededDisplaysFunc) *Manager {
	return &Manager{
		factory:   factory,
		needed:    needed,
		pipelines: make(map[string]*pipeline.Pipeline),
	}
}

// Start launches the monitor tick goroutine.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Dispose cancels the monitor tick, waits for it to exit, then stops
// every running pipeline.
func (m *Manager) Dispose() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	pipelines := make([]*pipeline.Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		pipelines = append(pipelines, p)
	}
	m.pipelines = make(map[string]*pipeline.Pipeline)
	m.mu.Unlock()

	for _, p := range pipelines {
		p.Stop()
	}
}

// ActiveCount returns the number of pipelines currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipelines)
}

func (m *Manager) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile()
		}
	}
}

// reconcile stops pipelines that are no longer needed or have
// faulted, then starts pipelines for newly needed displays.
func (m *Manager) reconcile() {
	needed := m.needed()

	m.mu.Lock()
	var toStop []*pipeline.Pipeline
	for id, p := range m.pipelines {
		_, stillNeeded := needed[id]
		if !stillNeeded || p.State() == pipeline.StateFaulted {
			toStop = append(toStop, p)
			delete(m.pipelines, id)
		}
	}

	var toStart []screen.Display
	for id, display := range needed {
		if _, running := m.pipelines[id]; !running {
			toStart = append(toStart, display)
		}
	}
	for _, display := range toStart {
		p := m.factory(display)
		m.pipelines[display.ID] = p
	}
	m.mu.Unlock()

	for _, p := range toStop {
		p.Stop()
	}
	for _, display := range toStart {
		m.mu.Lock()
		p := m.pipelines[display.ID]
		m.mu.Unlock()
		if p != nil {
			p.Start()
			slog.Info("capturemgr: started pipeline", "display", display.ID)
		}
	}
}
