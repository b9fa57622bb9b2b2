package pipeline

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate admits one long-running stage at a time. Collaborators hold the GPU
// and the on-disk layout for the whole stage, so overlapping stages are
// turned away instead of queued.
type Gate struct {
	sem    *semaphore.Weighted
	mu     sync.RWMutex
	active string
	since  time.Time
}

// NewGate creates a gate with a single slot.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// TryEnter claims the slot for stage. It returns a STAGE_BUSY precondition
// error naming the running stage when the slot is taken.
func (g *Gate) TryEnter(stage string) (release func(), err error) {
	if !g.sem.TryAcquire(1) {
		running, _ := g.Active()
		return nil, Precondition(STAGE_BUSY, "Another operation is running ("+running+"), wait until it finishes")
	}

	g.mu.Lock()
	g.active = stage
	g.since = time.Now()
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.active = ""
			g.since = time.Time{}
			g.mu.Unlock()
			g.sem.Release(1)
		})
	}, nil
}

// Active reports the running stage, if any, and when it started.
func (g *Gate) Active() (string, time.Time) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active, g.since
}
