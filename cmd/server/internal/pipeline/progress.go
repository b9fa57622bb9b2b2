package pipeline

import (
	"sync"
	"time"
)

// ProgressFunc receives coarse progress: a human readable step and the
// number of finished units out of total (total may be 0 when unknown).
type ProgressFunc func(step string, done, total int)

// NopProgress discards progress updates.
func NopProgress(string, int, int) {}

// Snapshot is the last reported progress of a stage.
type Snapshot struct {
	Stage     string    `json:"stage"`
	Step      string    `json:"step"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker keeps the latest progress per stage for polling clients.
type Tracker struct {
	mu    sync.RWMutex
	state map[string]Snapshot
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{state: make(map[string]Snapshot)}
}

// For returns a ProgressFunc that records into stage.
func (t *Tracker) For(stage string) ProgressFunc {
	return func(step string, done, total int) {
		t.mu.Lock()
		t.state[stage] = Snapshot{Stage: stage, Step: step, Done: done, Total: total, UpdatedAt: time.Now()}
		t.mu.Unlock()
	}
}

// Get returns the snapshot for stage.
func (t *Tracker) Get(stage string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.state[stage]
	return s, ok
}

// All returns every stage snapshot.
func (t *Tracker) All() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.state))
	for _, s := range t.state {
		out = append(out, s)
	}
	return out
}
