package events

import (
	"sync"

	"github.com/google/uuid"
)

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all
// events. Useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Entry pairs an emitted event with a unique identifier so indexers can
// deduplicate replays.
type Entry struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Event Event  `json:"event"`
}

// Recorder retains emitted events in memory up to a configurable cap.
// It backs the RPC event query surface and the engine tests.
type Recorder struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
}

const defaultRecorderCap = 1024

// NewRecorder constructs a Recorder. A non-positive cap falls back to
// the default.
func NewRecorder(cap int) *Recorder {
	if cap <= 0 {
		cap = defaultRecorderCap
	}
	return &Recorder{cap: cap}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		ID:    uuid.NewString(),
		Type:  evt.EventType(),
		Event: evt,
	})
	if len(r.entries) > r.cap {
		r.entries = append([]Entry(nil), r.entries[len(r.entries)-r.cap:]...)
	}
}

// Entries returns a copy of the retained event log.
func (r *Recorder) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}
