// Package transcript keeps the recent translation history and fans pipeline
// events out to listeners.
package transcript

import (
	"sync"
	"time"
)

// Event types.
const (
	EventRecognized = "recognized" // text accepted by the stability detector
	EventTranslated = "translated"
	EventSpeech     = "speech" // playback state change, State holds the kind
)

// Event is one pipeline notification.
type Event struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Source     string `json:"source,omitempty"`
	State      string `json:"state,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Error      string `json:"error,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

// Entry is one translated line.
type Entry struct {
	Timestamp   time.Time     `json:"timestamp"`
	Source      string        `json:"source"`
	Translation string        `json:"translation"`
	Elapsed     time.Duration `json:"elapsed"`
}

// MemoryStore keeps the last maxSize entries in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	maxSize  int
	eventsCh chan Event
	now      func() time.Time
}

// NewStore creates a new transcript store.
func NewStore(maxEntries, eventBuffer int) *MemoryStore {
	return &MemoryStore{
		entries:  make([]Entry, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
		now:      time.Now,
	}
}

// Add stores a translated line.
func (s *MemoryStore) Add(source, translation string, elapsed time.Duration) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Timestamp: s.now(), Source: source, Translation: translation, Elapsed: elapsed}
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	return e
}

// Recent returns up to n of the newest entries, oldest first. n <= 0 returns all.
func (s *MemoryStore) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && n < len(s.entries) {
		start = len(s.entries) - n
	}
	out := make([]Entry, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

// Since returns the entries added within the last d.
func (s *MemoryStore) Since(d time.Duration) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-d)
	var out []Entry
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Events returns the channel for pipeline events.
func (s *MemoryStore) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends an event (non-blocking). Events are dropped while no one keeps up.
func (s *MemoryStore) Emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
	}
}
