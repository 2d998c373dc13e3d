// Package notify provides the single outbound stream of user-facing
// notifications. Every producer (UI commands, driver callbacks, the download
// watcher) emits through one Stream, so delivery order is the order in which
// emissions were linearized.
package notify

import (
	"log/slog"
	"sync"
)

// Kind distinguishes the two notification shapes.
type Kind int

const (
	// KindMessage carries display text.
	KindMessage Kind = iota
	// KindAdapterState carries the adapter initialised flag.
	KindAdapterState
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Kind        Kind
	Text        string
	Initialized bool
}

// Stream linearizes notifications onto a single channel.
type Stream struct {
	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	closed bool
}

// NewStream creates a Stream whose channel buffers up to size events.
// Emitters block when the buffer is full until the consumer catches up or
// the stream is closed.
func NewStream(size int) *Stream {
	if size < 0 {
		size = 0
	}
	return &Stream{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives notifications.
// The channel is closed by Close.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Message emits a display string.
func (s *Stream) Message(text string) {
	s.emit(Event{Kind: KindMessage, Text: text})
}

// AdapterState emits an adapter state change.
func (s *Stream) AdapterState(initialized bool) {
	s.emit(Event{Kind: KindAdapterState, Initialized: initialized})
}

func (s *Stream) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		slog.Debug("[NOTIFY] dropped after close", "text", ev.Text)
		return
	}
	slog.Debug("[NOTIFY] emit", "kind", ev.Kind, "text", ev.Text, "initialized", ev.Initialized)
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// Close stops delivery and closes the Events channel. Emitters blocked on a
// full buffer are released. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
