package checkin

import (
	"sync"

	"github.com/kozaktomas/face-checkin/internal/constants"
)

// Event types beyond the capture machine's state, countdown and captured events.
const (
	EventReport  = "report"
	EventOutcome = "outcome"
)

// Event is a session notification delivered to listeners.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// broadcaster fans session events out to listeners.
type broadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
	closed    bool
}

// AddListener registers a listener. The channel is closed when the session ends.
func (b *broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener unregisters and closes a listener.
func (b *broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *broadcaster) send(typ, message string, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev := Event{Type: typ, Message: message, Data: data}
	for _, listener := range b.listeners {
		select {
		case listener <- ev:
		default:
			// Listener buffer full, skip.
		}
	}
}

func (b *broadcaster) closeListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
	b.closed = true
}
