// Package notification implements the multicast registry described in
// spec §4.12: listeners register per notification type, and a send
// fans a payload out to a snapshot of that type's listeners.
package notification

import (
	"sync"

	"go.uber.org/zap"
)

// Type identifies a class of notification.
type Type string

const (
	TypeActivate     Type = "activate"
	TypeTrack        Type = "track"
	TypeDecision     Type = "decision"
	TypeConfigUpdate Type = "config-update"
	TypeLog          Type = "log"
	TypeOdpEvent     Type = "odp-event"
)

// Listener receives notification payloads.
type Listener func(payload interface{})

// Hub is a thread-safe registry of listeners keyed by notification
// type.
type Hub struct {
	mu        sync.RWMutex
	listeners map[Type][]Listener
	logger    *zap.SugaredLogger
}

// NewHub constructs an empty Hub. A nil logger defaults to a no-op
// logger.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{listeners: make(map[Type][]Listener), logger: logger}
}

// Add registers a listener for a notification type. Add returns
// nothing; listeners are removed per type with Clear or all at once
// with ClearAll.
func (h *Hub) Add(t Type, listener Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[t] = append(h.listeners[t], listener)
}

// Send invokes every listener registered for t with payload. A
// listener snapshot is taken under lock and invoked outside it so a
// listener calling back into Add/Clear cannot deadlock. A panicking
// listener is recovered, logged, and does not affect the others.
func (h *Hub) Send(t Type, payload interface{}) {
	h.mu.RLock()
	snapshot := make([]Listener, len(h.listeners[t]))
	copy(snapshot, h.listeners[t])
	h.mu.RUnlock()

	for _, listener := range snapshot {
		h.invoke(listener, payload)
	}
}

func (h *Hub) invoke(listener Listener, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorw("notification listener panicked", "recovered", r)
		}
	}()
	listener(payload)
}

// Clear removes every listener registered for t.
func (h *Hub) Clear(t Type) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, t)
}

// ClearAll removes every listener for every type.
func (h *Hub) ClearAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = make(map[Type][]Listener)
}
