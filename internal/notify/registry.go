package notify

import (
	"allotment/pkg/model"
	"context"
	"sync"
)

// Listener receives events for one connected claimant, e.g. a websocket
// session owned by the HTTP layer. Deliver must not block.
type Listener interface {
	Deliver(event model.Event) error
}

// Registry tracks which claimants are online and how to reach them. It is
// created by the caller and injected; there is no package-level instance.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]map[string]Listener
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]map[string]Listener)}
}

// Register adds a listener for claimantID under sessionID. A claimant may have
// several sessions; registering the same session again replaces it.
func (r *Registry) Register(claimantID, sessionID string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.listeners[claimantID]
	if !ok {
		sessions = make(map[string]Listener)
		r.listeners[claimantID] = sessions
	}
	sessions[sessionID] = l
}

func (r *Registry) Unregister(claimantID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.listeners[claimantID]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.listeners, claimantID)
	}
}

func (r *Registry) Online(claimantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[claimantID]) > 0
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Deliver hands event to every session of its claimant and reports how many
// accepted it. Offline claimants are skipped silently.
func (r *Registry) Deliver(event model.Event) (int, error) {
	r.mu.RLock()
	targets := make([]Listener, 0, len(r.listeners[event.ClaimantID]))
	for _, l := range r.listeners[event.ClaimantID] {
		targets = append(targets, l)
	}
	r.mu.RUnlock()

	delivered := 0
	var firstErr error
	for _, l := range targets {
		if err := l.Deliver(event); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}
	return delivered, firstErr
}

// Sink exposes the registry as a notification sink for in-process delivery.
func (r *Registry) Sink() Sink {
	return SinkFunc(func(_ context.Context, event model.Event) error {
		_, err := r.Deliver(event)
		return err
	})
}
