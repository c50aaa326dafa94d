package bus

import "sync"

// Registry maps job ids to event callbacks: at most one callback per event
// kind per job id. Entries are owned by the HTTP request that registered
// them and must be removed on terminal events or client disconnect.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]map[Kind]Handler
}

// NewRegistry creates an empty listener registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]map[Kind]Handler)}
}

// Add registers a callback for the given job id and event kind, replacing
// any previous callback for the same pair.
func (r *Registry) Add(jobID string, kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.listeners[jobID]
	if !ok {
		m = make(map[Kind]Handler)
		r.listeners[jobID] = m
	}
	m[kind] = h
}

// Remove unregisters the callback for the given job id and event kind.
// Removal is a no-op if no callback is registered.
func (r *Registry) Remove(jobID string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.listeners[jobID]; ok {
		delete(m, kind)
		if len(m) == 0 {
			delete(r.listeners, jobID)
		}
	}
}

// RemoveJob unregisters every callback for the given job id.
func (r *Registry) RemoveJob(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.listeners, jobID)
}

// Has reports whether any callback is registered for the given job id.
func (r *Registry) Has(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.listeners[jobID]) > 0
}

// Dispatch invokes the callback matching the event's job id and kind, if one
// is registered. Events without a listener are dropped.
func (r *Registry) Dispatch(e Event) {
	r.mu.RLock()
	h := r.listeners[e.JobID][e.Kind]
	r.mu.RUnlock()

	if h != nil {
		h(e)
	}
}
