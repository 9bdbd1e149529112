// Package server tracks connected participants in the Registry, the
// authoritative set the Router fans broadcasts out to.
package server

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Participant is the view the Registry and Router have of a session: an
// identity and an outbound-write capability. Sessions own the connection;
// the Registry only references them.
type Participant interface {
	ID() uint64
	Name() string
	SendLine(text string)
}

// Registry is the set of currently-connected participants keyed by session id.
// All methods are safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	participants map[uint64]Participant
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[uint64]Participant),
	}
}

// Register adds p. Registering the same id twice keeps the first entry.
func (r *Registry) Register(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[p.ID()]; exists {
		return
	}
	r.participants[p.ID()] = p
}

// Unregister removes p if present.
func (r *Registry) Unregister(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.participants, p.ID())
}

// Snapshot returns a point-in-time copy of the registered participants,
// ordered by id. The copy is safe to iterate while the set keeps changing.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	participants := lo.Values(r.participants)
	r.mu.RUnlock()

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ID() < participants[j].ID()
	})
	return participants
}

// Contains reports whether a participant with id is registered.
func (r *Registry) Contains(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.participants[id]
	return ok
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}
