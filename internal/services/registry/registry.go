package registry

import (
	"sort"
	"sync"

	"frame-grabber-go/internal/models"
)

// Registry is the set of clients subscribed to per-frame notifications.
// The dispatcher adds and removes on request; the acquisition loop removes
// members whose notification send failed.
type Registry struct {
	mu      sync.RWMutex
	members map[string]models.Client
}

func New() *Registry {
	return &Registry{members: make(map[string]models.Client)}
}

// Add registers c and reports whether it was newly added.
func (r *Registry) Add(c models.Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[c.ID()]; ok {
		return false
	}
	r.members[c.ID()] = c
	return true
}

// Remove unregisters c and reports whether it was a member.
func (r *Registry) Remove(c models.Client) bool {
	return r.RemoveID(c.ID())
}

func (r *Registry) RemoveID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot copies the members, ordered by id, so callers can iterate and send
// without holding the lock.
func (r *Registry) Snapshot() []models.Client {
	r.mu.RLock()
	out := make([]models.Client, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Broadcast sends line to every member of a snapshot and drops those that fail.
// It returns how many sends succeeded and how many members were removed.
func (r *Registry) Broadcast(line string) (sent, removed int) {
	for _, c := range r.Snapshot() {
		if err := c.Send(line); err != nil {
			if r.Remove(c) {
				removed++
			}
			continue
		}
		sent++
	}
	return sent, removed
}
