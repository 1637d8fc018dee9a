package session

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the process-wide id → Session table. Transports, the
// heartbeat scheduler and a session's own close timer hold *Session
// pointers directly rather than looking the id up here; an expired timer
// for an already-removed session is still a harmless no-op because
// finalization is idempotent and Heartbeat ignores non-Connected
// sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create allocates a fresh Session with a cryptographically random id
// and inserts it into the registry. Collisions are retried; with 122
// random bits per id the probability is negligible but the spec calls
// for the retry loop regardless.
func (r *Registry) Create(kind Kind, remoteAddress string, heartbeatTimeout, closeTimeout int, listener Listener, scheduler Scheduler) (*Session, error) {
	for attempt := 0; attempt < 8; attempt++ {
		id, err := newSessionID()
		if err != nil {
			return nil, fmt.Errorf("session: generate id: %w", err)
		}

		r.mu.Lock()
		if _, exists := r.sessions[id]; exists {
			r.mu.Unlock()
			continue
		}
		s := New(id, kind, remoteAddress,
			time.Duration(heartbeatTimeout)*time.Second, time.Duration(closeTimeout)*time.Second,
			listener, scheduler, r.remove)
		r.sessions[id] = s
		r.mu.Unlock()
		return s, nil
	}
	return nil, fmt.Errorf("session: id space exhausted after retries")
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes id from the table. It is idempotent.
func (r *Registry) Remove(id string) {
	r.remove(id)
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of sessions currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for every currently registered session. fn must not
// mutate the registry.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		fn(s)
	}
}

// newSessionID produces a ≥16-hex-char opaque identifier. A version-4
// uuid.UUID is 16 bytes, 122 bits of them cryptographically random (the
// rest are fixed version and variant bits); hex-encoding it directly
// (rather than uuid.String(), which inserts dashes) yields exactly 32
// lowercase hex characters, comfortably satisfying the wire contract.
func newSessionID() (string, error) {
	id, err := uuid.NewRandomFromReader(rand.Reader)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", id[:]), nil
}
