package realtime

import (
	"sync"
	"time"

	"clinicops/pkg/logger"

	"github.com/google/uuid"
)

const (
	sessionIdleTTL       = 30 * time.Minute
	sessionSweepInterval = 5 * time.Minute
)

// Session is one ephemeral client identity. Tokens are minted
// server-side and opaque; a client cannot fabricate a token that owns
// another client's holds.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	lastSeen  time.Time
	streams   int
}

// Registry tracks live sessions. Sessions that neither connect nor act
// within the idle TTL are swept out by a janitor goroutine.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *logger.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		log:      log,
		stop:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Mint creates a session with a fresh opaque token.
func (r *Registry) Mint() *Session {
	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		lastSeen:  now,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	return session
}

// Valid reports whether the token names a live session, refreshing its
// idle clock on success.
func (r *Registry) Valid(id string) bool {
	if id == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return false
	}
	session.lastSeen = time.Now().UTC()
	return true
}

// StreamOpened records one more open watch stream for the session.
func (r *Registry) StreamOpened(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok {
		session.streams++
		session.lastSeen = time.Now().UTC()
	}
}

// StreamClosed records a stream closing and reports whether it was the
// session's last one. A session can watch several rooms at once; its
// holds are only reclaimed when the final stream drops.
func (r *Registry) StreamClosed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return true
	}
	if session.streams > 0 {
		session.streams--
	}
	session.lastSeen = time.Now().UTC()
	return session.streams == 0
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-sessionIdleTTL)
			r.mu.Lock()
			for id, session := range r.sessions {
				if session.lastSeen.Before(cutoff) {
					delete(r.sessions, id)
				}
			}
			r.mu.Unlock()
		}
	}
}
