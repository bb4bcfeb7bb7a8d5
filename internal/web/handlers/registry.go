package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/constants"
)

type registryEntry struct {
	session *checkin.Session
	cancel  context.CancelFunc
}

// SessionRegistry keeps web capture sessions in memory and expires idle ones.
type SessionRegistry struct {
	sessions map[string]*registryEntry
	mu       sync.RWMutex
	idle     time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionRegistry creates a registry and starts its cleanup goroutine.
func NewSessionRegistry(idle time.Duration) *SessionRegistry {
	if idle <= 0 {
		idle = constants.DefaultSessionIdleTimeout
	}
	r := &SessionRegistry{
		sessions: make(map[string]*registryEntry),
		idle:     idle,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Start runs the session in the background and registers it.
func (r *SessionRegistry) Start(sess *checkin.Session) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.sessions[sess.ID] = &registryEntry{session: sess, cancel: cancel}
	r.mu.Unlock()

	go func() {
		err := sess.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).WithField("session", sess.ID).Warn("Capture session ended with error")
		}
	}()
}

// Get retrieves a session by ID.
func (r *SessionRegistry) Get(id string) *checkin.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.session
	}
	return nil
}

// Remove stops and forgets a session.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Expire removes sessions idle for longer than the idle timeout and returns
// how many were removed.
func (r *SessionRegistry) Expire() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var expired []*registryEntry
	for id, e := range r.sessions {
		if e.session.Status().LastActive.Before(cutoff) {
			expired = append(expired, e)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.cancel()
		log.WithField("session", e.session.ID).Debug("Expired idle capture session")
	}
	return len(expired)
}

// Stop ends the cleanup goroutine and cancels every session.
func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)

		r.mu.Lock()
		defer r.mu.Unlock()
		for id, e := range r.sessions {
			e.cancel()
			delete(r.sessions, id)
		}
	})
}

func (r *SessionRegistry) cleanupLoop() {
	ticker := time.NewTicker(constants.SessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Expire()
		case <-r.stop:
			return
		}
	}
}
