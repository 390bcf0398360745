package api

import (
	"context"
	"sync"
	"time"

	"mf-loan-eligibility/internal/common/logger"
	"mf-loan-eligibility/internal/common/metrics"
	"mf-loan-eligibility/internal/eligibility/flow"

	"github.com/google/uuid"
)

// ControllerFactory builds the controller for a new session.
type ControllerFactory func(sessionID string) *flow.Controller

type sessionEntry struct {
	ctrl     *flow.Controller
	lastSeen time.Time
}

// SessionStore keeps one flow.Controller per live session and evicts
// sessions idle for longer than idleTimeout.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*sessionEntry
	factory     ControllerFactory
	idleTimeout time.Duration
	now         func() time.Time
	log         logger.Logger
}

func NewSessionStore(factory ControllerFactory, idleTimeout time.Duration, log logger.Logger) *SessionStore {
	return &SessionStore{
		sessions:    make(map[string]*sessionEntry),
		factory:     factory,
		idleTimeout: idleTimeout,
		now:         time.Now,
		log:         log.Named("sessions"),
	}
}

// Create starts a new session and returns its id.
func (s *SessionStore) Create() (string, *flow.Controller) {
	id := uuid.NewString()
	ctrl := s.factory(id)

	s.mu.Lock()
	s.sessions[id] = &sessionEntry{ctrl: ctrl, lastSeen: s.now()}
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	s.log.Debug("session created", map[string]interface{}{"sessionId": id})
	return id, ctrl
}

// Get returns the session's controller and marks it as recently used.
func (s *SessionStore) Get(id string) (*flow.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = s.now()
	return entry.ctrl, true
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictIdle drops every session idle past the timeout, cancelling any call
// still in flight for it, and returns how many were dropped.
func (s *SessionStore) EvictIdle() int {
	cutoff := s.now().Add(-s.idleTimeout)

	s.mu.Lock()
	var evicted []*flow.Controller
	for id, entry := range s.sessions {
		if entry.lastSeen.Before(cutoff) {
			evicted = append(evicted, entry.ctrl)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, ctrl := range evicted {
		ctrl.Restart(context.Background())
	}
	metrics.ActiveSessions.Set(float64(count))
	if len(evicted) > 0 {
		s.log.Info("idle sessions evicted", map[string]interface{}{
			"evicted":   len(evicted),
			"remaining": count,
		})
	}
	return len(evicted)
}

// Run evicts idle sessions every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}
