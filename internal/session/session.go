// Package session keeps one route controller and map surface per browser
// session and reaps sessions that have gone idle.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"routeview/core-go/internal/controller"
	"routeview/core-go/internal/mapsurface"
	"routeview/core-go/internal/metrics"
)

var ErrNotFound = errors.New("session not found")

// NewControllerFunc builds the controller that draws on surface.
type NewControllerFunc func(surface mapsurface.Surface) *controller.Controller

type Session struct {
	ID         string
	Controller *controller.Controller
	Surface    *mapsurface.Memory
	CreatedAt  time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

type Options struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

type Registry struct {
	log           zerolog.Logger
	newController NewControllerFunc
	metrics       *metrics.Metrics
	idleTTL       time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(log zerolog.Logger, newController NewControllerFunc, m *metrics.Metrics, opts Options) *Registry {
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		log:           log,
		newController: newController,
		metrics:       m,
		idleTTL:       ttl,
		sweepInterval: interval,
		now:           now,
		sessions:      make(map[string]*Session),
	}
}

func (r *Registry) Create() *Session {
	surface := mapsurface.NewMemory()
	now := r.now()
	s := &Session{
		ID:         uuid.NewString(),
		Controller: r.newController(surface),
		Surface:    surface,
		CreatedAt:  now,
		lastSeen:   now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(n)
	r.log.Debug().Str("session_id", s.ID).Msg("session created")
	return s
}

// Get returns the session and marks it as recently used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(r.now())
	return s, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Controller.Close()
	r.metrics.SetActiveSessions(n)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many went.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.Controller.Close()
	}
	if len(expired) > 0 {
		r.metrics.SetActiveSessions(n)
		r.log.Info().Int("expired", len(expired)).Int("active", n).Msg("idle sessions swept")
	}
	return len(expired)
}

func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
