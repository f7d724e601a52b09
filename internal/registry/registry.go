// Package registry creates, indexes, and removes PTY sessions, enforces
// the max-sessions cap, and runs a periodic reaper that removes idle or
// dead sessions.
package registry

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ianremillard/ptybridge/internal/ptyerr"
	"github.com/ianremillard/ptybridge/internal/session"
)

const idLength = 12

// Registry holds the set of live sessions for one process.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*session.Session
	maxSessions int
	logDir      string
	logger      *zap.Logger

	shutdownOnce sync.Once
	reaperStop   chan struct{}
	reaperDone   chan struct{}
}

// New constructs a Registry and starts its reaper goroutine.
func New(maxSessions int, logDir string, logger *zap.Logger) *Registry {
	r := &Registry{
		sessions:    make(map[string]*session.Session),
		maxSessions: maxSessions,
		logDir:      logDir,
		logger:      logger,
		reaperStop:  make(chan struct{}),
		reaperDone:  make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// Create allocates a fresh session id, starts a Session, and indexes it.
// It fails with a CapacityError if the registry is already at capacity.
func (r *Registry) Create(cfg session.Config) (*session.Session, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return nil, ptyerr.New(ptyerr.Capacity, "create", fmt.Errorf("Maximum sessions (%d) reached", r.maxSessions))
	}
	id := r.nextIDLocked()
	r.mu.Unlock()

	logPath := ""
	if r.logDir != "" {
		logPath = filepath.Join(r.logDir, fmt.Sprintf("pty_%s_%s.log", filepath.Base(cfg.Command), id))
	}

	sess := session.New(id, cfg, logPath, r.logger)
	if err := sess.Start(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("session started", zap.String("session", id), zap.String("command", cfg.Command))
	}
	return sess, nil
}

// Get looks up a session by id. It never blocks on session I/O.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove stops and drops the session with the given id, returning whether
// a session was actually present. Removing an already-removed id is a
// no-op that returns false.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	_ = sess.Stop()
	return true
}

// List returns a snapshot of every live session's info. Order is
// unspecified.
func (r *Registry) List() []session.Info {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Len reports the number of currently indexed sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// nextIDLocked must be called with r.mu held. It generates a fresh 12-hex
// character id, regenerating on the vanishingly unlikely collision.
func (r *Registry) nextIDLocked() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
		if _, exists := r.sessions[id]; !exists {
			return id
		}
	}
}

// reapLoop wakes once per minute and reaps idle or dead sessions.
func (r *Registry) reapLoop() {
	defer close(r.reaperDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.reaperStop:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	r.mu.Lock()
	candidates := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.Unlock()

	for _, s := range candidates {
		if time.Since(s.LastActivity()) > s.IdleTimeout() {
			r.Remove(s.ID)
			if r.logger != nil {
				r.logger.Info("reaped idle session", zap.String("session", s.ID))
			}
			continue
		}
		if !s.IsAlive() {
			r.Remove(s.ID)
			if r.logger != nil {
				r.logger.Info("reaped dead session", zap.String("session", s.ID))
			}
		}
	}
}

// Shutdown cancels the reaper and stops every remaining session. It is
// idempotent.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		close(r.reaperStop)
		<-r.reaperDone

		r.mu.Lock()
		sessions := make([]*session.Session, 0, len(r.sessions))
		for id, s := range r.sessions {
			sessions = append(sessions, s)
			delete(r.sessions, id)
		}
		r.mu.Unlock()

		for _, s := range sessions {
			_ = s.Stop()
		}
	})
}
