package draft

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Composer owns the live draft sessions. Abandoned drafts are swept after an
// idle TTL; nothing unsubmitted survives a restart.
type Composer struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	balances BalanceReader
	charts   ChartNotifier
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewComposer builds a session manager. A non-positive TTL defaults to an
// hour of idle time.
func NewComposer(balances BalanceReader, charts ChartNotifier, ttl time.Duration, logger *slog.Logger) *Composer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		sessions: make(map[uuid.UUID]*Session),
		balances: balances,
		charts:   charts,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens an empty draft session.
func (c *Composer) Create() *Session {
	session := newSession(c.balances, c.charts, c.now)
	c.mu.Lock()
	c.sessions[session.ID()] = session
	c.mu.Unlock()
	return session
}

// Get resolves a session by id.
func (c *Composer) Get(id uuid.UUID) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[id]
	return session, ok
}

// Remove drops a session, e.g. when the client abandons the wizard.
func (c *Composer) Remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Len reports the number of live sessions.
func (c *Composer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Run sweeps idle sessions until the context is cancelled.
func (c *Composer) Run(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("composer not configured")
	}
	interval := c.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Composer) sweep() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, session := range c.sessions {
		if session.LastUpdated().Before(cutoff) {
			delete(c.sessions, id)
			c.logger.Debug("expired idle draft session", "session", id.String())
		}
	}
}
