// Package coordinator bounds how many matches run at once and tracks the
// live sessions. It is the single owner of cross-session state: the registry
// here and the port pool inside session.Deps are the only things shared
// between matches.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arenaclient/applog"
	"arenaclient/metrics"
	"arenaclient/session"

	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("coordinator: match queue is full")

type Config struct {
	// MaxConcurrent bounds sessions in Launching/InProgress (default 1).
	MaxConcurrent int
	// MaxQueued bounds requests waiting for a slot; more are rejected
	// immediately. Zero means no queue, negative picks the default (8).
	MaxQueued int
}

const (
	defaultMaxConcurrent = 1
	defaultMaxQueued     = 8
)

type Coordinator struct {
	deps session.Deps

	// admission holds one token per queued-or-running match, slots one per
	// running match. Blocked slot waiters are served in arrival order.
	admission chan struct{}
	slots     chan struct{}

	mu       sync.Mutex
	sessions map[string]*session.Session

	wg sync.WaitGroup
}

func New(cfg Config, deps session.Deps) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxQueued < 0 {
		cfg.MaxQueued = defaultMaxQueued
	}

	return &Coordinator{
		deps:      deps,
		admission: make(chan struct{}, cfg.MaxConcurrent+cfg.MaxQueued),
		slots:     make(chan struct{}, cfg.MaxConcurrent),
		sessions:  make(map[string]*session.Session),
	}
}

// StartMatch queues the request, waits for a free launch slot and starts the
// session in the background. The returned channel delivers the session's
// single MatchResult. A full queue or failed port allocation is returned as
// an error, never as a played match.
func (c *Coordinator) StartMatch(ctx context.Context, cfg session.MatchConfig) (*session.Session, <-chan session.MatchResult, error) {
	select {
	case c.admission <- struct{}{}:
	default:
		return nil, nil, ErrQueueFull
	}

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		<-c.admission
		return nil, nil, fmt.Errorf("waiting for a launch slot: %w", ctx.Err())
	}

	sess, err := session.New(cfg, c.deps)
	if err != nil {
		<-c.slots
		<-c.admission
		return nil, nil, err
	}

	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()
	metrics.MatchesStarted.Inc()
	metrics.ActiveSessions.Inc()

	applog.FromContext(ctx).Info("Match admitted",
		zap.String("session", sess.ID),
		zap.Int64("matchId", cfg.MatchID),
		zap.Int("active", c.Active()))

	results := make(chan session.MatchResult, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.sessions, sess.ID)
			c.mu.Unlock()
			metrics.ActiveSessions.Dec()
			<-c.slots
			<-c.admission
		}()

		res := sess.Run(ctx)
		metrics.MatchesCompleted.WithLabelValues(res.Outcome.String(), res.Reason.String()).Inc()
		metrics.MatchDuration.Observe(res.Elapsed.Seconds())
		results <- res
	}()

	return sess, results, nil
}

// FindAwaiting returns a session waiting for the named player, preferring an
// exact slot-name match over any session with a free slot.
func (c *Coordinator) FindAwaiting(playerName string) *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fallback *session.Session
	for _, s := range c.sessions {
		if !s.WantsPlayer(playerName) {
			continue
		}
		if playerName == s.Config.Player1 || playerName == s.Config.Player2 {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	return fallback
}

// Active is the number of registered sessions.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// AbortAll asks every live session to terminate.
func (c *Coordinator) AbortAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		s.Abort()
	}
}

// Drain waits for all running sessions to finish, bounded by the context.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining sessions: %w", ctx.Err())
	}
}

// DrainTimeout is a convenience for shutdown paths.
func (c *Coordinator) DrainTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Drain(ctx)
}
