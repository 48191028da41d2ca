// Package session owns one match from supervisor request to final result:
// it waits for both bots, launches the engine, runs the two protocol bridges
// and the step scheduler, and tears everything down on every exit path.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"arenaclient/applog"
	"arenaclient/bridge"
	"arenaclient/engine"
	"arenaclient/portpool"
	"arenaclient/sc2"
	"arenaclient/transport"
	"arenaclient/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StateAwaitingPlayers
	StateLaunching
	StateInProgress
	StateEnding
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingPlayers:
		return "AwaitingPlayers"
	case StateLaunching:
		return "Launching"
	case StateInProgress:
		return "InProgress"
	case StateEnding:
		return "Ending"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Deps is the server-side wiring shared by all sessions.
type Deps struct {
	Launcher engine.Launcher
	Ports    *portpool.Pool
	// WorkRoot holds per-session working directories.
	WorkRoot string
	// PlayerConnectTimeout bounds AwaitingPlayers (default 60s).
	PlayerConnectTimeout time.Duration
	// EndingGrace is the engine terminate grace window (default 5s).
	EndingGrace time.Duration
	// Recorder, when set, captures relayed traffic for both bots.
	Recorder bridge.TrafficRecorder
}

const (
	defaultConnectTimeout = 60 * time.Second
	defaultEndingGrace    = 5 * time.Second
	replaySaveTimeout     = 15 * time.Second
)

// Session is one match instance. Created by the coordinator, driven by Run.
type Session struct {
	ID      string
	Config  MatchConfig
	deps    Deps
	port    int
	workDir string

	state atomic.Int32

	mu       sync.Mutex
	bots     [2]transport.Conn
	attached chan struct{}

	abortOnce sync.Once
	abortCh   chan struct{}
	doneCh    chan struct{}
}

// New allocates the session's engine port up front; allocation failure is a
// rejection, not a played match.
func New(cfg MatchConfig, deps Deps) (*Session, error) {
	port, err := deps.Ports.Allocate()
	if err != nil {
		return nil, fmt.Errorf("could not allocate engine port: %w", err)
	}

	id := uuid.NewString()
	return &Session{
		ID:       id,
		Config:   cfg,
		deps:     deps,
		port:     port,
		workDir:  filepath.Join(deps.WorkRoot, "session_"+id),
		attached: make(chan struct{}, 2),
		abortCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Port is the engine port held by this session.
func (s *Session) Port() int {
	return s.port
}

// AttachBot binds a bot connection to its player slot: by configured name
// when it matches, otherwise to the first free slot. Returns the slot taken.
func (s *Session) AttachBot(name string, conn transport.Conn) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1
	switch {
	case name == s.Config.Player1 && s.bots[0] == nil:
		slot = 0
	case name == s.Config.Player2 && s.bots[1] == nil:
		slot = 1
	default:
		for i := range s.bots {
			if s.bots[i] == nil {
				slot = i
				break
			}
		}
	}
	if slot < 0 {
		return -1, ErrSlotsFull
	}

	s.bots[slot] = conn
	s.attached <- struct{}{}
	return slot, nil
}

// WantsPlayer reports whether this session is waiting for the named player,
// or for anyone if the name is unknown.
func (s *Session) WantsPlayer(name string) bool {
	if s.State() != StateAwaitingPlayers {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == s.Config.Player1 {
		return s.bots[0] == nil
	}
	if name == s.Config.Player2 {
		return s.bots[1] == nil
	}
	return s.bots[0] == nil || s.bots[1] == nil
}

// Done is closed once Run has finished and the result exists.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Abort requests termination on behalf of the supervisor.
func (s *Session) Abort() {
	s.abortOnce.Do(func() { close(s.abortCh) })
}

// Run drives the session to completion and returns its single MatchResult.
func (s *Session) Run(ctx context.Context) MatchResult {
	ctx = applog.AddContextFields(ctx,
		zap.String("session", s.ID),
		zap.Int64("matchId", s.Config.MatchID))

	res := s.play(ctx)
	defer close(s.doneCh)

	s.mu.Lock()
	for i, c := range s.bots {
		if c != nil {
			_ = c.Close()
			s.bots[i] = nil
		}
	}
	s.mu.Unlock()

	if s.State() != StateFailed {
		s.setState(StateClosed)
	}

	applog.FromContext(ctx).Info("Session finished",
		zap.String("outcome", res.Outcome.String()),
		zap.String("reason", res.Reason.String()),
		zap.Uint32("steps", res.Steps),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

func (s *Session) play(ctx context.Context) MatchResult {
	defer s.deps.Ports.Release(s.port)

	logger := applog.FromContext(ctx)

	s.setState(StateAwaitingPlayers)
	if err := s.awaitPlayers(ctx); err != nil {
		logger.Warn("Session failed before launch", zap.Error(err))
		if err == ErrAborted {
			return s.fail(ReasonAborted, "")
		}
		return s.fail(ReasonPlayerConnectTimeout, s.missingPlayer())
	}

	s.setState(StateLaunching)
	inst, err := s.deps.Launcher.Launch(ctx, s.port, s.workDir)
	if err != nil {
		logger.Error("Engine launch failed", zap.Error(err))
		return s.fail(ReasonEngineLaunchFailed, "")
	}
	defer func() {
		_ = inst.Terminate(s.endingGrace())
	}()

	var engineConns [2]transport.Conn
	for i := range engineConns {
		conn, err := inst.Connect(ctx)
		if err != nil {
			logger.Error("Could not reach engine endpoint", zap.Error(err))
			return s.fail(ReasonEngineLaunchFailed, "")
		}
		engineConns[i] = conn
	}

	s.setState(StateInProgress)
	logger.Info("Match in progress",
		zap.String("map", s.Config.Map),
		zap.String("player1", s.Config.Player1),
		zap.String("player2", s.Config.Player2),
		zap.Int("port", s.port))

	start := time.Now()
	events := make(chan bridge.Event, 64)
	bctx, bcancel := context.WithCancel(ctx)
	defer bcancel()

	var bridges [2]*bridge.Bridge
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		bridges[i] = bridge.New(bridge.Config{
			Slot:         i,
			Player:       s.Config.PlayerName(i),
			DisableDebug: s.Config.DisableDebug,
			MaxFrameTime: s.Config.MaxFrameTime(),
			RealTime:     s.Config.RealTime,
			Recorder:     s.deps.Recorder,
		}, s.bot(i), engineConns[i], events)

		wg.Add(1)
		go func(b *bridge.Bridge) {
			defer wg.Done()
			b.Run(bctx)
		}(bridges[i])
	}

	sched := newScheduler(s.Config, events)
	dec := s.awaitDecision(ctx, sched, events, inst)

	s.setState(StateEnding)
	bcancel()
	wg.Wait()

	steps := sched.maxLoop
	for _, b := range bridges {
		if loop := b.GameLoop(); loop > steps {
			steps = loop
		}
	}

	replayPath := s.saveReplay(ctx, bridges[0], inst)

	// Ask the engine to quit on its own before the hard terminate below.
	if inst.Alive() {
		qctx, qcancel := context.WithTimeout(context.Background(), time.Second)
		_ = engineConns[0].Write(qctx, transport.Binary(sc2.BuildQuitRequest()))
		qcancel()
	}

	res := MatchResult{
		MatchID:    s.Config.MatchID,
		Outcome:    dec.outcome,
		Reason:     dec.reason,
		Steps:      steps,
		Elapsed:    time.Since(start),
		ReplayPath: replayPath,
		Strikes:    sched.strikes,
	}
	if dec.loserSlot >= 0 {
		res.Loser = s.Config.PlayerName(dec.loserSlot)
	}
	for i, b := range bridges {
		res.AvgFrameTime[i] = b.AvgFrameTime()
	}
	return res
}

func (s *Session) awaitDecision(ctx context.Context, sched *scheduler, events <-chan bridge.Event, inst engine.Instance) decision {
	logger := applog.FromContext(ctx)

	for {
		select {
		case ev := <-events:
			if ev.Type == bridge.EventDecodeError {
				logger.Warn("Bot sent a malformed frame",
					zap.Int("slot", ev.Slot), zap.Error(ev.Err))
			}
			if dec, done := sched.handle(ev); done {
				return dec
			}
		case <-inst.Done():
			// A quit or disconnect relayed just before the process exited
			// explains the exit better than a crash report; take any queued
			// events first.
			for {
				select {
				case ev := <-events:
					if dec, done := sched.handle(ev); done {
						return dec
					}
					continue
				default:
				}
				break
			}
			logger.Error("Engine process exited unexpectedly", zap.Error(inst.ExitErr()))
			return decision{outcome: OutcomeCrash, reason: ReasonEngineCrash, loserSlot: -1}
		case <-s.abortCh:
			logger.Info("Session aborted by supervisor")
			return decision{outcome: OutcomeError, reason: ReasonAborted, loserSlot: -1}
		case <-ctx.Done():
			return decision{outcome: OutcomeError, reason: ReasonAborted, loserSlot: -1}
		}
	}
}

func (s *Session) awaitPlayers(ctx context.Context) error {
	timeout := s.deps.PlayerConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for !s.bothAttached() {
		select {
		case <-s.attached:
		case <-timer.C:
			return ErrPlayerConnectTimeout
		case <-s.abortCh:
			return ErrAborted
		case <-ctx.Done():
			return ErrAborted
		}
	}
	return nil
}

func (s *Session) bothAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bots[0] != nil && s.bots[1] != nil
}

func (s *Session) bot(slot int) transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bots[slot]
}

func (s *Session) missingPlayer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bots[0] == nil {
		return s.Config.Player1
	}
	if s.bots[1] == nil {
		return s.Config.Player2
	}
	return ""
}

func (s *Session) fail(reason Reason, loser string) MatchResult {
	s.setState(StateFailed)
	return MatchResult{
		MatchID: s.Config.MatchID,
		Outcome: OutcomeError,
		Reason:  reason,
		Loser:   loser,
	}
}

func (s *Session) endingGrace() time.Duration {
	if s.deps.EndingGrace > 0 {
		return s.deps.EndingGrace
	}
	return defaultEndingGrace
}

// saveReplay asks the engine for the replay and writes it, preferring the
// requested path and falling back into the session work dir. Best effort.
func (s *Session) saveReplay(ctx context.Context, b *bridge.Bridge, inst engine.Instance) string {
	if s.Config.ReplayPath == "" || !inst.Alive() {
		return ""
	}

	logger := applog.FromContext(ctx)

	// The session context may already be canceled on abort paths; the
	// retrieval runs on a grace context that outlives the parent just long
	// enough to finish.
	job := util.DelayedCancelContextWithJob(ctx, replaySaveTimeout)
	defer job.Done()
	rctx, cancel := context.WithTimeout(job.GetContext(), replaySaveTimeout)
	defer cancel()

	data, err := b.SaveReplay(rctx)
	if err != nil {
		logger.Warn("Could not retrieve replay", zap.Error(err))
		return ""
	}

	path := s.Config.ReplayPath
	if err := writeReplay(path, data); err != nil {
		logger.Warn("Could not write replay to requested path",
			zap.String("path", path), zap.Error(err))

		path = filepath.Join(s.workDir, filepath.Base(s.Config.ReplayPath))
		if err := writeReplay(path, data); err != nil {
			logger.Warn("Could not write replay fallback", zap.Error(err))
			return ""
		}
	}

	logger.Info("Replay saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return path
}

func writeReplay(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
