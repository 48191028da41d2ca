// Package bridge relays control-protocol frames between one bot connection
// and the engine endpoint of its match. The bridge is a relay plus filter:
// it blocks debug requests when the match forbids them, converts malformed
// frames into local errors, and taps step/game-over information for the
// session's scheduler. It never interprets game semantics beyond that.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arenaclient/applog"
	"arenaclient/sc2"
	"arenaclient/transport"

	"go.uber.org/zap"
)

type EventType int

const (
	// EventStep: an observation response passed through; GameLoop is the
	// engine's step counter.
	EventStep EventType = iota
	// EventBudgetExceeded: the bot took longer than its per-step budget.
	EventBudgetExceeded
	// EventGameOver: the engine reported player results.
	EventGameOver
	// EventBotQuit: the bot asked to quit or leave the game.
	EventBotQuit
	EventBotDisconnected
	EventEngineClosed
	// EventDecodeError: one malformed frame, recovered locally.
	EventDecodeError
)

func (t EventType) String() string {
	switch t {
	case EventStep:
		return "step"
	case EventBudgetExceeded:
		return "budget_exceeded"
	case EventGameOver:
		return "game_over"
	case EventBotQuit:
		return "bot_quit"
	case EventBotDisconnected:
		return "bot_disconnected"
	case EventEngineClosed:
		return "engine_closed"
	case EventDecodeError:
		return "decode_error"
	default:
		return fmt.Sprintf("event_%d", int(t))
	}
}

type Event struct {
	Slot     int
	Type     EventType
	GameLoop uint32
	Results  []sc2.PlayerResult
	Elapsed  time.Duration
	Err      error
}

// TrafficRecorder captures relayed frames; wired to the per-session capture
// file when enabled.
type TrafficRecorder interface {
	Record(player string, toEngine bool, frame []byte)
}

// Decode failures are tolerated a few times before the exchange is treated
// as a lost bot.
const decodeErrorTolerance = 3

type Config struct {
	Slot         int
	Player       string
	DisableDebug bool
	// MaxFrameTime bounds the bot's think time per step once the game is in
	// progress. Zero disables the budget.
	MaxFrameTime time.Duration
	// RealTime disables the no-op step injection; the engine advances on
	// its own clock and a late bot simply misses the tick.
	RealTime bool
	Recorder TrafficRecorder
}

type Bridge struct {
	cfg    Config
	bot    transport.Conn
	engine transport.Conn
	events chan<- Event

	mu         sync.Mutex
	inGame     bool
	gameLoop   uint32
	frames     int
	totalThink time.Duration
	decodeErrs int
}

func New(cfg Config, bot transport.Conn, engineConn transport.Conn, events chan<- Event) *Bridge {
	return &Bridge{
		cfg:    cfg,
		bot:    bot,
		engine: engineConn,
		events: events,
	}
}

// Run relays exchanges until the match ends, a peer is lost or the context
// is canceled. All exits are reported through the event channel; Run itself
// never returns an error the session must interpret.
func (b *Bridge) Run(ctx context.Context) {
	logger := applog.FromContext(ctx).With(
		zap.Int("slot", b.cfg.Slot),
		zap.String("player", b.cfg.Player))

	for {
		msg, thinkTime, err := b.readBotRequest(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, context.DeadlineExceeded):
				b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventBudgetExceeded, Elapsed: b.cfg.MaxFrameTime})
				if b.stepInPlaceOfBot(ctx, logger) {
					continue
				}
				return
			default:
				logger.Warn("Bot connection lost", zap.Error(err))
				b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventBotDisconnected, Err: err})
				return
			}
		}

		if msg.Kind != transport.KindBinary {
			logger.Warn("Ignoring non-binary frame from bot")
			continue
		}

		b.noteThinkTime(thinkTime)

		info, err := sc2.SniffRequest(msg.Data)
		if err != nil {
			if !b.handleDecodeError(ctx, logger, err) {
				return
			}
			continue
		}

		if b.cfg.DisableDebug && info.IsDebug() {
			logger.Debug("Rejecting debug request")
			reject := sc2.BuildErrorResponse(info, "Proxy: Request denied")
			if writeErr := b.bot.Write(ctx, transport.Binary(reject)); writeErr != nil {
				b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventBotDisconnected, Err: writeErr})
				return
			}
			continue
		}

		quitting := info.Type == sc2.RequestQuit || info.Type == sc2.RequestLeaveGame

		if b.cfg.Recorder != nil {
			b.cfg.Recorder.Record(b.cfg.Player, true, msg.Data)
		}

		if err := b.engine.Write(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventEngineClosed, Err: err})
			return
		}

		resp, err := b.engine.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventEngineClosed, Err: err})
			return
		}

		if b.cfg.Recorder != nil {
			b.cfg.Recorder.Record(b.cfg.Player, false, resp.Data)
		}

		if err := b.bot.Write(ctx, resp); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventBotDisconnected, Err: err})
			return
		}

		if quitting {
			logger.Info("Bot left the game", zap.String("request", sc2.TypeName(info.Type)))
			b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventBotQuit, GameLoop: b.GameLoop()})
			return
		}

		if done := b.tapResponse(ctx, logger, resp.Data); done {
			return
		}
	}
}

// readBotRequest waits for the bot's next frame, bounded by the per-step
// budget once the game is in progress.
func (b *Bridge) readBotRequest(ctx context.Context) (transport.Message, time.Duration, error) {
	readCtx := ctx
	if b.budgetActive() {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, b.cfg.MaxFrameTime)
		defer cancel()
	}

	start := time.Now()
	msg, err := b.bot.Read(readCtx)
	return msg, time.Since(start), err
}

func (b *Bridge) budgetActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inGame && b.cfg.MaxFrameTime > 0
}

// stepInPlaceOfBot advances the engine with a no-op step for a bot that blew
// its budget, so the opponent's match is not held hostage. Real-time games
// advance on their own, so nothing is injected there. Returns false when the
// engine is gone.
func (b *Bridge) stepInPlaceOfBot(ctx context.Context, logger *applog.Logger) bool {
	if b.cfg.RealTime {
		return true
	}

	logger.Debug("Stepping engine in place of a stalled bot")

	if err := b.engine.Write(ctx, transport.Binary(sc2.BuildStepRequest(1))); err != nil {
		if ctx.Err() != nil {
			return false
		}
		b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventEngineClosed, Err: err})
		return false
	}

	resp, err := b.engine.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventEngineClosed, Err: err})
		return false
	}

	// The injected response is consumed here, never forwarded: the bot is
	// still owed the answer to its own next request.
	return !b.tapResponse(ctx, logger, resp.Data)
}

func (b *Bridge) handleDecodeError(ctx context.Context, logger *applog.Logger, decodeErr error) bool {
	b.mu.Lock()
	b.decodeErrs++
	count := b.decodeErrs
	b.mu.Unlock()

	logger.Warn("Could not decode bot frame",
		zap.Error(decodeErr), zap.Int("decodeErrors", count))
	b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventDecodeError, Err: decodeErr})

	reject := sc2.BuildErrorResponse(sc2.RequestInfo{}, "Proxy: could not decode request")
	if err := b.bot.Write(ctx, transport.Binary(reject)); err != nil {
		b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventBotDisconnected, Err: err})
		return false
	}

	if count >= decodeErrorTolerance {
		b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventBotDisconnected,
			Err: fmt.Errorf("%d malformed frames from bot", count)})
		return false
	}
	return true
}

// tapResponse inspects an engine response after it has been relayed. Returns
// true when the game is over and the bridge should stop.
func (b *Bridge) tapResponse(ctx context.Context, logger *applog.Logger, frame []byte) bool {
	info, err := sc2.SniffResponse(frame)
	if err != nil {
		// The engine sent something we cannot classify; the bot already got
		// it verbatim, so the relay itself is unaffected.
		logger.Warn("Could not classify engine response", zap.Error(err))
		return false
	}

	if info.Status == sc2.StatusInGame {
		b.mu.Lock()
		b.inGame = true
		b.mu.Unlock()
	}

	if info.Type != sc2.RequestObservation {
		return false
	}

	obs, err := info.ParseObservation()
	if err != nil {
		logger.Warn("Could not parse observation", zap.Error(err))
		return false
	}

	b.mu.Lock()
	if obs.GameLoop > b.gameLoop {
		b.gameLoop = obs.GameLoop
	}
	b.mu.Unlock()

	b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventStep, GameLoop: obs.GameLoop})

	if len(obs.PlayerResults) > 0 {
		logger.Info("Engine reported game over", zap.Uint32("gameLoop", obs.GameLoop))
		b.emit(ctx, Event{Slot: b.cfg.Slot, Type: EventGameOver,
			GameLoop: obs.GameLoop, Results: obs.PlayerResults})
		return true
	}
	return false
}

func (b *Bridge) noteThinkTime(thinkTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inGame {
		return
	}
	b.frames++
	b.totalThink += thinkTime
}

func (b *Bridge) emit(ctx context.Context, ev Event) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}

// GameLoop is the last step counter seen for this bot.
func (b *Bridge) GameLoop() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gameLoop
}

// AvgFrameTime is the bot's average think time per in-game exchange, in
// seconds.
func (b *Bridge) AvgFrameTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frames == 0 {
		return 0
	}
	return b.totalThink.Seconds() / float64(b.frames)
}

// SaveReplay asks the engine for the current replay. Only call after Run has
// returned; the bridge owns the engine connection while running.
func (b *Bridge) SaveReplay(ctx context.Context) ([]byte, error) {
	if err := b.engine.Write(ctx, transport.Binary(sc2.BuildSaveReplayRequest())); err != nil {
		return nil, fmt.Errorf("could not request replay: %w", err)
	}

	resp, err := b.engine.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read replay response: %w", err)
	}

	info, err := sc2.SniffResponse(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("could not classify replay response: %w", err)
	}

	data, err := info.ReplayData()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("engine returned no replay data")
	}
	return data, nil
}
