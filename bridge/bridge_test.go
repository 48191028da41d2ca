package bridge_test

import (
	"context"
	"testing"
	"time"

	"arenaclient/bridge"
	"arenaclient/matchtest"
	"arenaclient/sc2"
	"arenaclient/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	bot    transport.Conn
	engine *matchtest.FakeEngine
	bridge *bridge.Bridge
	events chan bridge.Event
	done   chan struct{}
}

func startBridge(t *testing.T, cfg bridge.Config, eng *matchtest.FakeEngine) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	botSide, bridgeSide := transport.Pipe()
	events := make(chan bridge.Event, 128)
	b := bridge.New(cfg, bridgeSide, eng.NewConn(), events)

	h := &harness{
		bot:    botSide,
		engine: eng,
		bridge: b,
		events: events,
		done:   make(chan struct{}),
	}
	go func() {
		b.Run(ctx)
		close(h.done)
	}()
	return h
}

func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

// drainEvents returns every event emitted so far, grouped by type.
func (h *harness) drainEvents() map[bridge.EventType][]bridge.Event {
	byType := make(map[bridge.EventType][]bridge.Event)
	for {
		select {
		case ev := <-h.events:
			byType[ev.Type] = append(byType[ev.Type], ev)
		default:
			return byType
		}
	}
}

func (h *harness) exchange(t *testing.T, frame []byte) transport.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.bot.Write(ctx, transport.Binary(frame)))
	msg, err := h.bot.Read(ctx)
	require.NoError(t, err)
	return msg
}

func TestRelayPassesFramesVerbatim(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice"}, eng)

	resp := h.exchange(t, matchtest.JoinRequest("alice"))
	assert.Equal(t, matchtest.Response(sc2.RequestJoinGame, sc2.StatusInGame), resp.Data)

	resp = h.exchange(t, matchtest.Request(sc2.RequestStep))
	assert.Equal(t, matchtest.Response(sc2.RequestStep, sc2.StatusInGame), resp.Data)

	resp = h.exchange(t, matchtest.Request(sc2.RequestObservation))
	assert.Equal(t, matchtest.ObservationResponse(1, sc2.StatusInGame), resp.Data)

	events := h.drainEvents()
	require.Len(t, events[bridge.EventStep], 1)
	assert.Equal(t, uint32(1), events[bridge.EventStep][0].GameLoop)
	assert.Equal(t, 1, events[bridge.EventStep][0].Slot)
}

func TestDebugRequestsRejectedLocally(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice", DisableDebug: true}, eng)

	h.exchange(t, matchtest.JoinRequest("alice"))

	resp := h.exchange(t, matchtest.Request(sc2.RequestDebug))
	info, err := sc2.SniffResponse(resp.Data)
	require.NoError(t, err)
	assert.Contains(t, info.Errors, "Proxy: Request denied")

	// The reject is answered by the proxy itself; the engine never sees it.
	assert.Equal(t, 0, eng.SeenCount(sc2.RequestDebug))

	// Non-debug traffic is unaffected afterwards.
	h.exchange(t, matchtest.Request(sc2.RequestObservation))
}

func TestDebugRequestsPassWhenAllowed(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice"}, eng)

	resp := h.exchange(t, matchtest.Request(sc2.RequestDebug))
	assert.Equal(t, matchtest.Response(sc2.RequestDebug, sc2.StatusInGame), resp.Data)
	assert.Equal(t, 1, eng.SeenCount(sc2.RequestDebug))
}

func TestDecodeErrorsToleratedThenFatal(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 2, Player: "bob"}, eng)

	// Each malformed frame gets a local error response back.
	for i := 0; i < 3; i++ {
		resp := h.exchange(t, []byte{0xff})
		info, err := sc2.SniffResponse(resp.Data)
		require.NoError(t, err)
		assert.Contains(t, info.Errors[0], "could not decode")
	}

	h.waitDone(t)
	events := h.drainEvents()
	assert.Len(t, events[bridge.EventDecodeError], 3)
	require.Len(t, events[bridge.EventBotDisconnected], 1)
	assert.Error(t, events[bridge.EventBotDisconnected][0].Err)
}

func TestBudgetOverrunStepsInPlaceOfBot(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{
		Slot:         1,
		Player:       "alice",
		MaxFrameTime: 40 * time.Millisecond,
	}, eng)

	// The budget arms once the game is in progress.
	h.exchange(t, matchtest.JoinRequest("alice"))

	time.Sleep(200 * time.Millisecond)

	// The stalled bot's own request is still answered normally.
	resp := h.exchange(t, matchtest.Request(sc2.RequestObservation))
	info, err := sc2.SniffResponse(resp.Data)
	require.NoError(t, err)
	obs, err := info.ParseObservation()
	require.NoError(t, err)

	events := h.drainEvents()
	require.NotEmpty(t, events[bridge.EventBudgetExceeded])

	// Injected no-op steps advanced the engine while the bot slept. The
	// bridge may inject again after the exchange, so the live counter is an
	// upper bound for the loop the bot observed.
	injected := eng.SeenCount(sc2.RequestStep)
	assert.GreaterOrEqual(t, injected, 1)
	assert.GreaterOrEqual(t, uint32(injected), obs.GameLoop)
	assert.GreaterOrEqual(t, obs.GameLoop, uint32(1))
}

func TestRealTimeBudgetOverrunInjectsNothing(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{
		Slot:         1,
		Player:       "alice",
		MaxFrameTime: 40 * time.Millisecond,
		RealTime:     true,
	}, eng)

	h.exchange(t, matchtest.JoinRequest("alice"))
	time.Sleep(150 * time.Millisecond)
	h.exchange(t, matchtest.Request(sc2.RequestObservation))

	events := h.drainEvents()
	assert.NotEmpty(t, events[bridge.EventBudgetExceeded])
	assert.Equal(t, 0, eng.SeenCount(sc2.RequestStep))
}

func TestGameOverTapStopsBridge(t *testing.T) {
	eng := &matchtest.FakeEngine{
		GameOverAt: 3,
		Results: []sc2.PlayerResult{
			{PlayerID: 1, Result: sc2.ResultVictory},
			{PlayerID: 2, Result: sc2.ResultDefeat},
		},
	}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice"}, eng)

	ctx := context.Background()
	res := matchtest.RunBot(ctx, h.bot, matchtest.BotScript{Name: "alice", Stepped: true})
	require.NoError(t, res.Err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, sc2.ResultVictory, res.Results[0].Result)

	h.waitDone(t)
	events := h.drainEvents()
	require.Len(t, events[bridge.EventGameOver], 1)
	over := events[bridge.EventGameOver][0]
	assert.Equal(t, uint32(3), over.GameLoop)
	assert.Len(t, over.Results, 2)
}

func TestBotQuitEndsBridge(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 2, Player: "bob"}, eng)

	res := matchtest.RunBot(context.Background(), h.bot, matchtest.BotScript{
		Name:      "bob",
		Stepped:   true,
		QuitAfter: 2,
	})
	require.NoError(t, res.Err)

	h.waitDone(t)
	events := h.drainEvents()
	require.Len(t, events[bridge.EventBotQuit], 1)
}

func TestBotDisconnectDetected(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice"}, eng)

	h.exchange(t, matchtest.JoinRequest("alice"))
	require.NoError(t, h.bot.Close())

	h.waitDone(t)
	events := h.drainEvents()
	require.Len(t, events[bridge.EventBotDisconnected], 1)
}

func TestEngineLossDetected(t *testing.T) {
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice"}, eng)

	h.exchange(t, matchtest.JoinRequest("alice"))
	eng.Crash()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = h.bot.Write(ctx, transport.Binary(matchtest.Request(sc2.RequestObservation)))

	h.waitDone(t)
	events := h.drainEvents()
	require.Len(t, events[bridge.EventEngineClosed], 1)
}

func TestSaveReplayAfterRun(t *testing.T) {
	eng := &matchtest.FakeEngine{
		GameOverAt: 2,
		Results:    []sc2.PlayerResult{{PlayerID: 1, Result: sc2.ResultTie}},
		ReplayData: []byte("replay-bytes"),
	}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice"}, eng)

	res := matchtest.RunBot(context.Background(), h.bot, matchtest.BotScript{Name: "alice", Stepped: true})
	require.NoError(t, res.Err)
	h.waitDone(t)

	data, err := h.bridge.SaveReplay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("replay-bytes"), data)
}

type captureRecorder struct {
	toEngine   [][]byte
	fromEngine [][]byte
}

func (r *captureRecorder) Record(_ string, toEngine bool, frame []byte) {
	cp := append([]byte(nil), frame...)
	if toEngine {
		r.toEngine = append(r.toEngine, cp)
	} else {
		r.fromEngine = append(r.fromEngine, cp)
	}
}

func TestTrafficRecorderSeesBothDirections(t *testing.T) {
	rec := &captureRecorder{}
	eng := &matchtest.FakeEngine{}
	h := startBridge(t, bridge.Config{Slot: 1, Player: "alice", Recorder: rec}, eng)

	h.exchange(t, matchtest.JoinRequest("alice"))
	h.exchange(t, matchtest.Request(sc2.RequestObservation))

	require.NoError(t, h.bot.Close())
	h.waitDone(t)

	require.Len(t, rec.toEngine, 2)
	require.Len(t, rec.fromEngine, 2)
	assert.Equal(t, matchtest.JoinRequest("alice"), rec.toEngine[0])
	assert.Equal(t, matchtest.ObservationResponse(0, sc2.StatusInGame), rec.fromEngine[1])
}
