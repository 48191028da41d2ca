package matchtest

import (
	"context"
	"sync"
	"time"

	"arenaclient/engine"
	"arenaclient/sc2"
	"arenaclient/transport"

	"google.golang.org/protobuf/encoding/protowire"
)

// FakeEngine emulates the SC2 control endpoint well enough for the proxy:
// it answers every request, advances a shared game-loop counter on step
// requests and reports player results once the configured game-over loop is
// reached. Both player connections observe the same counter, like two
// clients of one engine process.
type FakeEngine struct {
	// StepSize is the loop advance per step request (defaults to 1).
	StepSize uint32
	// GameOverAt, when non-zero, makes observations at or past that loop
	// carry Results.
	GameOverAt uint32
	Results    []sc2.PlayerResult
	// ReplayData is returned for save_replay requests.
	ReplayData []byte

	mu        sync.Mutex
	loop      uint32
	seen      map[protowire.Number]int
	conns     []transport.Conn
	crashed   bool
	crashOnce sync.Once
}

// NewConn returns the client side of a fresh engine connection and starts
// serving the other end.
func (e *FakeEngine) NewConn() transport.Conn {
	client, server := transport.Pipe()

	e.mu.Lock()
	e.conns = append(e.conns, server)
	crashed := e.crashed
	e.mu.Unlock()

	if crashed {
		_ = server.Close()
		return client
	}

	go e.serve(server)
	return client
}

// Crash closes every live connection, emulating an engine process dying
// mid-match.
func (e *FakeEngine) Crash() {
	e.crashOnce.Do(func() {
		e.mu.Lock()
		e.crashed = true
		conns := e.conns
		e.conns = nil
		e.mu.Unlock()

		for _, c := range conns {
			_ = c.Close()
		}
	})
}

// Loop returns the current game-loop counter.
func (e *FakeEngine) Loop() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop
}

// SeenCount reports how many requests of the given type reached the engine.
func (e *FakeEngine) SeenCount(typ protowire.Number) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen[typ]
}

func (e *FakeEngine) serve(conn transport.Conn) {
	ctx := context.Background()
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return
		}

		info, err := sc2.SniffRequest(msg.Data)
		if err != nil {
			continue
		}

		e.mu.Lock()
		if e.seen == nil {
			e.seen = make(map[protowire.Number]int)
		}
		e.seen[info.Type]++

		step := e.StepSize
		if step == 0 {
			step = 1
		}

		var resp []byte
		switch info.Type {
		case sc2.RequestCreateGame:
			resp = Response(sc2.RequestCreateGame, sc2.StatusInitGame)
		case sc2.RequestJoinGame:
			resp = Response(sc2.RequestJoinGame, sc2.StatusInGame)
		case sc2.RequestStep:
			e.loop += step
			resp = Response(sc2.RequestStep, sc2.StatusInGame)
		case sc2.RequestObservation:
			var results []sc2.PlayerResult
			if e.GameOverAt > 0 && e.loop >= e.GameOverAt {
				results = e.Results
			}
			resp = ObservationResponse(e.loop, sc2.StatusInGame, results...)
		case sc2.RequestSaveReplay:
			data := e.ReplayData
			if data == nil {
				data = []byte("fake-replay")
			}
			resp = SaveReplayResponse(data)
		case sc2.RequestQuit:
			resp = Response(sc2.RequestQuit, sc2.StatusQuit)
		case sc2.RequestLeaveGame:
			resp = Response(sc2.RequestLeaveGame, sc2.StatusLaunched)
		default:
			resp = Response(info.Type, sc2.StatusInGame)
		}
		e.mu.Unlock()

		if err := conn.Write(ctx, transport.Binary(resp)); err != nil {
			return
		}
	}
}

// VictoryFor builds a two-player result set where the given player wins.
func VictoryFor(playerID uint32) []sc2.PlayerResult {
	loser := uint32(1)
	if playerID == 1 {
		loser = 2
	}
	return []sc2.PlayerResult{
		{PlayerID: playerID, Result: sc2.ResultVictory},
		{PlayerID: loser, Result: sc2.ResultDefeat},
	}
}

// FakeLauncher satisfies engine.Launcher with FakeEngine-backed instances.
type FakeLauncher struct {
	// Engine backs every launched instance; a fresh one is created per
	// launch when nil.
	Engine    *FakeEngine
	LaunchErr error

	mu        sync.Mutex
	instances []*FakeInstance
}

func (l *FakeLauncher) Launch(_ context.Context, port int, workDir string) (engine.Instance, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}

	eng := l.Engine
	if eng == nil {
		eng = &FakeEngine{}
	}

	inst := &FakeInstance{
		engine:  eng,
		port:    port,
		workDir: workDir,
		done:    make(chan struct{}),
	}

	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.mu.Unlock()
	return inst, nil
}

// Instances returns every instance launched so far.
func (l *FakeLauncher) Instances() []*FakeInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeInstance(nil), l.instances...)
}

type FakeInstance struct {
	engine  *FakeEngine
	port    int
	workDir string
	done    chan struct{}

	mu           sync.Mutex
	terminatedAt time.Time
	exitErr      error
	closeOnce    sync.Once
}

func (i *FakeInstance) Connect(_ context.Context) (transport.Conn, error) {
	return i.engine.NewConn(), nil
}

func (i *FakeInstance) Done() <-chan struct{} { return i.done }

func (i *FakeInstance) ExitErr() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitErr
}

func (i *FakeInstance) Alive() bool {
	select {
	case <-i.done:
		return false
	default:
		return true
	}
}

func (i *FakeInstance) Terminate(time.Duration) error {
	i.mu.Lock()
	if i.terminatedAt.IsZero() {
		i.terminatedAt = time.Now()
	}
	i.mu.Unlock()

	i.engine.Crash()
	i.closeOnce.Do(func() { close(i.done) })
	return nil
}

func (i *FakeInstance) Addr() string {
	return "127.0.0.1:fake"
}

// Crash emulates an unexpected engine exit.
func (i *FakeInstance) Crash(err error) {
	i.mu.Lock()
	i.exitErr = err
	i.mu.Unlock()

	i.engine.Crash()
	i.closeOnce.Do(func() { close(i.done) })
}

// TerminatedAt reports when Terminate was first called (zero if never).
func (i *FakeInstance) TerminatedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.terminatedAt
}
