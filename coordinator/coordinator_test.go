package coordinator_test

import (
	"context"
	"testing"
	"time"

	"arenaclient/coordinator"
	"arenaclient/matchtest"
	"arenaclient/portpool"
	"arenaclient/session"
	"arenaclient/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchConfig(p1, p2 string) session.MatchConfig {
	return session.MatchConfig{
		Map:            "AutomatonLE",
		Player1:        p1,
		Player2:        p2,
		Strikes:        3,
		MaxGameTime:    60486,
		MaxFrameTimeMs: 5000,
	}
}

func testDeps(t *testing.T, eng *matchtest.FakeEngine) session.Deps {
	t.Helper()
	return session.Deps{
		Launcher:             &matchtest.FakeLauncher{Engine: eng},
		Ports:                portpool.New(),
		WorkRoot:             t.TempDir(),
		PlayerConnectTimeout: 2 * time.Second,
		EndingGrace:          100 * time.Millisecond,
	}
}

func playMatch(t *testing.T, ctx context.Context, sess *session.Session) {
	t.Helper()
	for _, name := range []string{sess.Config.Player1, sess.Config.Player2} {
		botSide, sessSide := transport.Pipe()
		_, err := sess.AttachBot(name, sessSide)
		require.NoError(t, err)
		go matchtest.RunBot(ctx, botSide, matchtest.BotScript{Name: name, Stepped: true})
	}
}

func TestStartMatchDeliversOneResult(t *testing.T) {
	eng := &matchtest.FakeEngine{GameOverAt: 3, Results: matchtest.VictoryFor(1)}
	c := coordinator.New(coordinator.Config{MaxConcurrent: 2}, testDeps(t, eng))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, results, err := c.StartMatch(ctx, matchConfig("alice", "bob"))
	require.NoError(t, err)
	playMatch(t, ctx, sess)

	select {
	case res := <-results:
		assert.Equal(t, session.OutcomePlayer1Win, res.Outcome)
	case <-time.After(10 * time.Second):
		t.Fatal("no result delivered")
	}

	require.NoError(t, c.DrainTimeout(5*time.Second))
	assert.Equal(t, 0, c.Active())
}

func TestQueueFullIsImmediateRejection(t *testing.T) {
	c := coordinator.New(coordinator.Config{MaxConcurrent: 1, MaxQueued: 0}, testDeps(t, &matchtest.FakeEngine{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First match holds the only slot while waiting for players.
	sess, _, err := c.StartMatch(ctx, matchConfig("alice", "bob"))
	require.NoError(t, err)

	_, _, err = c.StartMatch(ctx, matchConfig("carol", "dave"))
	assert.ErrorIs(t, err, coordinator.ErrQueueFull)

	sess.Abort()
	require.NoError(t, c.DrainTimeout(5*time.Second))
}

func TestSlotWaitHonorsContext(t *testing.T) {
	c := coordinator.New(coordinator.Config{MaxConcurrent: 1, MaxQueued: 4}, testDeps(t, &matchtest.FakeEngine{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, _, err := c.StartMatch(ctx, matchConfig("alice", "bob"))
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer waitCancel()
	_, _, err = c.StartMatch(waitCtx, matchConfig("carol", "dave"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sess.Abort()
	require.NoError(t, c.DrainTimeout(5*time.Second))
}

func TestSlotFreedAfterCompletion(t *testing.T) {
	eng := &matchtest.FakeEngine{GameOverAt: 2, Results: matchtest.VictoryFor(1)}
	c := coordinator.New(coordinator.Config{MaxConcurrent: 1, MaxQueued: 4}, testDeps(t, eng))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, results, err := c.StartMatch(ctx, matchConfig("alice", "bob"))
	require.NoError(t, err)
	playMatch(t, ctx, sess)
	<-results

	// The freed slot admits the next match.
	admitCtx, admitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer admitCancel()
	next, _, err := c.StartMatch(admitCtx, matchConfig("carol", "dave"))
	require.NoError(t, err)

	next.Abort()
	require.NoError(t, c.DrainTimeout(5*time.Second))
}

func TestFindAwaitingPrefersConfiguredName(t *testing.T) {
	c := coordinator.New(coordinator.Config{MaxConcurrent: 2}, testDeps(t, &matchtest.FakeEngine{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _, err := c.StartMatch(ctx, matchConfig("alice", "bob"))
	require.NoError(t, err)
	second, _, err := c.StartMatch(ctx, matchConfig("carol", "dave"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return first.State() == session.StateAwaitingPlayers &&
			second.State() == session.StateAwaitingPlayers
	}, 2*time.Second, 5*time.Millisecond)

	assert.Same(t, second, c.FindAwaiting("carol"))
	assert.Same(t, first, c.FindAwaiting("bob"))
	assert.NotNil(t, c.FindAwaiting("stranger"))

	c.AbortAll()
	require.NoError(t, c.DrainTimeout(5*time.Second))
}

func TestAbortAllStopsEverything(t *testing.T) {
	c := coordinator.New(coordinator.Config{MaxConcurrent: 2}, testDeps(t, &matchtest.FakeEngine{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, r1, err := c.StartMatch(ctx, matchConfig("alice", "bob"))
	require.NoError(t, err)
	_, r2, err := c.StartMatch(ctx, matchConfig("carol", "dave"))
	require.NoError(t, err)

	c.AbortAll()
	require.NoError(t, c.DrainTimeout(5*time.Second))

	for _, results := range []<-chan session.MatchResult{r1, r2} {
		res := <-results
		assert.Equal(t, session.ReasonAborted, res.Reason)
	}
	assert.Equal(t, 0, c.Active())
}
