package session

import (
	"time"

	"arenaclient/bridge"
	"arenaclient/metrics"
	"arenaclient/sc2"
)

// sameStepWindow is how long the scheduler waits for the opponent's own
// budget breach once one bot has hit the strike threshold, so that two bots
// breaching on the same step become a DoubleTimeout instead of a forfeit
// decided by event arrival order.
const sameStepWindow = 50 * time.Millisecond

// decision is the terminal verdict derived from bridge events.
type decision struct {
	outcome Outcome
	reason  Reason
	// loserSlot is -1 when no single player is at fault.
	loserSlot int
}

// scheduler folds the two bridges' event streams into strike accounting and
// the single terminal decision. Strike counters only ever increase.
type scheduler struct {
	cfg     MatchConfig
	events  <-chan bridge.Event
	strikes [2]int
	maxLoop uint32
}

func newScheduler(cfg MatchConfig, events <-chan bridge.Event) *scheduler {
	return &scheduler{cfg: cfg, events: events}
}

// handle consumes one event; the bool reports whether the match is decided.
func (sc *scheduler) handle(ev bridge.Event) (decision, bool) {
	switch ev.Type {
	case bridge.EventStep:
		sc.noteLoop(ev.GameLoop)
		if sc.cfg.MaxGameTime > 0 && sc.maxLoop >= sc.cfg.MaxGameTime {
			return decision{outcome: OutcomeTie, reason: ReasonMaxGameTime, loserSlot: -1}, true
		}

	case bridge.EventBudgetExceeded:
		sc.strikes[ev.Slot]++
		metrics.StrikesIssued.Inc()
		if sc.strikes[ev.Slot] < sc.cfg.Strikes {
			break
		}
		peer := 1 - ev.Slot
		if sc.strikes[peer] >= sc.cfg.Strikes || sc.peerBreachesWithin(peer, sameStepWindow) {
			return decision{outcome: OutcomeTie, reason: ReasonDoubleTimeout, loserSlot: -1}, true
		}
		return decision{outcome: winAgainst(ev.Slot), reason: ReasonTimeoutLimitExceeded, loserSlot: ev.Slot}, true

	case bridge.EventGameOver:
		sc.noteLoop(ev.GameLoop)
		return sc.fromEngineReport(ev.Results), true

	case bridge.EventBotQuit, bridge.EventBotDisconnected:
		return decision{outcome: winAgainst(ev.Slot), reason: ReasonDisconnect, loserSlot: ev.Slot}, true

	case bridge.EventEngineClosed:
		return decision{outcome: OutcomeCrash, reason: ReasonEngineCrash, loserSlot: -1}, true

	case bridge.EventDecodeError:
		// Tolerated by the bridge; nothing to decide here.
	}
	return decision{}, false
}

func (sc *scheduler) noteLoop(loop uint32) {
	if loop > sc.maxLoop {
		sc.maxLoop = loop
	}
}

// peerBreachesWithin drains events briefly, looking for the peer reaching the
// strike threshold too.
func (sc *scheduler) peerBreachesWithin(peer int, window time.Duration) bool {
	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-sc.events:
			if !ok {
				return false
			}
			switch ev.Type {
			case bridge.EventStep:
				sc.noteLoop(ev.GameLoop)
			case bridge.EventBudgetExceeded:
				sc.strikes[ev.Slot]++
				metrics.StrikesIssued.Inc()
				if ev.Slot == peer && sc.strikes[peer] >= sc.cfg.Strikes {
					return true
				}
			}
		case <-timer.C:
			return false
		}
	}
}

// fromEngineReport maps the engine's player results onto slots. The engine
// numbers players in join order, which is slot order here.
func (sc *scheduler) fromEngineReport(results []sc2.PlayerResult) decision {
	for _, pr := range results {
		if pr.Result != sc2.ResultVictory {
			continue
		}
		switch pr.PlayerID {
		case 1:
			return decision{outcome: OutcomePlayer1Win, reason: ReasonGameEnd, loserSlot: 1}
		case 2:
			return decision{outcome: OutcomePlayer2Win, reason: ReasonGameEnd, loserSlot: 0}
		}
	}
	return decision{outcome: OutcomeTie, reason: ReasonGameEnd, loserSlot: -1}
}

func winAgainst(loserSlot int) Outcome {
	if loserSlot == 0 {
		return OutcomePlayer2Win
	}
	return OutcomePlayer1Win
}
