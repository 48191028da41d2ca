package session

import (
	"errors"
	"time"
)

// Outcome is the terminal verdict of one match.
type Outcome int

const (
	OutcomePlayer1Win Outcome = iota
	OutcomePlayer2Win
	OutcomeTie
	// OutcomeError covers failures before or outside actual play.
	OutcomeError
	// OutcomeCrash is an unexpected engine exit mid-game.
	OutcomeCrash
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlayer1Win:
		return "Player1Win"
	case OutcomePlayer2Win:
		return "Player2Win"
	case OutcomeTie:
		return "Tie"
	case OutcomeError:
		return "Error"
	case OutcomeCrash:
		return "Crash"
	default:
		return "Unknown"
	}
}

// Reason explains how the outcome was reached.
type Reason int

const (
	// ReasonGameEnd: the engine reported a natural game over.
	ReasonGameEnd Reason = iota
	ReasonPlayerConnectTimeout
	ReasonEngineLaunchFailed
	ReasonTimeoutLimitExceeded
	ReasonDisconnect
	ReasonEngineCrash
	ReasonDoubleTimeout
	ReasonMaxGameTime
	ReasonAborted
)

func (r Reason) String() string {
	switch r {
	case ReasonGameEnd:
		return "GameEnd"
	case ReasonPlayerConnectTimeout:
		return "PlayerConnectTimeout"
	case ReasonEngineLaunchFailed:
		return "EngineLaunchFailed"
	case ReasonTimeoutLimitExceeded:
		return "TimeoutLimitExceeded"
	case ReasonDisconnect:
		return "Disconnect"
	case ReasonEngineCrash:
		return "EngineCrash"
	case ReasonDoubleTimeout:
		return "DoubleTimeout"
	case ReasonMaxGameTime:
		return "MaxGameTime"
	case ReasonAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// MatchResult is built exactly once per session on every path out of play.
type MatchResult struct {
	MatchID int64
	Outcome Outcome
	Reason  Reason
	// Loser names the losing or erroring player, empty when not applicable.
	Loser string
	// Steps is the final engine step counter.
	Steps   uint32
	Elapsed time.Duration
	// ReplayPath is the path actually written, empty when no replay exists.
	ReplayPath string
	// Strikes and AvgFrameTime are indexed by player slot.
	Strikes      [2]int
	AvgFrameTime [2]float64
}

// Rejection errors surfaced to the supervisor instead of a completed match.
var (
	ErrPlayerConnectTimeout = errors.New("players did not connect in time")
	ErrEngineLaunchFailed   = errors.New("engine failed to launch")
	ErrSlotsFull            = errors.New("both player slots are already attached")
	ErrAborted              = errors.New("session aborted by supervisor")
)
