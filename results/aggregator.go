// Package results turns a finished session's MatchResult into everything the
// outside world sees: the durable append-only log row, the verified replay
// reference, the supervisor payload and the optional ladder upload.
package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"arenaclient/applog"
	"arenaclient/session"

	"go.uber.org/zap"
)

// The engine simulates 22.4 steps per in-game second at normal speed.
const gameLoopsPerSecond = 22.4

// Payload is the supervisor-facing result, field casing fixed by the
// supervisors already in the wild.
type Payload struct {
	Result           map[string]string  `json:"Result"`
	GameTime         uint32             `json:"GameTime"`
	GameTimeSeconds  float64            `json:"GameTimeSeconds"`
	AverageFrameTime map[string]float64 `json:"AverageFrameTime"`
	Status           string             `json:"Status"`
	MatchID          int64              `json:"MatchID"`
	ReplayPath       string             `json:"ReplayPath,omitempty"`
}

type Aggregator struct {
	logPath  string
	uploader *Uploader

	mu sync.Mutex
}

// NewAggregator writes rows to logPath; uploader may be nil.
func NewAggregator(logPath string, uploader *Uploader) *Aggregator {
	return &Aggregator{logPath: logPath, uploader: uploader}
}

// Finalize verifies the replay, persists the row and builds the supervisor
// payload. Persistence and upload failures are logged, never fatal: the
// supervisor still gets its result.
func (a *Aggregator) Finalize(ctx context.Context, cfg session.MatchConfig, res session.MatchResult) Payload {
	logger := applog.FromContext(ctx)

	res.ReplayPath = verifyReplay(res.ReplayPath)

	if err := a.appendRow(cfg, res); err != nil {
		logger.Warn("Could not persist result row",
			zap.String("path", a.logPath), zap.Error(err))
	}

	payload := buildPayload(cfg, res)

	if a.uploader != nil {
		if err := a.uploader.Upload(ctx, payload); err != nil {
			logger.Warn("Ladder upload failed", zap.Error(err))
		}
	}
	return payload
}

// verifyReplay clears the path unless a non-empty file actually exists there.
func verifyReplay(path string) string {
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return ""
	}
	return path
}

func (a *Aggregator) appendRow(cfg session.MatchConfig, res session.MatchResult) error {
	if a.logPath == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	row := strings.Join([]string{
		time.Now().UTC().Format(time.RFC3339),
		strconv.FormatInt(res.MatchID, 10),
		res.Outcome.String(),
		res.Reason.String(),
		strconv.FormatUint(uint64(res.Steps), 10),
		strconv.FormatInt(res.Elapsed.Milliseconds(), 10),
		strconv.Itoa(res.Strikes[0]),
		strconv.Itoa(res.Strikes[1]),
		res.ReplayPath,
	}, "\t")

	if _, err := fmt.Fprintln(f, row); err != nil {
		return err
	}
	return f.Sync()
}

func buildPayload(cfg session.MatchConfig, res session.MatchResult) Payload {
	return Payload{
		Result:          playerVocabulary(cfg, res),
		GameTime:        res.Steps,
		GameTimeSeconds: float64(res.Steps) / gameLoopsPerSecond,
		AverageFrameTime: map[string]float64{
			cfg.Player1: res.AvgFrameTime[0],
			cfg.Player2: res.AvgFrameTime[1],
		},
		Status:     "Complete",
		MatchID:    res.MatchID,
		ReplayPath: res.ReplayPath,
	}
}

// playerVocabulary maps the outcome/reason pair onto the per-player result
// words the ladder consumes.
func playerVocabulary(cfg session.MatchConfig, res session.MatchResult) map[string]string {
	winner, loser := cfg.Player1, cfg.Player2
	if res.Outcome == session.OutcomePlayer2Win {
		winner, loser = cfg.Player2, cfg.Player1
	}

	both := func(word string) map[string]string {
		return map[string]string{cfg.Player1: word, cfg.Player2: word}
	}

	switch res.Reason {
	case session.ReasonGameEnd:
		if res.Outcome == session.OutcomeTie {
			return both("Tie")
		}
		return map[string]string{winner: "Victory", loser: "Defeat"}
	case session.ReasonTimeoutLimitExceeded:
		return map[string]string{winner: "Victory", loser: "Timeout"}
	case session.ReasonDisconnect:
		return map[string]string{winner: "Victory", loser: "Crash"}
	case session.ReasonEngineCrash:
		return both("SC2Crash")
	case session.ReasonDoubleTimeout:
		return both("Timeout")
	case session.ReasonMaxGameTime:
		return both("Tie")
	default:
		return both("InitializationError")
	}
}
