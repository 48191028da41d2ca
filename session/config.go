package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Defaults applied when the supervisor omits a field, matching what ladder
// supervisors historically relied on.
const (
	DefaultMaxGameTime    = 60486
	DefaultMaxFrameTimeMs = 1000
	DefaultStrikes        = 10
)

// MatchConfig is the supervisor's match request. It is parsed once and
// read-only afterwards. MaxGameTime counts engine simulation steps,
// MaxFrameTime is the per-step bot budget in milliseconds.
type MatchConfig struct {
	Map            string `json:"Map"`
	MaxGameTime    uint32 `json:"MaxGameTime"`
	MaxFrameTimeMs int    `json:"MaxFrameTime"`
	Strikes        int    `json:"Strikes"`
	Player1        string `json:"Player1"`
	Player2        string `json:"Player2"`
	ReplayPath     string `json:"ReplayPath"`
	MatchID        int64  `json:"MatchID"`
	DisableDebug   bool   `json:"DisableDebug"`
	RealTime       bool   `json:"RealTime"`
	// Visualize is accepted but has no effect server-side.
	Visualize bool `json:"Visualize"`
}

// ParseMatchConfig decodes a supervisor match request, fills defaults and
// validates the result.
func ParseMatchConfig(data []byte) (MatchConfig, error) {
	var cfg MatchConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return MatchConfig{}, fmt.Errorf("could not parse match config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return MatchConfig{}, err
	}
	return cfg, nil
}

func (c *MatchConfig) applyDefaults() {
	if c.MaxGameTime == 0 {
		c.MaxGameTime = DefaultMaxGameTime
	}
	if c.MaxFrameTimeMs == 0 {
		c.MaxFrameTimeMs = DefaultMaxFrameTimeMs
	}
	if c.Strikes == 0 {
		c.Strikes = DefaultStrikes
	}
}

func (c *MatchConfig) Validate() error {
	if c.Map == "" {
		return fmt.Errorf("match config: map is required")
	}
	if c.Player1 == "" || c.Player2 == "" {
		return fmt.Errorf("match config: both player slots must be named")
	}
	if c.Player1 == c.Player2 {
		return fmt.Errorf("match config: player names must differ")
	}
	if c.MaxFrameTimeMs < 0 {
		return fmt.Errorf("match config: MaxFrameTime must not be negative")
	}
	if c.Strikes < 1 {
		return fmt.Errorf("match config: Strikes must be at least 1")
	}
	return nil
}

// MaxFrameTime is the per-step bot budget as a duration.
func (c *MatchConfig) MaxFrameTime() time.Duration {
	return time.Duration(c.MaxFrameTimeMs) * time.Millisecond
}

// PlayerName returns the configured name for slot 0 or 1.
func (c *MatchConfig) PlayerName(slot int) string {
	if slot == 0 {
		return c.Player1
	}
	return c.Player2
}
