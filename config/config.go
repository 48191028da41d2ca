// Package config loads the server configuration: built-in defaults, then an
// optional YAML file, then ARENACLIENT_* environment overrides, in that
// order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ListenAddr is the gateway's websocket listen address.
	ListenAddr string `yaml:"listenAddr"`

	MaxConcurrentMatches int `yaml:"maxConcurrentMatches"`
	MaxQueuedMatches     int `yaml:"maxQueuedMatches"`
	// MaxConnections caps raw concurrent connections at the listener.
	MaxConnections int `yaml:"maxConnections"`

	// EngineExe is the SC2 engine binary; EngineDataDir its installation
	// data directory.
	EngineExe            string        `yaml:"engineExe"`
	EngineDataDir        string        `yaml:"engineDataDir"`
	EngineStartupTimeout time.Duration `yaml:"engineStartupTimeout"`

	// WorkRoot holds per-session working directories.
	WorkRoot string `yaml:"workRoot"`

	ResultLogPath        string        `yaml:"resultLogPath"`
	PlayerConnectTimeout time.Duration `yaml:"playerConnectTimeout"`
	EndingGrace          time.Duration `yaml:"endingGrace"`

	// LadderUploadURL, when set, posts each finalized result there.
	LadderUploadURL   string `yaml:"ladderUploadUrl"`
	LadderUploadToken string `yaml:"ladderUploadToken"`

	// CaptureTraffic records all relayed frames per session (compressed).
	CaptureTraffic bool `yaml:"captureTraffic"`

	LogDir   string `yaml:"logDir"`
	LogLevel string `yaml:"logLevel"`
}

func Default() Config {
	return Config{
		ListenAddr:           "127.0.0.1:8642",
		MaxConcurrentMatches: 1,
		MaxQueuedMatches:     8,
		MaxConnections:       64,
		EngineStartupTimeout: 60 * time.Second,
		WorkRoot:             filepath.Join(os.TempDir(), "arenaclient"),
		ResultLogPath:        "results.tsv",
		PlayerConnectTimeout: 60 * time.Second,
		EndingGrace:          5 * time.Second,
		LogLevel:             "info",
	}
}

// Load reads the optional YAML file and applies environment overrides. An
// empty path skips the file. Callers validate after applying their own
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("could not read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("could not parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "ARENACLIENT_LISTEN_ADDR")
	setString(&c.EngineExe, "ARENACLIENT_ENGINE_EXE")
	setString(&c.EngineDataDir, "ARENACLIENT_ENGINE_DATA_DIR")
	setString(&c.WorkRoot, "ARENACLIENT_WORK_ROOT")
	setString(&c.ResultLogPath, "ARENACLIENT_RESULT_LOG")
	setString(&c.LadderUploadURL, "ARENACLIENT_UPLOAD_URL")
	setString(&c.LadderUploadToken, "ARENACLIENT_UPLOAD_TOKEN")
	setString(&c.LogDir, "ARENACLIENT_LOG_DIR")
	setString(&c.LogLevel, "ARENACLIENT_LOG_LEVEL")
	setInt(&c.MaxConcurrentMatches, "ARENACLIENT_MAX_MATCHES")
	setInt(&c.MaxConnections, "ARENACLIENT_MAX_CONNECTIONS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			*dst = iv
		}
	}
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listenAddr is required")
	}
	if c.MaxConcurrentMatches < 1 {
		return fmt.Errorf("config: maxConcurrentMatches must be at least 1")
	}
	if c.EngineExe == "" {
		return fmt.Errorf("config: engineExe is required")
	}
	if _, err := c.ZapLevel(); err != nil {
		return fmt.Errorf("config: invalid logLevel %q", c.LogLevel)
	}
	return nil
}

func (c *Config) ZapLevel() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}
