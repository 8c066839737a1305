package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/loomhq/loom/internal/logger"
)

// RuntimeConfig holds paths and tunables resolved at startup
type RuntimeConfig struct {
	// StateDir is where conversation documents are persisted
	StateDir string
	// TranscriptRoot is the directory the agent writes transcript files under
	TranscriptRoot string
	// HomeDir is the user's home directory
	HomeDir string
	// PollInterval is the default transcript watch poll interval
	PollInterval time.Duration
	// ActivityIdleTimeout is how long watch waits after a terminal record
	// before treating the session as finished
	ActivityIdleTimeout time.Duration
}

// Runtime is the global runtime configuration instance
var Runtime *RuntimeConfig

func init() {
	Runtime = DetectRuntime()
}

// DetectRuntime resolves the runtime configuration from the environment
func DetectRuntime() *RuntimeConfig {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}

	loomDir := filepath.Join(homeDir, ".loom")

	cfg := &RuntimeConfig{
		StateDir:            filepath.Join(loomDir, "state"),
		TranscriptRoot:      filepath.Join(homeDir, ".claude", "projects"),
		HomeDir:             homeDir,
		PollInterval:        500 * time.Millisecond,
		ActivityIdleTimeout: 5 * time.Second,
	}

	if dir := os.Getenv("LOOM_STATE_DIR"); dir != "" {
		cfg.StateDir = dir
	}
	if dir := os.Getenv("LOOM_TRANSCRIPT_ROOT"); dir != "" {
		cfg.TranscriptRoot = dir
	}
	if raw := os.Getenv("LOOM_POLL_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.PollInterval = d
		} else {
			logger.Warnf("Ignoring invalid LOOM_POLL_INTERVAL: %q", raw)
		}
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		logger.Warnf("Failed to create state directory %s: %v", cfg.StateDir, err)
	}

	return cfg
}
