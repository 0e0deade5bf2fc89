package config

import "time"

// ServerConfig holds configuration for the gotune server.
type ServerConfig struct {
	Addr       string // Listen address (default ":8080")
	LogLevel   string // Log level: debug, info, warn, error
	LogFormat  string // Log format: text, json
	DBPath     string // SQLite database path (default ~/.gotune/gotune.db, ":memory:" for testing)
	Checkpoint string // Checkpoint store: empty for DBPath, or a redis:// URL

	Experiment         string        // Experiment file to serve
	Resume             bool          // Continue from the latest checkpoint of the run
	RunID              string        // Run id; generated when empty
	CheckpointInterval time.Duration // How often the scheduler state is persisted

	// WorkerKeys are the shared secrets accepted in X-Worker-Key. Empty
	// disables worker authentication.
	WorkerKeys []string
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:               ":8080",
		LogLevel:           "info",
		LogFormat:          "text",
		CheckpointInterval: 30 * time.Second,
	}
}
