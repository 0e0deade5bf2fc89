package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/me/gotune/pkg/model"
)

// WorkerKeyHeader carries the shared secret of a worker.
const WorkerKeyHeader = "X-Worker-Key"

// WorkerKeyConfig holds the accepted worker keys.
type WorkerKeyConfig struct {
	keys []string
}

// LoadWorkerKeyConfig merges the configured keys with the comma-separated
// GOTUNE_WORKER_KEYS environment variable.
func LoadWorkerKeyConfig(keys []string) *WorkerKeyConfig {
	cfg := &WorkerKeyConfig{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cfg.keys = append(cfg.keys, k)
		}
	}
	if envVal := os.Getenv("GOTUNE_WORKER_KEYS"); envVal != "" {
		for _, k := range strings.Split(envVal, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.keys = append(cfg.keys, k)
			}
		}
	}
	return cfg
}

// ValidateKey reports whether key is accepted.
func (c *WorkerKeyConfig) ValidateKey(key string) bool {
	for _, k := range c.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// IsEnabled returns true if any worker keys are configured.
func (c *WorkerKeyConfig) IsEnabled() bool {
	return c != nil && len(c.keys) > 0
}

// hashKey creates a short hash of the key for logging purposes.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:8])
}

// workerAuthMiddleware validates the X-Worker-Key header on calls that
// change the scheduler state. With no keys configured access is open.
func workerAuthMiddleware(keyConfig *WorkerKeyConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keyConfig.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			reqID := RequestIDFromContext(r.Context())

			key := r.Header.Get(WorkerKeyHeader)
			if key == "" {
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "worker authentication required (X-Worker-Key header missing)",
				})
				return
			}
			if !keyConfig.ValidateKey(key) {
				logger.Warn("invalid worker key", "key_hash", hashKey(key))
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "invalid worker key",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
