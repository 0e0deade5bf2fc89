// Package scheduler owns the state of a tuning run: it hands out trials,
// routes metric reports to the asha brackets and applies their decisions.
package scheduler

import "context"

// Background is a periodic component driven by a ticker.
type Background interface {
	// Start begins the loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the loop.
	Stop() error

	// Tick runs a single iteration. Used for testing.
	Tick(ctx context.Context) error
}
