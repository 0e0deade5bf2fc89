package executor

import (
	"context"
	"math"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/me/gotune/pkg/model"
)

// CurveTrainable simulates training with deterministic learning curves.
// Each configuration gets a ceiling and a learning rate derived from a hash
// of its values, so identical configurations always produce identical
// metrics.
type CurveTrainable struct {
	// Mode decides whether curves rise (max) or fall (min).
	Mode model.Mode
	// MaxResource bounds a trial that is never told to stop.
	MaxResource int
	// Step is the resource consumed between two reports.
	Step int
	// Delay is slept before each report.
	Delay time.Duration
}

// NewCurveTrainable creates a curve trainable reporting every step up to
// maxResource.
func NewCurveTrainable(mode model.Mode, maxResource, step int) *CurveTrainable {
	if step < 1 {
		step = 1
	}
	return &CurveTrainable{Mode: mode, MaxResource: maxResource, Step: step}
}

// Name returns "curve".
func (c *CurveTrainable) Name() string {
	return "curve"
}

// Train reports the curve from the resume point on until the decision ends
// training.
func (c *CurveTrainable) Train(ctx context.Context, spec TrialSpec, rep Reporter) error {
	ceiling, rate := curveParams(spec.Config)
	step := max(c.Step, 1)
	for r := spec.ResumeFrom + step; r <= c.MaxResource; r += step {
		if c.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Delay):
			}
		}
		d, err := rep.Report(ctx, r, c.Metric(ceiling, rate, r))
		if err != nil {
			return err
		}
		if !d.KeepsRunning() {
			return nil
		}
	}
	return nil
}

// Metric is the curve value at resource r.
func (c *CurveTrainable) Metric(ceiling, rate float64, r int) float64 {
	progress := ceiling * (1 - math.Exp(-rate*float64(r)))
	if c.Mode == model.ModeMin {
		return 1 - progress
	}
	return progress
}

// curveParams hashes a configuration into a ceiling in [0.5, 1) and a rate
// in [0.02, 0.32).
func curveParams(cfg model.Config) (ceiling, rate float64) {
	h := murmur3.New128()
	for _, name := range cfg.Keys() {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(cfg[name].String()))
		h.Write([]byte{0})
	}
	a, b := h.Sum128()
	ceiling = 0.5 + 0.5*unit(a)
	rate = 0.02 + 0.3*unit(b)
	return ceiling, rate
}

func unit(x uint64) float64 {
	return float64(x>>11) / (1 << 53)
}
