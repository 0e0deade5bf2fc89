package asha

import (
	"errors"
	"fmt"
	"math"

	"github.com/me/gotune/pkg/model"
)

// Config describes the successive-halving ladders of a tuning run.
type Config struct {
	// ReductionFactor relates survivor counts of consecutive rungs: the top
	// 1/ReductionFactor of a rung is promoted.
	ReductionFactor float64 `json:"reduction_factor"`
	MinResource     int     `json:"min_resource"`
	MaxResource     int     `json:"max_resource"`
	// Brackets is the number of concurrent ladders. Bracket 0 is the most
	// aggressive one (most rungs).
	Brackets int `json:"brackets"`
	// Rungs overrides the geometric milestones of bracket 0. Bracket s
	// uses Rungs[s:].
	Rungs []int      `json:"rungs,omitempty"`
	Mode  model.Mode `json:"mode"`
	// Async enables online promotion while a rung is still open.
	Async bool `json:"async"`
}

// DefaultConfig returns the classic ASHA setup.
func DefaultConfig() Config {
	return Config{
		ReductionFactor: 4,
		MinResource:     1,
		MaxResource:     100,
		Brackets:        1,
		Mode:            model.ModeMax,
		Async:           true,
	}
}

// Validate checks the ladder parameters.
func (c Config) Validate() error {
	if c.ReductionFactor < 2 {
		return fmt.Errorf("reduction_factor must be >= 2, got %v", c.ReductionFactor)
	}
	if c.Mode != model.ModeMax && c.Mode != model.ModeMin {
		return fmt.Errorf("mode must be %q or %q, got %q", model.ModeMax, model.ModeMin, c.Mode)
	}
	if c.Brackets < 1 {
		return fmt.Errorf("brackets must be >= 1, got %d", c.Brackets)
	}
	if len(c.Rungs) > 0 {
		for i, r := range c.Rungs {
			if r < 1 {
				return fmt.Errorf("rungs[%d] must be positive, got %d", i, r)
			}
			if i > 0 && r <= c.Rungs[i-1] {
				return fmt.Errorf("rungs must be strictly increasing: %v", c.Rungs)
			}
		}
		if c.Brackets > len(c.Rungs) {
			return fmt.Errorf("brackets (%d) exceeds number of rungs (%d)", c.Brackets, len(c.Rungs))
		}
		return nil
	}
	if c.MinResource < 1 {
		return fmt.Errorf("min_resource must be >= 1, got %d", c.MinResource)
	}
	if c.MaxResource < c.MinResource {
		return fmt.Errorf("max_resource (%d) must be >= min_resource (%d)", c.MaxResource, c.MinResource)
	}
	if n := len(Milestones(c, 0)); c.Brackets > n {
		return fmt.Errorf("brackets (%d) exceeds number of rungs (%d)", c.Brackets, n)
	}
	return nil
}

// Milestones returns the rung resource levels of bracket s. The last
// milestone is always the maximum resource.
func Milestones(c Config, s int) []int {
	if len(c.Rungs) > 0 {
		if s >= len(c.Rungs) {
			return []int{c.Rungs[len(c.Rungs)-1]}
		}
		return append([]int(nil), c.Rungs[s:]...)
	}
	var out []int
	for k := 0; ; k++ {
		level := int(math.Floor(float64(c.MinResource) * math.Pow(c.ReductionFactor, float64(k+s))))
		if level > c.MaxResource {
			break
		}
		if len(out) > 0 && level <= out[len(out)-1] {
			continue
		}
		out = append(out, level)
	}
	if len(out) == 0 || out[len(out)-1] < c.MaxResource {
		out = append(out, c.MaxResource)
	}
	return out
}

// Quotas splits numSamples across brackets so that every bracket spends a
// roughly equal resource budget: a bracket with n rungs evaluates about
// rf^(n-1) configurations for n rungs' worth of budget. Every bracket gets
// at least one trial and the remainder goes to bracket 0.
func Quotas(c Config, numSamples int) []int {
	weights := make([]float64, c.Brackets)
	var total float64
	for s := 0; s < c.Brackets; s++ {
		n := len(Milestones(c, s))
		weights[s] = math.Pow(c.ReductionFactor, float64(n-1)) / float64(n)
		total += weights[s]
	}
	quotas := make([]int, c.Brackets)
	allocated := 0
	for s := range quotas {
		quotas[s] = max(int(weights[s]/total*float64(numSamples)), 1)
		allocated += quotas[s]
	}
	quotas[0] += max(numSamples-allocated, 0)
	return quotas
}

// NewBrackets builds the brackets of a run.
func NewBrackets(c Config, numSamples int) ([]*Bracket, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if numSamples < 1 {
		return nil, errors.New("num_samples must be >= 1")
	}
	quotas := Quotas(c, numSamples)
	brackets := make([]*Bracket, 0, c.Brackets)
	for s := 0; s < c.Brackets; s++ {
		brackets = append(brackets, newBracket(s, Milestones(c, s), quotas[s], c))
	}
	return brackets, nil
}
