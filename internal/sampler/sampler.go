package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dop251/goja"

	"github.com/me/gotune/pkg/model"
)

// Sampler produces the configuration of the trial with the given sample
// index. Implementations are deterministic in (seed, index).
type Sampler interface {
	Sample(index int) (model.Config, error)
}

// Kind selects a sampler implementation.
type Kind string

const (
	KindRandom Kind = "random"
	KindGrid   Kind = "grid"
)

// New builds a sampler of the given kind over a validated space.
func New(kind Kind, space Space, seed uint64) (Sampler, error) {
	switch kind {
	case "", KindRandom:
		return NewRandom(space, seed)
	case KindGrid:
		return NewGrid(space, seed)
	default:
		return nil, fmt.Errorf("unknown sampler %q", kind)
	}
}

// ExprTimeout bounds the evaluation of one derived expression. Sampling
// runs inside the scheduler, which must never hang on a user expression.
var ExprTimeout = 250 * time.Millisecond

// base holds what every sampler needs: the space, compiled derived
// expressions and the seed.
type base struct {
	space    Space
	seed     uint64
	programs map[string]*goja.Program
	timeout  time.Duration
}

func newBase(space Space, seed uint64) (*base, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	b := &base{space: space, seed: seed, programs: make(map[string]*goja.Program), timeout: ExprTimeout}
	for _, p := range space.Params {
		if p.Distribution != DistDerived {
			continue
		}
		prog, err := goja.Compile(p.Name, p.Expr, true)
		if err != nil {
			return nil, fmt.Errorf("%s: compile expr: %w", p.Name, err)
		}
		b.programs[p.Name] = prog
	}
	return b, nil
}

// rng returns the random source of sample index i. It depends on nothing
// but (seed, i), so sampling needs no state across checkpoints.
func (b *base) rng(index int) *rand.Rand {
	return rand.New(rand.NewPCG(b.seed, uint64(index)))
}

// build fills cfg in declaration order. fixed holds values already chosen
// by the caller (grid points); everything else is drawn from r.
func (b *base) build(r *rand.Rand, fixed model.Config) (model.Config, error) {
	cfg := make(model.Config, len(b.space.Params))
	var vm *goja.Runtime
	for _, p := range b.space.Params {
		var v model.Value
		var err error
		if fv, ok := fixed[p.Name]; ok {
			v = fv
		} else if p.Distribution == DistDerived {
			if vm == nil {
				vm = goja.New()
			}
			v, err = b.derive(vm, p, cfg)
		} else {
			v, err = draw(p, r)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
		}
		if err := p.check(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		cfg[p.Name] = v
	}
	return cfg, nil
}

func (b *base) derive(vm *goja.Runtime, p Param, cfg model.Config) (model.Value, error) {
	for name, v := range cfg {
		if err := vm.Set(name, v.Any()); err != nil {
			return model.Value{}, fmt.Errorf("%s: set %s: %w", p.Name, name, err)
		}
	}
	timer := time.AfterFunc(b.timeout, func() { vm.Interrupt("timeout") })
	res, err := vm.RunProgram(b.programs[p.Name])
	timer.Stop()
	vm.ClearInterrupt()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return model.Value{}, fmt.Errorf("%s: evaluate %q: %w after %s", p.Name, p.Expr, ErrExprTimeout, b.timeout)
		}
		return model.Value{}, fmt.Errorf("%s: evaluate %q: %w", p.Name, p.Expr, err)
	}
	v, err := coerce(p.Type, res.Export())
	if err != nil {
		return model.Value{}, fmt.Errorf("%s: %w", p.Name, err)
	}
	return v, nil
}

func draw(p Param, r *rand.Rand) (model.Value, error) {
	switch p.Distribution {
	case DistUniform:
		return model.FloatValue(p.clamp(p.Low + r.Float64()*(p.High-p.Low))), nil
	case DistLogUniform:
		lo, hi := math.Log(p.Low), math.Log(p.High)
		return model.FloatValue(p.clamp(math.Exp(lo + r.Float64()*(hi-lo)))), nil
	case DistQUniform:
		x := p.Low + r.Float64()*(p.High-p.Low)
		return model.FloatValue(p.clamp(math.Round(x/p.Q) * p.Q)), nil
	case DistRandInt:
		lo, hi := int64(p.Low), int64(p.High)
		return model.IntValue(lo + r.Int64N(hi-lo+1)), nil
	case DistChoice:
		return coerce(p.Type, p.Values[r.IntN(len(p.Values))])
	case DistConstant:
		return coerce(p.Type, p.Values[0])
	}
	return model.Value{}, fmt.Errorf("%s: cannot draw from %q", p.Name, p.Distribution)
}

// clamp absorbs rounding at the bounds.
func (p Param) clamp(x float64) float64 {
	return math.Min(math.Max(x, p.Low), p.High)
}

// RandomSampler draws every parameter independently.
type RandomSampler struct {
	*base
}

// NewRandom creates a RandomSampler.
func NewRandom(space Space, seed uint64) (*RandomSampler, error) {
	b, err := newBase(space, seed)
	if err != nil {
		return nil, err
	}
	return &RandomSampler{base: b}, nil
}

// Sample returns configuration number index.
func (s *RandomSampler) Sample(index int) (model.Config, error) {
	return s.build(s.rng(index), nil)
}

// GridSampler walks the cartesian product of all choice parameters, last
// declared varying fastest. Other parameters are drawn at random per
// sample. Once every grid point was handed out it returns ErrExhausted.
type GridSampler struct {
	*base
	axes []Param
	size int
}

// NewGrid creates a GridSampler. The space needs at least one choice
// parameter.
func NewGrid(space Space, seed uint64) (*GridSampler, error) {
	b, err := newBase(space, seed)
	if err != nil {
		return nil, err
	}
	g := &GridSampler{base: b, size: 1}
	for _, p := range space.Params {
		if p.Distribution == DistChoice {
			g.axes = append(g.axes, p)
			g.size *= len(p.Values)
		}
	}
	if len(g.axes) == 0 {
		return nil, fmt.Errorf("grid sampler needs at least one choice param")
	}
	return g, nil
}

// Size is the number of grid points.
func (g *GridSampler) Size() int {
	return g.size
}

// Sample returns grid point index.
func (g *GridSampler) Sample(index int) (model.Config, error) {
	if index < 0 || index >= g.size {
		return nil, ErrExhausted
	}
	fixed := make(model.Config, len(g.axes))
	rem := index
	for i := len(g.axes) - 1; i >= 0; i-- {
		p := g.axes[i]
		v, err := coerce(p.Type, p.Values[rem%len(p.Values)])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		fixed[p.Name] = v
		rem /= len(p.Values)
	}
	return g.build(g.rng(index), fixed)
}
