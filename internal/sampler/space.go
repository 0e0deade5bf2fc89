// Package sampler declares hyperparameter search spaces and produces
// configurations from them.
package sampler

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/me/gotune/pkg/model"
)

// ErrExhausted is returned when a sampler cannot produce another valid
// configuration. The scheduler treats it as the end of the sample budget.
var ErrExhausted = errors.New("sampler exhausted")

// ErrExprTimeout is returned when a derived expression runs too long.
var ErrExprTimeout = errors.New("expression timed out")

// Distribution names how a parameter's value is drawn.
type Distribution string

const (
	DistUniform    Distribution = "uniform"
	DistLogUniform Distribution = "loguniform"
	DistQUniform   Distribution = "quniform"
	DistRandInt    Distribution = "randint"
	DistChoice     Distribution = "choice"
	DistConstant   Distribution = "constant"
	DistDerived    Distribution = "derived"
)

// Param declares one hyperparameter.
type Param struct {
	Name         string          `yaml:"name" json:"name"`
	Type         model.ValueType `yaml:"type" json:"type"`
	Distribution Distribution    `yaml:"distribution" json:"distribution"`

	// Low and High bound uniform, loguniform, quniform and randint draws.
	// randint includes High.
	Low  float64 `yaml:"low,omitempty" json:"low,omitempty"`
	High float64 `yaml:"high,omitempty" json:"high,omitempty"`
	// Q is the quantization step of quniform.
	Q float64 `yaml:"q,omitempty" json:"q,omitempty"`

	// Values lists the options of choice and the value of constant.
	Values []any `yaml:"values,omitempty" json:"values,omitempty"`

	// Expr is a JavaScript expression over previously declared parameters,
	// e.g. "lr * 10" or "layers > 2 ? 0.5 : 0.1".
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// Space is an ordered list of parameters. Derived parameters may only
// reference parameters declared before them.
type Space struct {
	Params []Param `yaml:"params" json:"params"`
}

// Validate checks the schema of every parameter.
func (s Space) Validate() error {
	if len(s.Params) == 0 {
		return errors.New("space has no params")
	}
	seen := make(map[string]bool, len(s.Params))
	for i, p := range s.Params {
		if err := p.validate(); err != nil {
			return fmt.Errorf("params[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("params[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func (p Param) validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if !isIdent(p.Name) {
		return fmt.Errorf("name %q must be an identifier", p.Name)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%s: unknown type %q", p.Name, p.Type)
	}
	switch p.Distribution {
	case DistUniform, DistQUniform:
		if p.Type != model.TypeFloat {
			return fmt.Errorf("%s: %s requires type float", p.Name, p.Distribution)
		}
		if !(p.Low < p.High) {
			return fmt.Errorf("%s: low (%v) must be below high (%v)", p.Name, p.Low, p.High)
		}
		if p.Distribution == DistQUniform && p.Q <= 0 {
			return fmt.Errorf("%s: quniform requires q > 0", p.Name)
		}
	case DistLogUniform:
		if p.Type != model.TypeFloat {
			return fmt.Errorf("%s: loguniform requires type float", p.Name)
		}
		if p.Low <= 0 || !(p.Low < p.High) {
			return fmt.Errorf("%s: loguniform requires 0 < low < high", p.Name)
		}
	case DistRandInt:
		if p.Type != model.TypeInt {
			return fmt.Errorf("%s: randint requires type int", p.Name)
		}
		if p.Low != math.Trunc(p.Low) || p.High != math.Trunc(p.High) {
			return fmt.Errorf("%s: randint bounds must be integers", p.Name)
		}
		if p.Low > p.High {
			return fmt.Errorf("%s: low (%v) above high (%v)", p.Name, p.Low, p.High)
		}
	case DistChoice, DistConstant:
		if len(p.Values) == 0 {
			return fmt.Errorf("%s: %s requires values", p.Name, p.Distribution)
		}
		if p.Distribution == DistConstant && len(p.Values) != 1 {
			return fmt.Errorf("%s: constant takes exactly one value", p.Name)
		}
		for i, v := range p.Values {
			if _, err := coerce(p.Type, v); err != nil {
				return fmt.Errorf("%s: values[%d]: %w", p.Name, i, err)
			}
		}
	case DistDerived:
		if strings.TrimSpace(p.Expr) == "" {
			return fmt.Errorf("%s: derived requires expr", p.Name)
		}
	default:
		return fmt.Errorf("%s: unknown distribution %q", p.Name, p.Distribution)
	}
	return nil
}

// check verifies a produced value against the declared type and domain.
func (p Param) check(v model.Value) error {
	if v.Type != p.Type {
		return fmt.Errorf("%s: produced %s value for %s param", p.Name, v.Type, p.Type)
	}
	if f, ok := v.AsFloat(); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return fmt.Errorf("%s: non-finite value %v", p.Name, f)
	}
	switch p.Distribution {
	case DistUniform, DistLogUniform, DistQUniform:
		// quniform rounds to the grid and may land on either bound.
		if v.Float < p.Low || v.Float > p.High {
			return fmt.Errorf("%s: %v outside [%v, %v]", p.Name, v.Float, p.Low, p.High)
		}
	case DistRandInt:
		if float64(v.Int) < p.Low || float64(v.Int) > p.High {
			return fmt.Errorf("%s: %d outside [%v, %v]", p.Name, v.Int, p.Low, p.High)
		}
	case DistChoice, DistConstant:
		for _, raw := range p.Values {
			if c, err := coerce(p.Type, raw); err == nil && c == v {
				return nil
			}
		}
		return fmt.Errorf("%s: %s not among declared values", p.Name, v)
	}
	return nil
}

// coerce converts a raw YAML/JSON value to the declared type. Integral
// floats are accepted for int params since JSON decodes all numbers as
// float64.
func coerce(t model.ValueType, raw any) (model.Value, error) {
	switch t {
	case model.TypeFloat:
		switch x := raw.(type) {
		case float64:
			return model.FloatValue(x), nil
		case float32:
			return model.FloatValue(float64(x)), nil
		case int:
			return model.FloatValue(float64(x)), nil
		case int64:
			return model.FloatValue(float64(x)), nil
		}
	case model.TypeInt:
		switch x := raw.(type) {
		case int:
			return model.IntValue(int64(x)), nil
		case int64:
			return model.IntValue(x), nil
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
				return model.IntValue(int64(x)), nil
			}
		}
	case model.TypeString:
		if s, ok := raw.(string); ok {
			return model.StringValue(s), nil
		}
	case model.TypeBool:
		if b, ok := raw.(bool); ok {
			return model.BoolValue(b), nil
		}
	}
	return model.Value{}, fmt.Errorf("%v (%T) is not a %s", raw, raw, t)
}

func isIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}
