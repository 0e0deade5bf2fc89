package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueType is the declared type of a hyperparameter.
type ValueType string

const (
	TypeFloat  ValueType = "float"
	TypeInt    ValueType = "int"
	TypeString ValueType = "string"
	TypeBool   ValueType = "bool"
)

// Valid reports whether t is a known value type.
func (t ValueType) Valid() bool {
	switch t {
	case TypeFloat, TypeInt, TypeString, TypeBool:
		return true
	}
	return false
}

// Value is one typed hyperparameter value. Only the field matching Type is
// meaningful.
type Value struct {
	Type  ValueType
	Float float64
	Int   int64
	Str   string
	Bool  bool
}

func FloatValue(f float64) Value { return Value{Type: TypeFloat, Float: f} }
func IntValue(i int64) Value     { return Value{Type: TypeInt, Int: i} }
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }
func BoolValue(b bool) Value     { return Value{Type: TypeBool, Bool: b} }

// Any returns the value as a plain Go value.
func (v Value) Any() any {
	switch v.Type {
	case TypeFloat:
		return v.Float
	case TypeInt:
		return v.Int
	case TypeBool:
		return v.Bool
	default:
		return v.Str
	}
}

// String formats the value the way it is exported to trial environments.
func (v Value) String() string {
	switch v.Type {
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// AsFloat returns numeric values as float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.Type {
	case TypeFloat:
		return v.Float, true
	case TypeInt:
		return float64(v.Int), true
	}
	return 0, false
}

type wireValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON keeps the type tag so int and float survive a round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Any())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Type, Value: raw})
}

// UnmarshalJSON decodes the tagged form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Value{Type: w.Type}
	var err error
	switch w.Type {
	case TypeFloat:
		err = json.Unmarshal(w.Value, &out.Float)
	case TypeInt:
		err = json.Unmarshal(w.Value, &out.Int)
	case TypeString:
		err = json.Unmarshal(w.Value, &out.Str)
	case TypeBool:
		err = json.Unmarshal(w.Value, &out.Bool)
	default:
		return fmt.Errorf("unknown value type %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", w.Type, err)
	}
	*v = out
	return nil
}

// Config maps hyperparameter names to sampled values.
type Config map[string]Value

// Clone returns a copy of c.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Plain returns the config as a map of plain Go values, e.g. for JSON
// export to a training process.
func (c Config) Plain() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v.Any()
	}
	return out
}
