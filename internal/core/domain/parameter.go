package domain

import "fmt"

// ParameterType classifies a tunable parameter.
type ParameterType string

const (
	ParameterDouble      ParameterType = "double"
	ParameterInteger     ParameterType = "integer"
	ParameterCategorical ParameterType = "categorical"
	ParameterDiscrete    ParameterType = "discrete"
)

// ScaleType controls how numeric parameters are sampled.
type ScaleType string

const (
	ScaleLinear     ScaleType = "linear"
	ScaleLog        ScaleType = "log"
	ScaleReverseLog ScaleType = "reverse-log"
)

// ParameterSpec describes one dimension of a study's search space.
type ParameterSpec struct {
	Name string        `json:"name" yaml:"name"`
	Type ParameterType `json:"type" yaml:"type"`

	// Min/Max bound double and integer parameters (both inclusive).
	Min float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// Categories enumerates feasible values for categorical parameters.
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`

	// Levels enumerates feasible values for discrete parameters, ascending.
	Levels []float64 `json:"levels,omitempty" yaml:"levels,omitempty"`

	Scale ScaleType `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// Validate checks internal consistency of the parameter spec.
func (p ParameterSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	switch p.Type {
	case ParameterDouble, ParameterInteger:
		if p.Min > p.Max {
			return fmt.Errorf("parameter %q: min %v > max %v", p.Name, p.Min, p.Max)
		}
		if (p.Scale == ScaleLog || p.Scale == ScaleReverseLog) && p.Min <= 0 {
			return fmt.Errorf("parameter %q: %s scale requires min > 0", p.Name, p.Scale)
		}
	case ParameterCategorical:
		if len(p.Categories) == 0 {
			return fmt.Errorf("parameter %q: categorical without categories", p.Name)
		}
	case ParameterDiscrete:
		if len(p.Levels) == 0 {
			return fmt.Errorf("parameter %q: discrete without levels", p.Name)
		}
	default:
		return fmt.Errorf("parameter %q: unknown type %q", p.Name, p.Type)
	}
	return nil
}

// ValueKind discriminates the payload of a Value.
type ValueKind string

const (
	ValueNumber   ValueKind = "number"
	ValueCategory ValueKind = "category"
)

// Value is a single parameter assignment. Double, integer and discrete
// assignments carry Number; categorical assignments carry Category.
type Value struct {
	Kind     ValueKind `json:"kind"`
	Number   float64   `json:"number,omitempty"`
	Category string    `json:"category,omitempty"`
}

// NumberValue builds a numeric assignment.
func NumberValue(v float64) Value {
	return Value{Kind: ValueNumber, Number: v}
}

// CategoryValue builds a categorical assignment.
func CategoryValue(s string) Value {
	return Value{Kind: ValueCategory, Category: s}
}

// Int returns the assignment rounded to an integer.
func (v Value) Int() int64 {
	return int64(v.Number + 0.5)
}

func (v Value) String() string {
	if v.Kind == ValueCategory {
		return v.Category
	}
	return fmt.Sprintf("%g", v.Number)
}

// InRange reports whether the value is feasible under the spec.
func (p ParameterSpec) InRange(v Value) bool {
	switch p.Type {
	case ParameterDouble, ParameterInteger:
		return v.Kind == ValueNumber && v.Number >= p.Min && v.Number <= p.Max
	case ParameterCategorical:
		if v.Kind != ValueCategory {
			return false
		}
		for _, c := range p.Categories {
			if c == v.Category {
				return true
			}
		}
		return false
	case ParameterDiscrete:
		if v.Kind != ValueNumber {
			return false
		}
		for _, l := range p.Levels {
			if l == v.Number {
				return true
			}
		}
		return false
	}
	return false
}
