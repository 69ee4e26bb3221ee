package cim

import (
	"encoding/json"
	"strconv"
)

// Value is a CIM value wrapper: either Plain ({"value": x}) or Coded
// ({"codingScheme": s, "value": x}). Bare scalars on the wire unwrap to the
// same string form.
type Value interface {
	String() string
	isValue()
}

// Plain is a {"value": scalar} wrapper.
type Plain struct {
	Scalar  string
	Numeric bool
}

// Coded is a {"codingScheme": scheme, "value": value} wrapper.
type Coded struct {
	Scheme string
	Value  string
}

// Text wraps a string scalar.
func Text(v string) Plain { return Plain{Scalar: v} }

// Number wraps a numeric scalar.
func Number(v int) Plain { return Plain{Scalar: strconv.Itoa(v), Numeric: true} }

// GLN wraps a participant identifier in the GS1 coding scheme.
func GLN(v string) Coded { return Coded{Scheme: SchemeGS1, Value: v} }

// GSRN wraps a metering point identifier in the GS1 coding scheme.
func GSRN(v string) Coded { return Coded{Scheme: SchemeGS1, Value: v} }

func (p Plain) String() string { return p.Scalar }
func (Plain) isValue() {}

func (c Coded) String() string { return c.Value }
func (Coded) isValue() {}

// MarshalJSON encodes the wrapper object.
func (p Plain) MarshalJSON() ([]byte, error) {
	if p.Numeric {
		return json.Marshal(map[string]json.Number{"value": json.Number(p.Scalar)})
	}
	return json.Marshal(map[string]string{"value": p.Scalar})
}

// MarshalJSON encodes the wrapper object.
func (c Coded) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"codingScheme": c.Scheme, "value": c.Value})
}

// ParseValue converts a decoded JSON node into a Value. Nested wrappers
// ({"value": {"value": x}}) are unwrapped recursively.
func ParseValue(raw any) (Value, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case string:
		return Plain{Scalar: v}, true
	case json.Number:
		return Plain{Scalar: v.String(), Numeric: true}, true
	case float64:
		return Plain{Scalar: strconv.FormatFloat(v, 'f', -1, 64), Numeric: true}, true
	case bool:
		return Plain{Scalar: strconv.FormatBool(v)}, true
	case map[string]any:
		inner, ok := v["value"]
		if !ok {
			return nil, false
		}
		value, ok := ParseValue(inner)
		if !ok {
			return nil, false
		}
		if scheme, ok := v["codingScheme"].(string); ok {
			return Coded{Scheme: scheme, Value: value.String()}, true
		}
		if coded, ok := value.(Coded); ok {
			return coded, true
		}
		return value, true
	default:
		return nil, false
	}
}

// Unwrap returns the scalar string carried by a decoded JSON node.
func Unwrap(raw any) (string, bool) {
	value, ok := ParseValue(raw)
	if !ok {
		return "", false
	}
	return value.String(), true
}
