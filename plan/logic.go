package plan

import (
	"bytes"
	"maps"
	"slices"
)

// Well-known Logic attribute names.
const (
	// AttrUDF names the user function implementation.
	AttrUDF = "udf"

	// AttrOperatorType names the operator kind (map, filter, keyed_process...).
	AttrOperatorType = "operator_type"

	// AttrVersion carries a user-defined logic version.
	AttrVersion = "version"
)

// AttributeKind identifies the value type held by an Attribute.
type AttributeKind string

// Attribute kinds.
const (
	KindString AttributeKind = "string"
	KindInt    AttributeKind = "int"
	KindFloat  AttributeKind = "float"
	KindBool   AttributeKind = "bool"
	KindBytes  AttributeKind = "bytes"
)

// Attribute is a typed configuration value. Only the field matching Kind is meaningful.
type Attribute struct {
	Kind  AttributeKind `json:"kind"`
	Str   string        `json:"str,omitempty"`
	Int   int64         `json:"int,omitempty"`
	Float float64       `json:"float,omitempty"`
	Bool  bool          `json:"bool,omitempty"`
	Bytes []byte        `json:"bytes,omitempty"`
}

// StringAttr returns a string attribute.
func StringAttr(v string) Attribute { return Attribute{Kind: KindString, Str: v} }

// IntAttr returns an integer attribute.
func IntAttr(v int64) Attribute { return Attribute{Kind: KindInt, Int: v} }

// FloatAttr returns a float attribute.
func FloatAttr(v float64) Attribute { return Attribute{Kind: KindFloat, Float: v} }

// BoolAttr returns a boolean attribute.
func BoolAttr(v bool) Attribute { return Attribute{Kind: KindBool, Bool: v} }

// BytesAttr returns a byte-string attribute; v is copied.
func BytesAttr(v []byte) Attribute { return Attribute{Kind: KindBytes, Bytes: bytes.Clone(v)} }

func (a Attribute) equal(b Attribute) bool {
	return a.Kind == b.Kind && a.Str == b.Str && a.Int == b.Int &&
		a.Float == b.Float && a.Bool == b.Bool && bytes.Equal(a.Bytes, b.Bytes)
}

// Logic is an operator's processing-logic record: a set of named, typed attributes.
//
// A Logic is replaced wholesale on update. Values returned by the plan are
// copies; modifying them never affects the plan.
type Logic map[string]Attribute

// NewLogic returns a Logic holding a copy of attrs.
//
// Example:
//
//	logic := plan.NewLogic(map[string]plan.Attribute{
//	    plan.AttrUDF:     plan.StringAttr("dedupe-v2"),
//	    plan.AttrVersion: plan.IntAttr(2),
//	})
func NewLogic(attrs map[string]Attribute) Logic {
	return Logic(attrs).Clone()
}

// Clone returns a deep copy.
func (l Logic) Clone() Logic {
	if l == nil {
		return nil
	}

	out := make(Logic, len(l))
	for name, attr := range l {
		attr.Bytes = bytes.Clone(attr.Bytes)
		out[name] = attr
	}

	return out
}

// Equal reports whether both records hold the same attributes.
func (l Logic) Equal(other Logic) bool {
	return maps.EqualFunc(l, other, Attribute.equal)
}

// Names returns the attribute names in sorted order.
func (l Logic) Names() []string {
	return slices.Sorted(maps.Keys(l))
}

// String returns a string attribute.
func (l Logic) String(name string) (string, bool) {
	attr, ok := l[name]
	if !ok || attr.Kind != KindString {
		return "", false
	}

	return attr.Str, true
}

// Int returns an integer attribute.
func (l Logic) Int(name string) (int64, bool) {
	attr, ok := l[name]
	if !ok || attr.Kind != KindInt {
		return 0, false
	}

	return attr.Int, true
}

// Float returns a float attribute.
func (l Logic) Float(name string) (float64, bool) {
	attr, ok := l[name]
	if !ok || attr.Kind != KindFloat {
		return 0, false
	}

	return attr.Float, true
}

// Bool returns a boolean attribute.
func (l Logic) Bool(name string) (bool, bool) {
	attr, ok := l[name]
	if !ok || attr.Kind != KindBool {
		return false, false
	}

	return attr.Bool, true
}

// Bytes returns a copy of a byte-string attribute.
func (l Logic) Bytes(name string) ([]byte, bool) {
	attr, ok := l[name]
	if !ok || attr.Kind != KindBytes {
		return nil, false
	}

	return bytes.Clone(attr.Bytes), true
}
