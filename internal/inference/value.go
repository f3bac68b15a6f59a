package inference

import (
	"encoding/json"
	"fmt"
	"slices"
)

type ValueKind int

const (
	KindScalar ValueKind = iota
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is either a single string or an ordered list of strings. Callers
// switch on Kind rather than inspecting the underlying representation.
type Value struct {
	kind   ValueKind
	scalar string
	list   []string
}

func Scalar(value string) Value {
	return Value{kind: KindScalar, scalar: value}
}

func List(values ...string) Value {
	return Value{kind: KindList, list: slices.Clone(values)}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsList() bool { return v.kind == KindList }

// Scalar returns the single value; ok is false for lists.
func (v Value) Scalar() (string, bool) {
	if v.kind != KindScalar {
		return "", false
	}
	return v.scalar, true
}

// Strings returns the values in encounter order. A scalar yields a
// one-element slice.
func (v Value) Strings() []string {
	if v.kind == KindList {
		return slices.Clone(v.list)
	}
	return []string{v.scalar}
}

func (v Value) Len() int {
	if v.kind == KindList {
		return len(v.list)
	}
	return 1
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind == KindList {
		return slices.Equal(v.list, other.list)
	}
	return v.scalar == other.scalar
}

func (v Value) String() string {
	if v.kind == KindList {
		return fmt.Sprintf("%q", v.list)
	}
	return v.scalar
}

// appendValue promotes a scalar to a list and appends.
func (v Value) appendValue(value string) Value {
	if v.kind == KindScalar {
		return Value{kind: KindList, list: []string{v.scalar, value}}
	}
	return Value{kind: KindList, list: append(v.list, value)}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindList {
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return json.Marshal(v.scalar)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var scalar string
	if err := json.Unmarshal(data, &scalar); err == nil {
		*v = Scalar(scalar)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("value must be a string or an array of strings: %w", err)
	}
	*v = Value{kind: KindList, list: list}
	return nil
}
