package zset

import (
	"encoding/json"
	"fmt"
	"math"
)

// Tuple represents an unstructured row as map[string]any. Values may contain
// embedded maps, slices, and primitives (int64, float64, string, bool).
type Tuple = map[string]any

// NewTuple creates an empty tuple.
func NewTuple() Tuple { return make(Tuple) }

// TupleFromPairs creates a tuple from key-value pairs.
func TupleFromPairs(pairs ...any) (Tuple, error) {
	if len(pairs)%2 != 0 {
		return nil, NewZSetError("TupleFromPairs requires an even number of arguments (key-value pairs)", nil)
	}

	t := make(Tuple)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, NewZSetError(fmt.Sprintf("key at position %d must be a string", i), nil)
		}
		t[key] = pairs[i+1]
	}

	return t, nil
}

// canonicalKey creates a deterministic JSON representation for tuple
// identity. This is the key function that defines tuple equality.
func canonicalKey(t Tuple) (string, error) {
	canonical, err := toCanonicalForm(t)
	if err != nil {
		return "", NewZSetError("failed to convert tuple to canonical form", err)
	}

	bytes, err := json.Marshal(canonical)
	if err != nil {
		return "", NewZSetError("failed to marshal tuple to JSON", err)
	}

	return string(bytes), nil
}

// toCanonicalForm ensures a deterministic JSON representation, recursively
// processing nested structures while preserving semantics.
func toCanonicalForm(val any) (any, error) {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any)
		for k, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, NewZSetError(fmt.Sprintf("failed to canonicalize map field %q", k), err)
			}
			result[k] = canonical
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, NewZSetError(fmt.Sprintf("failed to canonicalize array element at index %d", i), err)
			}
			result[i] = canonical
		}
		return result, nil

	case int64, float64, string, bool, nil:
		return v, nil

	default:
		return v, nil
	}
}

// DeepEqual checks if two tuples are equal using canonical JSON comparison.
func DeepEqual(a, b Tuple) (bool, error) {
	keyA, err := canonicalKey(a)
	if err != nil {
		return false, NewZSetError("failed to compute key for first tuple", err)
	}

	keyB, err := canonicalKey(b)
	if err != nil {
		return false, NewZSetError("failed to compute key for second tuple", err)
	}

	return keyA == keyB, nil
}

// deepCopyAny creates a deep copy of a tuple or any nested structure.
func deepCopyAny(val any) any {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any)
		for k, subVal := range v {
			result[k] = deepCopyAny(subVal)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			result[i] = deepCopyAny(subVal)
		}
		return result

	default:
		// Primitives can be copied directly.
		return v
	}
}

// DeepCopyTuple creates a deep copy of a tuple.
func DeepCopyTuple(t Tuple) Tuple {
	c, ok := deepCopyAny(t).(Tuple)
	if !ok {
		return nil
	}
	return c
}

// CanonicalAny creates a deterministic JSON representation for an arbitrary
// value, usable as a map key.
func CanonicalAny(val any) (string, error) {
	bytes, err := json.Marshal(val)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value to JSON: %w", err)
	}
	return string(bytes), nil
}

// FieldKind is the type tag of a schema field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindBool   FieldKind = "bool"
	KindObject FieldKind = "object"
	KindArray  FieldKind = "array"
	// KindAny accepts any value, including nil.
	KindAny FieldKind = "any"
)

// Schema declares the expected shape of the tuples of a logical table: a
// field name to kind mapping. Schemas are enforced at the ingestion boundary
// so that malformed tuples never enter an operator trace.
type Schema map[string]FieldKind

// Validate checks a tuple against the schema and returns a SchemaMismatch
// error on the first violation. Fields not named by the schema are rejected,
// and every schema field must be present.
func (s Schema) Validate(t Tuple) error {
	if t == nil {
		return NewSchemaMismatchError("tuple is nil", nil)
	}

	for field := range t {
		if _, ok := s[field]; !ok {
			return NewSchemaMismatchError(fmt.Sprintf("unexpected field %q", field), nil)
		}
	}

	for field, kind := range s {
		val, ok := t[field]
		if !ok {
			return NewSchemaMismatchError(fmt.Sprintf("missing field %q", field), nil)
		}
		if err := checkKind(val, kind); err != nil {
			return NewSchemaMismatchError(fmt.Sprintf("field %q", field), err)
		}
	}

	return nil
}

// NewTuple validates key-value pairs against the schema and returns the
// resulting tuple, failing with a SchemaMismatch error on violation.
func (s Schema) NewTuple(pairs ...any) (Tuple, error) {
	t, err := TupleFromPairs(pairs...)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

func checkKind(val any, kind FieldKind) error {
	if kind == KindAny {
		return nil
	}

	ok := false
	switch kind {
	case KindString:
		_, ok = val.(string)
	case KindInt:
		switch v := val.(type) {
		case int, int32, int64:
			ok = true
		case float64:
			// JSON decoding yields float64 for every number.
			ok = v == math.Trunc(v)
		}
	case KindFloat:
		_, ok = val.(float64)
	case KindBool:
		_, ok = val.(bool)
	case KindObject:
		_, ok = val.(map[string]any)
	case KindArray:
		_, ok = val.([]any)
	default:
		return fmt.Errorf("unknown field kind %q", kind)
	}

	if !ok {
		return fmt.Errorf("value %v has wrong type %T", val, val)
	}
	return nil
}
