package schema

import (
	"fmt"
	"math"
	"strconv"
)

// #region coerce

// Coerce builds a Context from loosely typed input such as decoded JSON or
// protobuf structs, where integers arrive as float64. Values that cannot be
// coerced are passed through unchanged so Encode reports the mismatch.
func (s *Schema) Coerce(values map[string]any) Context {
	out := make(map[string]any, len(values))
	for k, v := range values {
		a, _, ok := s.Attribute(k)
		if !ok {
			out[k] = v
			continue
		}
		out[k] = coerceValue(a, v)
	}
	return NewContext(out)
}

func coerceValue(a Attribute, v any) any {
	switch a.Kind {
	case KindInt:
		if f, ok := v.(float64); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int(f)
		}
		if str, ok := v.(string); ok {
			if n, err := strconv.Atoi(str); err == nil {
				return n
			}
		}
	case KindBool:
		if str, ok := v.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return v
}

// ParseValue parses the text form of an attribute value (as written by FormatValue).
func ParseValue(a Attribute, text string) (any, error) {
	switch a.Kind {
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %q: %v", ErrSchemaMismatch, a.Name, err)
		}
		return b, nil
	case KindInt:
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %q: %v", ErrSchemaMismatch, a.Name, err)
		}
		return n, nil
	case KindCategorical:
		return text, nil
	}
	return nil, fmt.Errorf("%w: attribute %q has unknown kind %q", ErrSchemaMismatch, a.Name, a.Kind)
}

// FormatValue renders a context value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	default:
		return fmt.Sprint(v)
	}
}

// #endregion coerce
