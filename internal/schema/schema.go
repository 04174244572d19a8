package schema

import (
	"fmt"
	"math"
	"sort"
)

// #region schema

// Schema is the ordered attribute layout shared by every encode and decode call.
type Schema struct {
	attrs []Attribute
	index map[string]int
}

// NewSchema validates and freezes an attribute layout.
func NewSchema(attrs ...Attribute) (*Schema, error) {
	if len(attrs) == 0 {
		return nil, fmt.Errorf("schema: no attributes declared")
	}
	s := &Schema{
		attrs: make([]Attribute, 0, len(attrs)),
		index: make(map[string]int, len(attrs)),
	}
	for _, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("schema: attribute %d has no name", len(s.attrs))
		}
		if _, dup := s.index[a.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate attribute %q", a.Name)
		}
		switch a.Kind {
		case KindBool:
		case KindInt:
			if a.Min > a.Max {
				return nil, fmt.Errorf("schema: attribute %q has min %d > max %d", a.Name, a.Min, a.Max)
			}
		case KindCategorical:
			if len(a.Categories) == 0 {
				return nil, fmt.Errorf("schema: categorical attribute %q has no categories", a.Name)
			}
			seen := make(map[string]bool, len(a.Categories))
			for _, c := range a.Categories {
				if seen[c] {
					return nil, fmt.Errorf("schema: attribute %q repeats category %q", a.Name, c)
				}
				seen[c] = true
			}
			cats := make([]string, len(a.Categories))
			copy(cats, a.Categories)
			a.Categories = cats
		default:
			return nil, fmt.Errorf("schema: attribute %q has unknown kind %q", a.Name, a.Kind)
		}
		s.index[a.Name] = len(s.attrs)
		s.attrs = append(s.attrs, a)
	}
	return s, nil
}

// Arity is the feature vector length.
func (s *Schema) Arity() int { return len(s.attrs) }

// Attributes returns a copy of the layout in encoding order.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, len(s.attrs))
	for i, a := range s.attrs {
		out[i] = a
		if a.Kind == KindCategorical {
			out[i].Categories = a.Domain()
		}
	}
	return out
}

// Attribute looks up an attribute and its position.
func (s *Schema) Attribute(name string) (Attribute, int, bool) {
	i, ok := s.index[name]
	if !ok {
		return Attribute{}, -1, false
	}
	return s.attrs[i], i, true
}

// Names returns attribute names in encoding order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.attrs))
	for i, a := range s.attrs {
		out[i] = a.Name
	}
	return out
}

// #endregion schema

// #region context

// Context is an immutable set of named attribute values for one decision.
type Context struct {
	values map[string]any
}

// NewContext copies values into a new Context. Accepted value types are
// bool, int (any Go integer width) and string. Unsigned values above
// math.MaxInt are kept as is and fail Encode with a type mismatch.
func NewContext(values map[string]any) Context {
	c := Context{values: make(map[string]any, len(values))}
	for k, v := range values {
		c.values[k] = normalizeValue(v)
	}
	return c
}

// Get returns the value of a named attribute.
func (c Context) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Len is the number of attributes set.
func (c Context) Len() int { return len(c.values) }

// Names returns the set attribute names sorted lexically.
func (c Context) Names() []string {
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Map returns a copy of the underlying values.
func (c Context) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint:
		return uintToInt(uint64(n), v)
	case uint64:
		return uintToInt(n, v)
	case uintptr:
		return uintToInt(uint64(n), v)
	default:
		return v
	}
}

// uintToInt keeps v as is when n does not fit an int, so Encode reports it.
func uintToInt(n uint64, v any) any {
	if n > math.MaxInt {
		return v
	}
	return int(n)
}

// #endregion context
