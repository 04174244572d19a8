package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// #region codec

// Codec maps contexts to feature vectors and labels to actions. The
// attribute order and category order are fixed at construction.
type Codec struct {
	schema      *Schema
	actions     []Action
	labels      map[Action]int
	fingerprint string
}

// NewCodec binds a schema to an action vocabulary.
func NewCodec(s *Schema, vocabulary []Action) (*Codec, error) {
	if s == nil {
		return nil, fmt.Errorf("codec: nil schema")
	}
	if len(vocabulary) == 0 {
		return nil, fmt.Errorf("codec: empty action vocabulary")
	}
	c := &Codec{
		schema:  s,
		actions: make([]Action, 0, len(vocabulary)),
		labels:  make(map[Action]int, len(vocabulary)),
	}
	for _, a := range vocabulary {
		if a == "" {
			return nil, fmt.Errorf("codec: empty action in vocabulary")
		}
		if _, dup := c.labels[a]; dup {
			return nil, fmt.Errorf("codec: duplicate action %q", a)
		}
		c.labels[a] = len(c.actions)
		c.actions = append(c.actions, a)
	}
	c.fingerprint = computeFingerprint(s, c.actions)
	return c, nil
}

// Schema returns the bound schema.
func (c *Codec) Schema() *Schema { return c.schema }

// Vocabulary returns the actions in label order.
func (c *Codec) Vocabulary() []Action {
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

// Classes is the number of distinct labels.
func (c *Codec) Classes() int { return len(c.actions) }

// Fingerprint identifies the attribute layout and vocabulary. Trained state
// recorded under one fingerprint is invalid under any other.
func (c *Codec) Fingerprint() string { return c.fingerprint }

// CheckFingerprint reports ErrSchemaDrift when fp was produced by a different layout.
func (c *Codec) CheckFingerprint(fp string) error {
	if fp != c.fingerprint {
		return fmt.Errorf("%w: have %.12s, trained %.12s", ErrSchemaDrift, c.fingerprint, fp)
	}
	return nil
}

// #endregion codec

// #region encode

// Encode converts a context into a feature vector in schema order.
func (c *Codec) Encode(ctx Context) (FeatureVector, error) {
	if ctx.Len() != c.schema.Arity() {
		for _, name := range ctx.Names() {
			if _, _, ok := c.schema.Attribute(name); !ok {
				return nil, fmt.Errorf("%w: undeclared attribute %q", ErrSchemaMismatch, name)
			}
		}
	}
	vec := make(FeatureVector, c.schema.Arity())
	for i, a := range c.schema.attrs {
		raw, ok := ctx.Get(a.Name)
		if !ok {
			return nil, fmt.Errorf("%w: missing attribute %q", ErrSchemaMismatch, a.Name)
		}
		v, err := encodeValue(a, raw)
		if err != nil {
			return nil, err
		}
		vec[i] = v
	}
	return vec, nil
}

func encodeValue(a Attribute, raw any) (float64, error) {
	switch a.Kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return 0, fmt.Errorf("%w: attribute %q wants bool, got %T", ErrSchemaMismatch, a.Name, raw)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case KindInt:
		n, ok := raw.(int)
		if !ok {
			return 0, fmt.Errorf("%w: attribute %q wants int, got %T", ErrSchemaMismatch, a.Name, raw)
		}
		if n < a.Min || n > a.Max {
			return 0, fmt.Errorf("%w: attribute %q value %d outside [%d,%d]", ErrSchemaMismatch, a.Name, n, a.Min, a.Max)
		}
		return float64(n), nil
	case KindCategorical:
		s, ok := raw.(string)
		if !ok {
			return 0, fmt.Errorf("%w: attribute %q wants string, got %T", ErrSchemaMismatch, a.Name, raw)
		}
		for i, cat := range a.Categories {
			if cat == s {
				return float64(i), nil
			}
		}
		return 0, fmt.Errorf("%w: attribute %q has no category %q", ErrSchemaMismatch, a.Name, s)
	}
	return 0, fmt.Errorf("%w: attribute %q has unknown kind %q", ErrSchemaMismatch, a.Name, a.Kind)
}

// #endregion encode

// #region decode

// Decode maps a numeric label back to its action.
func (c *Codec) Decode(label int) (Action, error) {
	if label < 0 || label >= len(c.actions) {
		return "", fmt.Errorf("%w: %d (vocabulary size %d)", ErrUnknownLabel, label, len(c.actions))
	}
	return c.actions[label], nil
}

// Label is the inverse of Decode.
func (c *Codec) Label(a Action) (int, error) {
	l, ok := c.labels[a]
	if !ok {
		return -1, fmt.Errorf("%w: action %q not in vocabulary", ErrUnknownLabel, a)
	}
	return l, nil
}

// DecodeVector rebuilds the context a vector was encoded from.
func (c *Codec) DecodeVector(vec FeatureVector) (Context, error) {
	if len(vec) != c.schema.Arity() {
		return Context{}, fmt.Errorf("%w: vector length %d, schema arity %d", ErrSchemaMismatch, len(vec), c.schema.Arity())
	}
	values := make(map[string]any, len(vec))
	for i, a := range c.schema.attrs {
		v := vec[i]
		switch a.Kind {
		case KindBool:
			values[a.Name] = v != 0
		case KindInt:
			values[a.Name] = int(v)
		case KindCategorical:
			idx := int(v)
			if idx < 0 || idx >= len(a.Categories) || float64(idx) != v {
				return Context{}, fmt.Errorf("%w: attribute %q has no category index %v", ErrSchemaMismatch, a.Name, v)
			}
			values[a.Name] = a.Categories[idx]
		}
	}
	return NewContext(values), nil
}

// #endregion decode

// #region fingerprint

func computeFingerprint(s *Schema, actions []Action) string {
	var b strings.Builder
	for _, a := range s.attrs {
		b.WriteString(a.Name)
		b.WriteByte('|')
		b.WriteString(string(a.Kind))
		b.WriteByte('|')
		switch a.Kind {
		case KindInt:
			b.WriteString(strconv.Itoa(a.Min))
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(a.Max))
		case KindCategorical:
			b.WriteString(strings.Join(a.Categories, ","))
		}
		b.WriteByte(';')
	}
	b.WriteString("#")
	for _, act := range actions {
		b.WriteString(string(act))
		b.WriteByte(',')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// #endregion fingerprint
