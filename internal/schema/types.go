package schema

import (
	"errors"
	"fmt"
)

// #region errors

var (
	// ErrSchemaMismatch is returned when a context does not conform to the schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrSchemaDrift marks trained state fitted under a different attribute layout.
	ErrSchemaDrift = fmt.Errorf("%w: trained under a different layout", ErrSchemaMismatch)
	// ErrUnknownLabel is returned when a numeric label has no action mapping.
	ErrUnknownLabel = errors.New("unknown label")
)

// #endregion errors

// #region kind

// Kind is the value domain of an attribute.
type Kind string

const (
	KindBool        Kind = "bool"
	KindInt         Kind = "int"
	KindCategorical Kind = "categorical"
)

// #endregion kind

// #region attribute

// Attribute declares one named input of the decision context.
// Categories is the fixed, ordered domain of a categorical attribute; its
// position order is the encoding and must not change once a model is trained.
type Attribute struct {
	Name       string   `yaml:"name" json:"name"`
	Kind       Kind     `yaml:"kind" json:"kind"`
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
	Min        int      `yaml:"min,omitempty" json:"min,omitempty"`
	Max        int      `yaml:"max,omitempty" json:"max,omitempty"`
}

// Discrete reports whether the attribute has a finite enumerable domain
// a rule table can branch on.
func (a Attribute) Discrete() bool {
	return a.Kind == KindBool || a.Kind == KindCategorical
}

// Domain returns the branch keys of a discrete attribute in encoding order.
func (a Attribute) Domain() []string {
	switch a.Kind {
	case KindBool:
		return []string{"false", "true"}
	case KindCategorical:
		out := make([]string, len(a.Categories))
		copy(out, a.Categories)
		return out
	default:
		return nil
	}
}

// #endregion attribute

// #region action

// Action is one symbol of the fixed action vocabulary.
type Action string

// FeatureVector is the numeric encoding of a Context in schema order.
type FeatureVector []float64

// #endregion action
