package policy

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region errors

var (
	// ErrIncompletePolicy is a rule table that does not cover every reachable
	// combination of its attribute domains. Fatal to engine startup.
	ErrIncompletePolicy = errors.New("incomplete policy")
	// ErrPolicyNotTrained is returned by a classifier asked to decide before its first fit.
	ErrPolicyNotTrained = errors.New("policy not trained")
	// ErrInsufficientClasses is returned when training data misses a vocabulary class.
	ErrInsufficientClasses = errors.New("insufficient samples per class")
)

// #endregion errors

// #region kind

// Kind identifies a decision strategy. Interaction records carry the kind
// that produced their action.
type Kind string

const (
	KindRuleTable  Kind = "rule_table"
	KindClassifier Kind = "classifier"
	KindFallback   Kind = "fallback"
)

// #endregion kind

// #region interfaces

// Policy maps an encoded context to an action.
type Policy interface {
	Kind() Kind
	Decide(vec schema.FeatureVector) (schema.Action, error)
}

// Trainable is a policy whose fitted state can be rebuilt from samples.
// Fit never touches published state; Publish replaces it wholesale.
type Trainable interface {
	Policy
	Fit(ctx context.Context, samples []Sample) (*Model, error)
	Publish(m *Model) error
	Current() *Model
}

// #endregion interfaces

// #region sample

// Sample is one labelled training example.
type Sample struct {
	Vector schema.FeatureVector
	Action schema.Action
}

// #endregion sample
