package engine

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// ErrNotReady is returned by Decide before any policy is installed.
var ErrNotReady = errors.New("engine not ready: no policy installed")

// #region state

// State is the engine lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateRetraining
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRetraining:
		return "retraining"
	default:
		return "unknown"
	}
}

// #endregion state

// #region config

// Config is everything the engine needs besides its policies.
type Config struct {
	Codec      *schema.Codec
	Retrain    retrain.Config
	Classifier policy.ClassifierConfig
}

// #endregion config

// #region collaborators

// Recorder persists what the engine does. Errors are logged, never returned
// to the Decide caller.
type Recorder interface {
	RecordInteraction(ctx context.Context, rec interaction.Record) error
	RecordRetrain(ctx context.Context, out retrain.Outcome) error
}

// Observer receives telemetry.
type Observer interface {
	ObserveDecision(source policy.Kind, action schema.Action, took time.Duration)
	ObserveRejected(reason string)
	ObserveRetrain(out retrain.Outcome)
	ObserveLogSize(n int)
}

// #endregion collaborators

// #region stats

// Stats is a read-only view for status endpoints.
type Stats struct {
	State         State
	PolicyKind    policy.Kind
	LogSize       int
	Interactions  uint64
	RetrainCycles uint64
	ModelVersion  string
	LastRetrain   *retrain.Outcome
}

// #endregion stats
