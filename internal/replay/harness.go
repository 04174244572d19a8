package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// ErrNondeterministic is returned when two replays of the same input disagree.
var ErrNondeterministic = errors.New("replay is not deterministic")

// #region types
// Interaction represents a single recorded decide call for replay.
type Interaction struct {
	TurnID  string
	Context schema.Context
}

// ReplayResult captures the outcome of replaying one interaction.
type ReplayResult struct {
	TurnID string
	Action schema.Action
	Source policy.Kind
	Err    error

	// Retrain is set when this turn triggered a cycle.
	Retrain *retrain.Outcome
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTurns        int
	Decisions         int
	Failures          int
	Retrains          int
	RetrainsPublished int
	RetrainsFailed    int
	FinalPolicy       policy.Kind
}

// Mismatch is a turn whose replayed result differs from the expectation.
type Mismatch struct {
	TurnID   string
	Expected FixtureExpectedResult
	Actual   ReplayResult
}

// #endregion types

// #region replay
// Replay runs interactions through a fresh engine built from cfg. Retraining
// is forced synchronous so results depend only on the input order.
func Replay(ctx context.Context, cfg config.Config, interactions []Interaction) ([]ReplayResult, ReplaySummary, error) {
	cfg.Retrain.Async = false
	e, _, err := config.NewEngine(cfg)
	if err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("build engine: %w", err)
	}
	defer e.Close()

	results := make([]ReplayResult, 0, len(interactions))
	for _, inter := range interactions {
		before := e.Stats().RetrainCycles
		rec, err := e.DecideRecord(ctx, inter.Context)
		r := ReplayResult{TurnID: inter.TurnID, Action: rec.Action, Source: rec.Source, Err: err}
		if e.Stats().RetrainCycles != before {
			if out, ok := e.LastRetrain(); ok {
				r.Retrain = &out
			}
		}
		results = append(results, r)
	}
	return results, Summarize(results, e), nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, e *engine.Engine) ReplaySummary {
	s := ReplaySummary{TotalTurns: len(results)}
	if e != nil {
		s.FinalPolicy = e.PolicyKind()
	}
	for _, r := range results {
		if r.Err != nil {
			s.Failures++
		} else {
			s.Decisions++
		}
		if r.Retrain != nil {
			s.Retrains++
			if r.Retrain.Published() {
				s.RetrainsPublished++
			} else {
				s.RetrainsFailed++
			}
		}
	}
	return s
}

// #endregion replay

// #region compare
// Compare lines results up with expectations by position.
func Compare(results []ReplayResult, expected []FixtureExpectedResult) []Mismatch {
	var out []Mismatch
	for i, exp := range expected {
		if i >= len(results) {
			out = append(out, Mismatch{TurnID: exp.TurnID, Expected: exp})
			continue
		}
		got := results[i]
		if got.TurnID != exp.TurnID || string(got.Action) != exp.Action || (exp.Source != "" && string(got.Source) != exp.Source) {
			out = append(out, Mismatch{TurnID: exp.TurnID, Expected: exp, Actual: got})
		}
	}
	return out
}

// RunFixture replays f on top of base and compares against its expectations.
func RunFixture(ctx context.Context, base config.Config, f *Fixture) ([]ReplayResult, ReplaySummary, []Mismatch, error) {
	cfg := f.Config.Apply(base)
	b, err := config.Build(cfg)
	if err != nil {
		return nil, ReplaySummary{}, nil, err
	}
	interactions := make([]Interaction, len(f.Interactions))
	for i := range f.Interactions {
		interactions[i] = f.Interactions[i].ToInteraction(b.Schema)
	}
	results, summary, err := Replay(ctx, cfg, interactions)
	if err != nil {
		return nil, ReplaySummary{}, nil, err
	}
	return results, summary, Compare(results, f.ExpectedResults), nil
}

// CheckDeterminism replays interactions twice and reports the first turn
// where the runs disagree on action, source or retrain status.
func CheckDeterminism(ctx context.Context, cfg config.Config, interactions []Interaction) error {
	a, _, err := Replay(ctx, cfg, interactions)
	if err != nil {
		return err
	}
	b, _, err := Replay(ctx, cfg, interactions)
	if err != nil {
		return err
	}
	for i := range a {
		if a[i].Action != b[i].Action || a[i].Source != b[i].Source || retrainStatus(a[i]) != retrainStatus(b[i]) {
			return fmt.Errorf("%w: turn %s: %s/%s vs %s/%s", ErrNondeterministic, a[i].TurnID,
				a[i].Action, a[i].Source, b[i].Action, b[i].Source)
		}
	}
	return nil
}

func retrainStatus(r ReplayResult) retrain.Status {
	if r.Retrain == nil {
		return ""
	}
	return r.Retrain.Status
}

// #endregion compare
