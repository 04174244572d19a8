package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Interactions    []FixtureInteraction    `json:"interactions"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig overrides the engine settings that shape a replay.
// Zero fields keep the base configuration's values.
type FixtureConfig struct {
	RetrainInterval int     `json:"retrain_interval,omitempty"`
	RetrainWindow   int     `json:"retrain_window,omitempty"`
	MinAccuracy     float64 `json:"min_accuracy,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
	PolicyKind      string  `json:"policy_kind,omitempty"`
}

// FixtureInteraction is one decide call.
type FixtureInteraction struct {
	TurnID  string         `json:"turn_id"`
	Context map[string]any `json:"context"`
}

// FixtureExpectedResult captures the expected action per turn. An empty
// Source is not checked.
type FixtureExpectedResult struct {
	TurnID string `json:"turn_id"`
	Action string `json:"action"`
	Source string `json:"source,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture encodes f as indented JSON.
func WriteFixture(w io.Writer, f *Fixture) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// Apply layers the fixture overrides onto base.
func (fc FixtureConfig) Apply(base config.Config) config.Config {
	if fc.RetrainInterval > 0 {
		base.Retrain.Interval = fc.RetrainInterval
		if base.Retrain.Window < fc.RetrainInterval {
			base.Retrain.Window = fc.RetrainInterval
		}
	}
	if fc.RetrainWindow > 0 {
		base.Retrain.Window = fc.RetrainWindow
	}
	if fc.MinAccuracy > 0 {
		base.Retrain.MinAccuracy = fc.MinAccuracy
	}
	if fc.Seed != 0 {
		base.Classifier.Seed = fc.Seed
	}
	if fc.PolicyKind != "" {
		base.Policy.Kind = fc.PolicyKind
	}
	// replays are deterministic only when retraining happens inside Decide
	base.Retrain.Async = false
	return base
}

// ToInteraction converts a FixtureInteraction to a domain Interaction,
// coercing JSON numbers to the schema's kinds.
func (fi *FixtureInteraction) ToInteraction(s *schema.Schema) Interaction {
	return Interaction{TurnID: fi.TurnID, Context: s.Coerce(fi.Context)}
}

// FromRecords builds a fixture whose expectations are what the log recorded.
func FromRecords(description string, records []interaction.Record, cfg config.Config) *Fixture {
	f := &Fixture{
		Description: description,
		Config: FixtureConfig{
			RetrainInterval: cfg.Retrain.Interval,
			RetrainWindow:   cfg.Retrain.Window,
			MinAccuracy:     cfg.Retrain.MinAccuracy,
			Seed:            cfg.Classifier.Seed,
			PolicyKind:      cfg.Policy.Kind,
		},
	}
	for _, r := range records {
		turn := fmt.Sprintf("turn-%d", r.Seq)
		f.Interactions = append(f.Interactions, FixtureInteraction{TurnID: turn, Context: r.Context.Map()})
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			TurnID: turn,
			Action: string(r.Action),
			Source: string(r.Source),
		})
	}
	return f
}

// #endregion fixture-loader
