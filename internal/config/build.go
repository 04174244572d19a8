package config

import (
	"fmt"

	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region build

// Built is the validated runtime form of a Config.
type Built struct {
	Schema    *schema.Schema
	Codec     *schema.Codec
	RuleTable *policy.RuleTable // nil when no rules are configured
	Engine    engine.Config
}

// Build compiles the schema, codec and rule table. An incomplete rule table
// is reported as policy.ErrIncompletePolicy.
func Build(cfg Config) (*Built, error) {
	s, err := schema.NewSchema(cfg.Schema...)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	codec, err := schema.NewCodec(s, cfg.Actions)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	b := &Built{
		Schema: s,
		Codec:  codec,
		Engine: engine.Config{
			Codec:   codec,
			Retrain: cfg.Retrain,
			Classifier: policy.ClassifierConfig{
				Seed:               cfg.Classifier.Seed,
				MaxDepth:           cfg.Classifier.MaxDepth,
				MinSamplesSplit:    cfg.Classifier.MinSamplesSplit,
				MinSamplesPerClass: cfg.Classifier.MinSamplesPerClass,
			},
		},
	}
	if cfg.Policy.Rules != nil {
		b.RuleTable, err = policy.NewRuleTable(codec, cfg.Policy.Rules)
		if err != nil {
			return nil, fmt.Errorf("rules: %w", err)
		}
	}
	if cfg.Policy.Kind == string(policy.KindRuleTable) && b.RuleTable == nil {
		return nil, fmt.Errorf("rules: %w: policy kind %s needs rules", policy.ErrIncompletePolicy, cfg.Policy.Kind)
	}
	return b, nil
}

// Options returns the engine options implied by cfg: the initial policy,
// the fallback and promotion behaviour.
func (b *Built) Options(cfg Config) []engine.Option {
	var opts []engine.Option
	if cfg.Policy.Kind == string(policy.KindRuleTable) {
		opts = append(opts, engine.WithPolicy(b.RuleTable))
	} else if b.RuleTable != nil {
		opts = append(opts, engine.WithFallbackPolicy(b.RuleTable))
	}
	if cfg.Policy.FallbackAction != "" {
		opts = append(opts, engine.WithFallbackAction(cfg.Policy.FallbackAction))
	}
	if cfg.Policy.KeepRuleTable {
		opts = append(opts, engine.WithPromotion(false))
	}
	return opts
}

// NewEngine builds an engine from cfg. A classifier-kind config installs the
// engine's own classifier once the engine exists.
func NewEngine(cfg Config, extra ...engine.Option) (*engine.Engine, *Built, error) {
	b, err := Build(cfg)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(b.Engine, append(b.Options(cfg), extra...)...)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Policy.Kind == string(policy.KindClassifier) {
		if err := e.Install(e.Classifier()); err != nil {
			e.Close()
			return nil, nil, err
		}
	}
	return e, b, nil
}

// #endregion build
