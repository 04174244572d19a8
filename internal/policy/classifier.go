package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/google/uuid"
)

// #region classifier-config

// ClassifierConfig holds fitting parameters for the learned policy.
type ClassifierConfig struct {
	Seed               int64 // drives split-candidate ordering; fixed for reproducibility
	MaxDepth           int   // 0 = unlimited
	MinSamplesSplit    int   // nodes with fewer samples become leaves (default 2)
	MinSamplesPerClass int   // every vocabulary class needs this many samples (default 1)
}

// DefaultClassifierConfig returns the defaults used by the game.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Seed:               42,
		MaxDepth:           0,
		MinSamplesSplit:    2,
		MinSamplesPerClass: 1,
	}
}

// #endregion classifier-config

// #region model

// Model is one immutable fitted version of the learned policy.
type Model struct {
	VersionID   string     `json:"version_id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	Seed        int64      `json:"seed"`
	Classes     int        `json:"classes"`
	Arity       int        `json:"arity"`
	Nodes       []TreeNode `json:"nodes"`
	ClassCounts []int      `json:"class_counts"`
	SampleCount int        `json:"sample_count"`
	TrainedAt   time.Time  `json:"trained_at"`
}

// Predict returns the label for vec. vec must have the model's arity.
func (m *Model) Predict(vec schema.FeatureVector) int {
	return predict(m.Nodes, vec)
}

// Depth returns the longest root-to-leaf edge count.
func (m *Model) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := m.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		l, r := walk(n.Left), walk(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	if len(m.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

func (m *Model) validate() error {
	if len(m.Nodes) == 0 {
		return fmt.Errorf("model %s has no nodes", m.VersionID)
	}
	for i, n := range m.Nodes {
		if n.Label < 0 || n.Label >= m.Classes {
			return fmt.Errorf("model %s node %d: %w: %d", m.VersionID, i, schema.ErrUnknownLabel, n.Label)
		}
		if n.Feature < 0 {
			continue
		}
		if n.Feature >= m.Arity {
			return fmt.Errorf("model %s node %d: feature %d outside arity %d", m.VersionID, i, n.Feature, m.Arity)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(m.Nodes) || n.Right >= len(m.Nodes) {
			return fmt.Errorf("model %s node %d: child index out of order", m.VersionID, i)
		}
	}
	return nil
}

// #endregion model

// #region classifier

// Classifier is the trainable policy. Its fitted model is published through
// an atomic pointer, so a concurrent Decide sees either the old or the new
// model in full.
type Classifier struct {
	codec *schema.Codec
	cfg   ClassifierConfig
	model atomic.Pointer[Model]
	now   func() time.Time
}

// NewClassifier creates an untrained classifier.
func NewClassifier(codec *schema.Codec, cfg ClassifierConfig) (*Classifier, error) {
	if codec == nil {
		return nil, fmt.Errorf("classifier: nil codec")
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesPerClass < 1 {
		cfg.MinSamplesPerClass = 1
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("classifier: negative max depth %d", cfg.MaxDepth)
	}
	return &Classifier{codec: codec, cfg: cfg, now: time.Now}, nil
}

// Kind implements Policy.
func (c *Classifier) Kind() Kind { return KindClassifier }

// Config returns the effective fitting parameters.
func (c *Classifier) Config() ClassifierConfig { return c.cfg }

// Current returns the published model, or nil before the first fit.
func (c *Classifier) Current() *Model { return c.model.Load() }

// Trained reports whether a model has been published.
func (c *Classifier) Trained() bool { return c.model.Load() != nil }

// Decide returns the single best prediction of the published model.
func (c *Classifier) Decide(vec schema.FeatureVector) (schema.Action, error) {
	m := c.model.Load()
	if m == nil {
		return "", ErrPolicyNotTrained
	}
	if len(vec) != m.Arity {
		return "", fmt.Errorf("%w: vector length %d, model arity %d", schema.ErrSchemaMismatch, len(vec), m.Arity)
	}
	return c.codec.Decode(m.Predict(vec))
}

// Train fits and publishes in one step. On error the published model is unchanged.
func (c *Classifier) Train(ctx context.Context, samples []Sample) error {
	m, err := c.Fit(ctx, samples)
	if err != nil {
		return err
	}
	return c.Publish(m)
}

// Fit builds a candidate model without publishing it.
func (c *Classifier) Fit(ctx context.Context, samples []Sample) (*Model, error) {
	arity := c.codec.Schema().Arity()
	classes := c.codec.Classes()

	x := make([][]float64, len(samples))
	y := make([]int, len(samples))
	counts := make([]int, classes)
	for i, s := range samples {
		if len(s.Vector) != arity {
			return nil, fmt.Errorf("sample %d: %w: vector length %d, schema arity %d", i, schema.ErrSchemaMismatch, len(s.Vector), arity)
		}
		label, err := c.codec.Label(s.Action)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		row := make([]float64, arity)
		copy(row, s.Vector)
		x[i] = row
		y[i] = label
		counts[label]++
	}

	var missing []schema.Action
	for label, n := range counts {
		if n < c.cfg.MinSamplesPerClass {
			a, _ := c.codec.Decode(label)
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d samples, need %d of each, short: %v", ErrInsufficientClasses, len(samples), c.cfg.MinSamplesPerClass, missing)
	}

	nodes, err := fitTree(ctx, x, y, classes, c.cfg.MaxDepth, c.cfg.MinSamplesSplit, c.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	m := &Model{
		VersionID:   uuid.New().String(),
		Fingerprint: c.codec.Fingerprint(),
		Seed:        c.cfg.Seed,
		Classes:     classes,
		Arity:       arity,
		Nodes:       nodes,
		ClassCounts: counts,
		SampleCount: len(samples),
		TrainedAt:   c.now().UTC(),
	}
	if prev := c.model.Load(); prev != nil {
		m.ParentID = prev.VersionID
	}
	return m, nil
}

// Publish installs m as the active model, replacing the previous one in a
// single atomic store. Models fitted under another schema layout are
// refused with schema.ErrSchemaDrift; this is also how persisted models are restored.
func (c *Classifier) Publish(m *Model) error {
	if m == nil {
		return fmt.Errorf("publish: nil model")
	}
	if err := c.codec.CheckFingerprint(m.Fingerprint); err != nil {
		return fmt.Errorf("publish %s: %w", m.VersionID, err)
	}
	if m.Classes != c.codec.Classes() || m.Arity != c.codec.Schema().Arity() {
		return fmt.Errorf("publish %s: %w: model shape %dx%d", m.VersionID, schema.ErrSchemaDrift, m.Arity, m.Classes)
	}
	if err := m.validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	c.model.Store(m)
	return nil
}

// #endregion classifier
