package retrain

import (
	"fmt"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region veto-type
// VetoType enumerates reasons a candidate model is refused.
type VetoType string

const (
	VetoCoverage VetoType = "class_coverage"
	VetoAccuracy VetoType = "training_accuracy"
	VetoShape    VetoType = "model_shape"
)

// #endregion veto-type

// #region gate-types
// Veto is one hard rejection reason.
type Veto struct {
	Type   VetoType
	Reason string
}

// Metric captures a single validation check result.
type Metric struct {
	Name  string
	Value float64
	Pass  bool
}

// Decision is the gate's verdict on a candidate.
type Decision struct {
	Action  string // "commit" | "reject"
	Reason  string
	Vetoed  bool
	Vetoes  []Veto
	Metrics []Metric
}

// GateConfig holds thresholds for candidate validation.
type GateConfig struct {
	MinAccuracy        float64 // 0 = accuracy is informational only
	MinSamplesPerClass int
}

// #endregion gate-types

// #region gate
// Gate validates a fitted candidate against the samples it was trained on
// before it is published.
type Gate struct {
	codec  *schema.Codec
	config GateConfig
}

// NewGate creates a gate for models over codec.
func NewGate(codec *schema.Codec, config GateConfig) *Gate {
	if config.MinSamplesPerClass < 1 {
		config.MinSamplesPerClass = 1
	}
	return &Gate{codec: codec, config: config}
}

// Evaluate checks hard vetoes and collects metrics.
func (g *Gate) Evaluate(m *policy.Model, samples []policy.Sample) Decision {
	var vetoes []Veto
	var metrics []Metric

	// 1. Shape
	if m.Classes != g.codec.Classes() || m.Arity != g.codec.Schema().Arity() || len(m.ClassCounts) != m.Classes {
		vetoes = append(vetoes, Veto{
			Type:   VetoShape,
			Reason: fmt.Sprintf("model shape %dx%d, codec %dx%d", m.Arity, m.Classes, g.codec.Schema().Arity(), g.codec.Classes()),
		})
	}

	// 2. Every class represented
	minCount := 0
	for label, n := range m.ClassCounts {
		if label == 0 || n < minCount {
			minCount = n
		}
		if n < g.config.MinSamplesPerClass {
			a, _ := g.codec.Decode(label)
			vetoes = append(vetoes, Veto{
				Type:   VetoCoverage,
				Reason: fmt.Sprintf("class %q has %d samples, need %d", a, n, g.config.MinSamplesPerClass),
			})
		}
	}
	metrics = append(metrics, Metric{
		Name:  "min_class_samples",
		Value: float64(minCount),
		Pass:  minCount >= g.config.MinSamplesPerClass,
	})

	// 3. Training accuracy
	acc := g.accuracy(m, samples)
	accPass := g.config.MinAccuracy == 0 || acc >= g.config.MinAccuracy
	metrics = append(metrics, Metric{Name: "training_accuracy", Value: acc, Pass: accPass})
	if !accPass {
		vetoes = append(vetoes, Veto{
			Type:   VetoAccuracy,
			Reason: fmt.Sprintf("training accuracy %.3f below %.3f", acc, g.config.MinAccuracy),
		})
	}

	// 4. Informational
	metrics = append(metrics,
		Metric{Name: "depth", Value: float64(m.Depth()), Pass: true},
		Metric{Name: "nodes", Value: float64(len(m.Nodes)), Pass: true},
	)

	if len(vetoes) > 0 {
		reason := fmt.Sprintf("hard veto: %s", vetoes[0].Reason)
		if len(vetoes) > 1 {
			reason = fmt.Sprintf("hard veto: %d checks: %s", len(vetoes), vetoes[0].Reason)
		}
		return Decision{Action: "reject", Reason: reason, Vetoed: true, Vetoes: vetoes, Metrics: metrics}
	}
	return Decision{Action: "commit", Reason: "all checks passed", Metrics: metrics}
}

func (g *Gate) accuracy(m *policy.Model, samples []policy.Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	correct := 0
	for _, s := range samples {
		want, err := g.codec.Label(s.Action)
		if err != nil || len(s.Vector) != m.Arity {
			continue
		}
		if m.Predict(s.Vector) == want {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

// #endregion gate
