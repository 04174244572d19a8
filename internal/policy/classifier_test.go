package policy

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region helpers
func newClassifier(t *testing.T, c *schema.Codec) *Classifier {
	t.Helper()
	cl, err := NewClassifier(c, DefaultClassifierConfig())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return cl
}

// tableSamples labels every input combination with the dialogue rule table, repeated n times.
func tableSamples(t *testing.T, c *schema.Codec, n int) []Sample {
	t.Helper()
	table, err := NewRuleTable(c, dialogueTree())
	if err != nil {
		t.Fatalf("NewRuleTable: %v", err)
	}
	var out []Sample
	for i := 0; i < n; i++ {
		for _, f := range []bool{true, false} {
			for _, h := range []bool{true, false} {
				vec := encode(t, c, map[string]any{"friendly": f, "has_item": h})
				a, _ := table.Decide(vec)
				out = append(out, Sample{Vector: vec, Action: a})
			}
		}
	}
	return out
}

// #endregion helpers

// #region untrained-tests
func TestClassifier_NotTrained(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	if cl.Trained() {
		t.Fatal("fresh classifier reports trained")
	}
	_, err := cl.Decide(schema.FeatureVector{1, 1})
	if !errors.Is(err, ErrPolicyNotTrained) {
		t.Fatalf("expected ErrPolicyNotTrained, got %v", err)
	}
}

// #endregion untrained-tests

// #region train-tests
func TestClassifier_TrainAllClasses(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	if err := cl.Train(context.Background(), tableSamples(t, c, 3)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	vocab := map[schema.Action]bool{}
	for _, a := range c.Vocabulary() {
		vocab[a] = true
	}
	// Every combination, including ones decided only through generalisation.
	for _, vec := range []schema.FeatureVector{{1, 1}, {1, 0}, {0, 1}, {0, 0}} {
		a, err := cl.Decide(vec)
		if err != nil {
			t.Fatalf("Decide(%v): %v", vec, err)
		}
		if !vocab[a] {
			t.Fatalf("Decide(%v) = %q outside vocabulary", vec, a)
		}
	}
	got, _ := cl.Decide(schema.FeatureVector{1, 1})
	if got != "talk" {
		t.Errorf("expected learned table to say talk for friendly+has_item, got %q", got)
	}
}

func TestClassifier_UnseenVector(t *testing.T) {
	s, _ := schema.NewSchema(
		schema.Attribute{Name: "friendly", Kind: schema.KindBool},
		schema.Attribute{Name: "npc_health", Kind: schema.KindInt, Min: 0, Max: 100},
	)
	c, _ := schema.NewCodec(s, []schema.Action{"talk", "give_item", "trade", "ignore"})
	cl := newClassifier(t, c)
	samples := []Sample{
		{schema.FeatureVector{1, 90}, "talk"},
		{schema.FeatureVector{1, 20}, "give_item"},
		{schema.FeatureVector{0, 80}, "trade"},
		{schema.FeatureVector{0, 10}, "ignore"},
	}
	if err := cl.Train(context.Background(), samples); err != nil {
		t.Fatalf("Train: %v", err)
	}
	a, err := cl.Decide(schema.FeatureVector{0, 55})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := c.Label(a); err != nil {
		t.Fatalf("unseen vector decided %q outside vocabulary", a)
	}
}

func TestClassifier_InsufficientClassesKeepsPrevious(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	if err := cl.Train(context.Background(), tableSamples(t, c, 1)); err != nil {
		t.Fatalf("Train: %v", err)
	}
	before := cl.Current()
	want, _ := cl.Decide(schema.FeatureVector{0, 0})

	partial := []Sample{
		{schema.FeatureVector{1, 1}, "talk"},
		{schema.FeatureVector{0, 0}, "talk"},
		{schema.FeatureVector{1, 0}, "give_item"},
	}
	err := cl.Train(context.Background(), partial)
	if !errors.Is(err, ErrInsufficientClasses) {
		t.Fatalf("expected ErrInsufficientClasses, got %v", err)
	}
	if cl.Current() != before {
		t.Fatal("published model changed after failed train")
	}
	got, _ := cl.Decide(schema.FeatureVector{0, 0})
	if got != want {
		t.Fatalf("decision changed after failed train: got %q, want %q", got, want)
	}
}

func TestClassifier_RejectsBadSamples(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	_, err := cl.Fit(context.Background(), []Sample{{schema.FeatureVector{1}, "talk"}})
	if !errors.Is(err, schema.ErrSchemaMismatch) {
		t.Errorf("short vector: expected ErrSchemaMismatch, got %v", err)
	}
	_, err = cl.Fit(context.Background(), []Sample{{schema.FeatureVector{1, 1}, "dance"}})
	if !errors.Is(err, schema.ErrUnknownLabel) {
		t.Errorf("unknown action: expected ErrUnknownLabel, got %v", err)
	}
}

func TestClassifier_CancelledFitKeepsPrevious(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	if err := cl.Train(context.Background(), tableSamples(t, c, 1)); err != nil {
		t.Fatalf("Train: %v", err)
	}
	before := cl.Current()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cl.Train(ctx, tableSamples(t, c, 2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cl.Current() != before {
		t.Fatal("cancelled fit replaced the model")
	}
}

func TestClassifier_ParentLinks(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	_ = cl.Train(context.Background(), tableSamples(t, c, 1))
	first := cl.Current()
	_ = cl.Train(context.Background(), tableSamples(t, c, 2))
	second := cl.Current()
	if first.ParentID != "" {
		t.Errorf("first model has parent %q", first.ParentID)
	}
	if second.ParentID != first.VersionID {
		t.Errorf("second parent = %q, want %q", second.ParentID, first.VersionID)
	}
	if second.SampleCount != 8 {
		t.Errorf("sample count = %d, want 8", second.SampleCount)
	}
}

// #endregion train-tests

// #region determinism-tests
func TestClassifier_Deterministic(t *testing.T) {
	s, _ := schema.NewSchema(
		schema.Attribute{Name: "friendly", Kind: schema.KindBool},
		schema.Attribute{Name: "has_item", Kind: schema.KindBool},
		schema.Attribute{Name: "npc_health", Kind: schema.KindInt, Min: 0, Max: 100},
		schema.Attribute{Name: "location", Kind: schema.KindCategorical, Categories: []string{"castle", "cave", "forest", "village"}},
	)
	c, _ := schema.NewCodec(s, []schema.Action{"talk", "give_item", "trade", "ignore"})

	// Noisy, overlapping samples so tie-breaking actually matters.
	var samples []Sample
	actions := c.Vocabulary()
	for i := 0; i < 40; i++ {
		samples = append(samples, Sample{
			Vector: schema.FeatureVector{float64(i % 2), float64((i / 2) % 2), float64((i * 37) % 101), float64(i % 4)},
			Action: actions[(i*7+i/3)%4],
		})
	}

	fit := func() *Model {
		cl := newClassifier(t, c)
		if err := cl.Train(context.Background(), samples); err != nil {
			t.Fatalf("Train: %v", err)
		}
		return cl.Current()
	}
	a, b := fit(), fit()
	if !reflect.DeepEqual(a.Nodes, b.Nodes) {
		t.Fatal("identical samples and seed produced different trees")
	}

	clA, clB := newClassifier(t, c), newClassifier(t, c)
	_ = clA.Publish(a)
	_ = clB.Publish(b)
	for i := 0; i < 101; i++ {
		vec := schema.FeatureVector{float64(i % 2), float64(i % 3 % 2), float64(i), float64(i % 4)}
		x, _ := clA.Decide(vec)
		y, _ := clB.Decide(vec)
		if x != y {
			t.Fatalf("vector %v: %q != %q", vec, x, y)
		}
	}
}

// #endregion determinism-tests

// #region publish-tests
func TestClassifier_PublishDrift(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	_ = cl.Train(context.Background(), tableSamples(t, c, 1))
	m := cl.Current()

	grown, _ := schema.NewSchema(
		schema.Attribute{Name: "friendly", Kind: schema.KindBool},
		schema.Attribute{Name: "has_item", Kind: schema.KindCategorical, Categories: []string{"none", "some", "many"}},
	)
	gc, _ := schema.NewCodec(grown, c.Vocabulary())
	other := newClassifier(t, gc)
	if err := other.Publish(m); !errors.Is(err, schema.ErrSchemaDrift) {
		t.Fatalf("expected ErrSchemaDrift, got %v", err)
	}
	if other.Trained() {
		t.Fatal("drifted model was installed")
	}
}

func TestClassifier_PublishRestoresPersistedModel(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	_ = cl.Train(context.Background(), tableSamples(t, c, 1))

	raw, err := json.Marshal(cl.Current())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored Model
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	fresh := newClassifier(t, c)
	if err := fresh.Publish(&restored); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, _ := fresh.Decide(schema.FeatureVector{0, 1})
	if got != "trade" {
		t.Fatalf("restored model decided %q, want trade", got)
	}
}

func TestClassifier_PublishCorruptModel(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	bad := &Model{
		VersionID:   "corrupt",
		Fingerprint: c.Fingerprint(),
		Classes:     c.Classes(),
		Arity:       2,
		Nodes:       []TreeNode{{Feature: -1, Label: 9}},
	}
	if err := cl.Publish(bad); !errors.Is(err, schema.ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
	if err := cl.Publish(nil); err == nil {
		t.Fatal("expected error for nil model")
	}
}

// #endregion publish-tests

// #region tree-tests
func TestMajority_TieGoesToLowestLabel(t *testing.T) {
	if got := majority([]int{2, 3, 3}); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if got := majority([]int{0, 0, 0}); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestModel_Depth(t *testing.T) {
	c := dialogueCodec(t)
	cl := newClassifier(t, c)
	_ = cl.Train(context.Background(), tableSamples(t, c, 1))
	if d := cl.Current().Depth(); d != 2 {
		t.Fatalf("depth = %d, want 2 for a two-attribute table", d)
	}
}

// #endregion tree-tests
