package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customYAML = `
schema:
  - name: friendly
    kind: bool
  - name: npc_mood
    kind: categorical
    categories: [angry, happy]
actions: [talk, attack]
policy:
  kind: rule_table
  rules:
    attribute: npc_mood
    branches:
      "angry": {action: attack}
      "happy":
        attribute: friendly
        branches:
          "true": {action: talk}
          "false": {action: attack}
retrain:
  interval: 5
  window: 15
logging:
  level: debug
`

func TestDefault_ValidatesAndBuilds(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	b, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, 8, b.Schema.Arity())
	assert.Equal(t, 4, b.Codec.Classes())
	require.NotNil(t, b.RuleTable)
	assert.Len(t, b.RuleTable.Rules(), 4)
}

func TestDefault_OriginalTree(t *testing.T) {
	e, _, err := NewEngine(Default())
	require.NoError(t, err)
	defer e.Close()

	base := map[string]any{
		"player_friendly": true, "npc_health": 100, "npc_mood": "happy",
		"time_of_day": "morning", "location": "forest",
	}
	tests := []struct {
		friendly, hasItem, playerHasItem bool
		want                             schema.Action
	}{
		{true, true, false, "talk"},
		{true, false, true, "give_item"},
		{false, true, true, "trade"},
		{false, true, false, "ignore"},
	}
	for _, tt := range tests {
		values := map[string]any{"friendly": tt.friendly, "has_item": tt.hasItem, "player_has_item": tt.playerHasItem}
		for k, v := range base {
			values[k] = v
		}
		got, err := e.Decide(context.Background(), schema.NewContext(values))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%+v", tt)
	}
}

func TestParse_CustomFile(t *testing.T) {
	cfg, err := Parse([]byte(customYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []schema.Action{"talk", "attack"}, cfg.Actions)
	assert.Equal(t, 5, cfg.Retrain.Interval)
	assert.Equal(t, 15, cfg.Retrain.Window)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Nil(t, cfg.Responses, "custom schema does not inherit the default responses")
	assert.Equal(t, int64(42), cfg.Classifier.Seed, "unset classifier block takes defaults")
	assert.Equal(t, "Guardian", cfg.Game.NPCName)

	b, err := Build(cfg)
	require.NoError(t, err)
	vec, err := b.Codec.Encode(schema.NewContext(map[string]any{"friendly": false, "npc_mood": "happy"}))
	require.NoError(t, err)
	a, err := b.RuleTable.Decide(vec)
	require.NoError(t, err)
	assert.Equal(t, schema.Action("attack"), a)
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Actions, cfg.Actions)
	assert.NotNil(t, cfg.Policy.Rules)
	require.NoError(t, cfg.Validate())
}

func TestParse_RetrainWindowDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Retrain.Interval)
	assert.Equal(t, 30, cfg.Retrain.Window)

	// interval without window: the scheduler widens 0 to the interval
	cfg, err = Parse([]byte("retrain:\n  interval: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Retrain.Interval)
	assert.Zero(t, cfg.Retrain.Window)
	require.NoError(t, cfg.Validate())
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("retrain:\n  intervall: 3\n"))
	require.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad-level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad-kind", func(c *Config) { c.Policy.Kind = "oracle" }},
		{"duplicate-actions", func(c *Config) { c.Actions = []schema.Action{"talk", "talk"} }},
		{"zero-interval", func(c *Config) { c.Retrain.Interval = 0 }},
		{"accuracy-range", func(c *Config) { c.Retrain.MinAccuracy = 2 }},
		{"no-schema", func(c *Config) { c.Schema = nil }},
		{"health-range", func(c *Config) { c.Game.PlayerHealth = 150 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestBuild_IncompleteRules(t *testing.T) {
	cfg := Default()
	cfg.Policy.Rules = policy.Branch("friendly", map[string]*policy.RuleNode{"true": policy.Leaf("talk")})
	_, err := Build(cfg)
	require.ErrorIs(t, err, policy.ErrIncompletePolicy)

	cfg.Policy.Rules = nil
	_, err = Build(cfg)
	require.ErrorIs(t, err, policy.ErrIncompletePolicy)
}

func TestNewEngine_ClassifierKind(t *testing.T) {
	cfg := Default()
	cfg.Policy.Kind = string(policy.KindClassifier)
	e, _, err := NewEngine(cfg)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, policy.KindClassifier, e.PolicyKind())

	// The configured rules answer while the classifier is untrained.
	ctx := schema.NewContext(map[string]any{
		"friendly": true, "has_item": true, "player_has_item": false, "player_friendly": true,
		"npc_health": 50, "npc_mood": "neutral", "time_of_day": "night", "location": "cave",
	})
	a, err := e.Decide(context.Background(), ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.Action("talk"), a)
	assert.Equal(t, policy.KindRuleTable, e.ExportLog()[0].Source)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(customYAML), 0o644))
	t.Setenv("NPC_DB", "/tmp/npc-test.db")
	t.Setenv("NPC_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/npc-test.db", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("NPC_LOG_LEVEL", "verbose")
	_, err = Load("")
	require.Error(t, err, "env override is validated too")
}
