package config

import (
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region default

// Default returns the "Decisions n Dialogue" game: a guardian NPC whose rule
// table looks at its own friendliness, its inventory and the player's.
func Default() Config {
	return Config{
		Schema: []schema.Attribute{
			{Name: "friendly", Kind: schema.KindBool},
			{Name: "has_item", Kind: schema.KindBool},
			{Name: "player_has_item", Kind: schema.KindBool},
			{Name: "player_friendly", Kind: schema.KindBool},
			{Name: "npc_health", Kind: schema.KindInt, Min: 0, Max: 100},
			{Name: "npc_mood", Kind: schema.KindCategorical, Categories: []string{"angry", "happy", "neutral"}},
			{Name: "time_of_day", Kind: schema.KindCategorical, Categories: []string{"afternoon", "evening", "morning", "night"}},
			{Name: "location", Kind: schema.KindCategorical, Categories: []string{"castle", "cave", "forest", "village"}},
		},
		Actions: []schema.Action{"talk", "give_item", "trade", "ignore"},
		Responses: map[string]string{
			"talk":      "{name} engages in friendly conversation.",
			"give_item": "{name} offers you an item.",
			"trade":     "{name} proposes a trade.",
			"ignore":    "{name} ignores you.",
		},
		Policy: PolicyConfig{
			Kind: string(policy.KindRuleTable),
			Rules: policy.Branch("friendly", map[string]*policy.RuleNode{
				"true": policy.Branch("has_item", map[string]*policy.RuleNode{
					"true":  policy.Leaf("talk"),
					"false": policy.Leaf("give_item"),
				}),
				"false": policy.Branch("player_has_item", map[string]*policy.RuleNode{
					"true":  policy.Leaf("trade"),
					"false": policy.Leaf("ignore"),
				}),
			}),
		},
		// Three intervals of history, so a window rarely misses one of the
		// four actions. A file that sets interval but not window falls back
		// to window = interval.
		Retrain: retrain.Config{Interval: 10, Window: 30},
		Classifier: ClassifierConfig{
			Seed:               42,
			MinSamplesSplit:    2,
			MinSamplesPerClass: 1,
		},
		Server: ServerConfig{
			GRPCAddr: "localhost:50061",
			HTTPAddr: "localhost:8088",
		},
		Game: GameConfig{
			NPCName:         "Guardian",
			Seed:            1,
			PlayerHealth:    100,
			PlayerFriendly:  true,
			PlayerHasItem:   false,
			InitialHealth:   100,
			TimeOptions:     []string{"morning", "afternoon", "evening", "night"},
			LocationOptions: []string{"forest", "village", "castle", "cave"},
			MoodOptions:     []string{"happy", "neutral", "angry"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// #endregion default
