package game

import (
	"math/rand"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region types

// NPC is the non-player character the player is talking to.
type NPC struct {
	Name     string
	Health   int
	Friendly bool
	HasItem  bool
	Mood     string
}

// World is the player's side of an encounter.
type World struct {
	TimeOfDay      string
	Location       string
	PlayerHealth   int
	PlayerFriendly bool
	PlayerHasItem  bool
}

// #endregion types

// #region sampler

// Sampler draws encounters from the game options with an explicit seed, so
// a session can be replayed exactly.
type Sampler struct {
	rng *rand.Rand
	cfg config.GameConfig
}

// NewSampler seeds a sampler from cfg.Seed.
func NewSampler(cfg config.GameConfig) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(cfg.Seed)), cfg: cfg}
}

// World draws time of day and location; player flags come from the config.
func (s *Sampler) World() World {
	return World{
		TimeOfDay:      s.pick(s.cfg.TimeOptions),
		Location:       s.pick(s.cfg.LocationOptions),
		PlayerHealth:   s.cfg.PlayerHealth,
		PlayerFriendly: s.cfg.PlayerFriendly,
		PlayerHasItem:  s.cfg.PlayerHasItem,
	}
}

// NPC draws the NPC's disposition, inventory and mood.
func (s *Sampler) NPC() NPC {
	return NPC{
		Name:     s.cfg.NPCName,
		Health:   s.cfg.InitialHealth,
		Friendly: s.rng.Intn(2) == 1,
		HasItem:  s.rng.Intn(2) == 1,
		Mood:     s.pick(s.cfg.MoodOptions),
	}
}

// Encounter draws a full random encounter, player inventory included.
func (s *Sampler) Encounter() (NPC, World) {
	npc, w := s.NPC(), s.World()
	w.PlayerHasItem = s.rng.Intn(2) == 1
	return npc, w
}

func (s *Sampler) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[s.rng.Intn(len(options))]
}

// #endregion sampler

// #region context

// Context maps an encounter onto the default game's schema attributes.
func Context(npc NPC, w World) schema.Context {
	return schema.NewContext(map[string]any{
		"friendly":        npc.Friendly,
		"has_item":        npc.HasItem,
		"player_has_item": w.PlayerHasItem,
		"player_friendly": w.PlayerFriendly,
		"npc_health":      npc.Health,
		"npc_mood":        npc.Mood,
		"time_of_day":     w.TimeOfDay,
		"location":        w.Location,
	})
}

// #endregion context
