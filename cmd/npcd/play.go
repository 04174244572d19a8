package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/decision-dialogue/internal/game"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var autoEncounters int

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Talk to the NPC on the console",
	Long: `Starts the text game: each "talk" asks the engine what the NPC does,
"next" draws a new encounter and "leave" ends the session.

With --auto N the game plays N random encounters without a console and prints
what the NPC did.`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().IntVar(&autoEncounters, "auto", 0, "simulate N encounters instead of reading the console")
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	sampler := game.NewSampler(cfg.Game)
	if autoEncounters <= 0 {
		session := game.NewSession(rt.engine, sampler, cfg.Responses)
		return game.Play(ctx, os.Stdin, cmd.OutOrStdout(), session)
	}

	sum, err := game.Simulate(ctx, rt.engine, sampler, autoEncounters)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	st := rt.engine.Stats()
	fmt.Fprintf(out, "%d encounters, %d retrain cycles, active policy %s\n", sum.Decisions, st.RetrainCycles, st.PolicyKind)
	actions := make([]string, 0, len(sum.Actions))
	for a := range sum.Actions {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(out, "  %-10s %d\n", a, sum.Actions[schema.Action(a)])
	}
	if last := st.LastRetrain; last != nil {
		logger.Info("last retrain",
			zap.Uint64("cycle", last.Cycle),
			zap.String("status", string(last.Status)),
			zap.Int("samples", last.Samples))
	}
	return nil
}
