package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/replay"
	"github.com/danielpatrickdp/decision-dialogue/internal/store"
	"github.com/spf13/cobra"
)

var (
	replayFixture     string
	replayFromDB      bool
	replayDeterminism bool
)

// errMismatch makes the command exit non-zero when a replay drifts.
var errMismatch = errors.New("replay diverged from expectations")

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded interactions through a fresh engine",
	Long: `Replays a fixture (--fixture) or the interactions stored in the database
(--from-db) through a fresh engine with synchronous retraining, and compares
every turn's action and policy source against what was recorded.

--check-determinism replays twice and fails if the runs differ.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFixture, "fixture", "", "fixture JSON file")
	replayCmd.Flags().BoolVar(&replayFromDB, "from-db", false, "replay the interactions in storage.path")
	replayCmd.Flags().BoolVar(&replayDeterminism, "check-determinism", false, "replay twice and compare the runs")
	replayCmd.MarkFlagsMutuallyExclusive("fixture", "from-db")
	replayCmd.MarkFlagsOneRequired("fixture", "from-db")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := loadReplayFixture(cmd, cfg)
	if err != nil {
		return err
	}
	rcfg := f.Config.Apply(cfg)

	results, summary, mismatches, err := replay.RunFixture(ctx, cfg, f)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printResults(out, results, f.ExpectedResults)
	fmt.Fprintf(out, "\nTurns: %d | Decisions: %d | Failures: %d | Retrains: %d (%d published, %d failed) | Final policy: %s\n",
		summary.TotalTurns, summary.Decisions, summary.Failures,
		summary.Retrains, summary.RetrainsPublished, summary.RetrainsFailed, summary.FinalPolicy)

	if replayDeterminism {
		b, err := config.Build(rcfg)
		if err != nil {
			return err
		}
		interactions := make([]replay.Interaction, len(f.Interactions))
		for i := range f.Interactions {
			interactions[i] = f.Interactions[i].ToInteraction(b.Schema)
		}
		if err := replay.CheckDeterminism(ctx, rcfg, interactions); err != nil {
			return err
		}
		fmt.Fprintln(out, "Deterministic: yes")
	}

	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %d of %d turns", errMismatch, len(mismatches), len(f.ExpectedResults))
	}
	return nil
}

func loadReplayFixture(cmd *cobra.Command, cfg config.Config) (*replay.Fixture, error) {
	if replayFixture != "" {
		return replay.LoadFixture(replayFixture)
	}
	if cfg.Storage.Path == "" {
		return nil, errors.New("--from-db needs --db or storage.path")
	}
	st, err := store.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	b, err := config.Build(cfg)
	if err != nil {
		return nil, err
	}
	records, err := st.LoadInteractions(cmd.Context(), b.Schema, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no interactions in %s", cfg.Storage.Path)
	}
	return replay.FromRecords("replay of "+cfg.Storage.Path, records, cfg), nil
}

func printResults(w io.Writer, results []replay.ReplayResult, expected []replay.FixtureExpectedResult) {
	fmt.Fprintf(w, "%-12s  %-10s  %-10s  %-12s  %-10s  %s\n", "Turn", "Expected", "Actual", "Source", "Retrain", "Match")
	fmt.Fprintf(w, "%-12s+-%-10s+-%-10s+-%-12s+-%-10s+-%s\n", "------------", "----------", "----------", "------------", "----------", "-----")
	for i, r := range results {
		exp := ""
		if i < len(expected) {
			exp = expected[i].Action
		}
		actual := string(r.Action)
		if r.Err != nil {
			actual = "error"
		}
		retrained := "-"
		if r.Retrain != nil {
			retrained = string(r.Retrain.Status)
		}
		match := "ok"
		if exp != "" && exp != string(r.Action) {
			match = "MISMATCH"
		}
		fmt.Fprintf(w, "%-12s  %-10s  %-10s  %-12s  %-10s  %s\n", r.TurnID, exp, actual, r.Source, retrained, match)
	}
}
