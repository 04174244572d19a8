package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/danielpatrickdp/decision-dialogue/internal/store"
	"github.com/spf13/cobra"
)

var (
	inspectLast int
	inspectJSON bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect persisted policy versions and retrain history",
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List policy versions, newest first",
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		versions, err := st.ListVersions(cmd.Context(), inspectLast)
		if err != nil {
			return err
		}
		if inspectJSON {
			return printJSON(cmd.OutOrStdout(), versions)
		}
		if len(versions) == 0 {
			fmt.Fprintln(os.Stderr, "no versions found")
			return nil
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-12s  %-12s  %-12s  %7s  %-6s  %s\n", "Version", "Parent", "Fingerprint", "Samples", "Active", "Time")
		fmt.Fprintf(w, "%-12s+-%-12s+-%-12s+-%7s+-%-6s+-%s\n", "------------", "------------", "------------", "-------", "------", "--------------------")
		for _, v := range versions {
			active := ""
			if v.Active {
				active = "*"
			}
			fmt.Fprintf(w, "%-12s  %-12s  %-12s  %7d  %-6s  %s\n",
				shortID(v.VersionID), shortID(v.ParentID), shortID(v.Fingerprint), v.SampleCount, active,
				v.CreatedAt.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	}),
}

var retrainsCmd = &cobra.Command{
	Use:   "retrains",
	Short: "List retrain cycles, newest first",
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		entries, err := st.ListRetrains(cmd.Context(), inspectLast)
		if err != nil {
			return err
		}
		if inspectJSON {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%6s  %8s  %-10s  %-12s  %7s  %8s  %s\n", "Cycle", "Count", "Status", "Version", "Samples", "Took", "Reason")
		fmt.Fprintf(w, "%6s+-%8s+-%-10s+-%-12s+-%7s+-%8s+-%s\n", "------", "--------", "----------", "------------", "-------", "--------", "------")
		for _, e := range entries {
			cycle := strconv.FormatUint(e.Cycle, 10)
			if e.Manual {
				cycle = "m" + cycle
			}
			fmt.Fprintf(w, "%6s  %8d  %-10s  %-12s  %7d  %8s  %s\n",
				cycle, e.InteractionCount, e.Status, shortID(e.VersionID), e.Samples, e.Duration, e.Reason)
		}
		return nil
	}),
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <version-id>",
	Short: "Point the active policy at an earlier version",
	Long: `Rollback only moves the persisted active pointer. A running npcd keeps its
model; the next start with storage.restore_model picks the rolled-back version.`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		if err := st.Rollback(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active policy: %s\n", args[0])
		return nil
	}),
}

func init() {
	inspectCmd.PersistentFlags().IntVar(&inspectLast, "last", 20, "show N most recent entries")
	inspectCmd.PersistentFlags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of table")
	inspectCmd.AddCommand(versionsCmd, retrainsCmd, rollbackCmd)
}

func withStore(fn func(cmd *cobra.Command, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if cfg.Storage.Path == "" {
			return errors.New("no database: pass --db or set storage.path")
		}
		st, err := store.NewStore(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd, st, args)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
