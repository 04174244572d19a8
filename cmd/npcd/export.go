package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/replay"
	"github.com/danielpatrickdp/decision-dialogue/internal/store"
	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOut    string
	exportLast   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored interactions as CSV or a replay fixture",
	Long: `Reads the interaction log from storage.path and writes it to --out (or
stdout). --format csv writes one row per decision with every schema attribute;
--format fixture writes a replay fixture whose expectations are the recorded
actions.`,
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		b, err := config.Build(cfg)
		if err != nil {
			return err
		}
		records, err := st.LoadInteractions(cmd.Context(), b.Schema, exportLast)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		switch exportFormat {
		case "csv":
			err = interaction.WriteCSV(w, b.Schema, records)
		case "fixture":
			err = replay.WriteFixture(w, replay.FromRecords("exported from "+cfg.Storage.Path, records, cfg))
		default:
			return fmt.Errorf("unknown format %q (csv or fixture)", exportFormat)
		}
		if err != nil {
			return err
		}
		if exportOut != "" {
			fmt.Fprintf(os.Stderr, "exported %d interactions to %s\n", len(records), exportOut)
		}
		return nil
	}),
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or fixture")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.Flags().IntVar(&exportLast, "last", 0, "export only the newest N interactions")
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Load a CSV interaction log into the database",
	Long: `Reads a CSV written by "npcd export" (or any file with the same columns),
checks every row against the configured schema and vocabulary, and appends the
rows to storage.path. Rows whose id is already stored are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		b, err := config.Build(cfg)
		if err != nil {
			return err
		}
		records, err := interaction.ReadCSV(f, b.Schema)
		if err != nil {
			return err
		}
		// validate the whole file before writing any of it
		e, _, err := config.NewEngine(cfg)
		if err != nil {
			return err
		}
		defer e.Close()
		if err := e.ImportLog(records); err != nil {
			return err
		}
		for _, rec := range e.ExportLog() {
			if err := st.RecordInteraction(cmd.Context(), rec); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d interactions into %s\n", len(records), cfg.Storage.Path)
		return nil
	}),
}
