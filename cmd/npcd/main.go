package main

import (
	"fmt"
	"os"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	logLevel   string
	dbPath     string

	cfg    config.Config
	logger *zap.Logger
)

// #region root

var rootCmd = &cobra.Command{
	Use:   "npcd",
	Short: "NPC decision engine with online retraining",
	Long: `npcd drives an NPC whose actions come from a decision table at first and
from a classifier retrained on the NPC's own interaction history afterwards.

Every decision is logged; every retrain interval the classifier is refitted on
the most recent window of the log and swapped in if it passes validation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		if cmd.Flags().Changed("db") {
			cfg.Storage.Path = dbPath
		}
		logger, err = newLogger(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: built-in guardian game)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.path and NPC_DB)")

	rootCmd.AddCommand(playCmd, serveCmd, statusCmd, replayCmd, inspectCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion root

// #region logger

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout belongs to the game console and CSV export
	zc.OutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// #endregion logger
