// Package main is the entry point for the stdistill CLI.
// stdistill distills IEC 61131-3 Structured Text training data from an
// OpenAI-compatible model, keeping only code the matiec compiler accepts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/angleyanalbedo/generatestcode/internal/config"
	"github.com/angleyanalbedo/generatestcode/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	log     *logging.Logger
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stdistill",
		Short: "stdistill - compiler-verified Structured Text dataset generation",
		Long: `stdistill generates IEC 61131-3 Structured Text with an LLM, validates every
candidate with a fast structural check and the iec2c compiler, feeds
diagnostics back for self-correction and writes SFT and DPO datasets.

Start a run:        stdistill run
Check environment:  stdistill check
Configuration:      stdistill config show`,
		PersistentPreRunE: initLogging,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Close()
			}
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.stdistill/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stdistill v%s\n", version)
		},
	})

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(goldenCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initLogging(cmd *cobra.Command, args []string) error {
	// config init must not find the file that loading would create.
	if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		cfg = config.Default()
	} else {
		loaded, err := config.LoadFromPath(getConfigPath())
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log = logging.New(cfg.LoggingConfig(verbose))
	logging.SetGlobal(log)

	if verbose {
		log.Debug().Str("config", getConfigPath()).Msg("verbose logging enabled")
	}
	return nil
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}
