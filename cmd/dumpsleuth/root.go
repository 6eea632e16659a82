package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dumpsleuth/dumpsleuth/internal/config"
)

var (
	cfgFile string
	appCfg  *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dumpsleuth",
	Short: "LLM-driven root cause analysis for memory dumps",
	Long:  "Drives a debugger against a crash or hang dump, forms and tests hypotheses,\nand produces a root cause report. Evidence is redacted and stored per session.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		appCfg = cfg
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file (optional)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
