package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dumpsleuth/dumpsleuth/internal/redact"
)

var patternsSample string

func init() {
	rootCmd.AddCommand(patternsCmd)
	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsTestCmd)
	patternsTestCmd.Flags().StringVar(&patternsSample, "sample", "", "Sample text (reads stdin when omitted)")
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect and test redaction patterns",
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded pattern names",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := redact.NewFromConfig(appCfg.RedactPatternsFile)
		if err != nil {
			return err
		}
		for _, name := range r.PatternNames() {
			fmt.Println(name)
		}
		return nil
	},
}

var patternsTestCmd = &cobra.Command{
	Use:   "test <pattern-name>",
	Short: "Run one pattern against sample text and show its matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := redact.NewFromConfig(appCfg.RedactPatternsFile)
		if err != nil {
			return err
		}

		sample := patternsSample
		if sample == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read sample from stdin: %w", err)
			}
			sample = string(data)
		}

		matches, err := r.TestPattern(args[0], sample)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, m := range matches {
			fmt.Println(m)
		}
		return nil
	},
}
