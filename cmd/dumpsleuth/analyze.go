package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dumpsleuth/dumpsleuth/internal/debugger"
	"github.com/dumpsleuth/dumpsleuth/internal/engine"
)

var (
	analyzeIssue       string
	analyzeOutput      string
	analyzeInteractive bool
	analyzeShowCmds    bool
	analyzeLogOutput   string
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&analyzeIssue, "issue", "i", "", "Description of the observed problem (required)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Write the report to FILE instead of stdout")
	analyzeCmd.Flags().BoolVar(&analyzeInteractive, "interactive", false, "Confirm each phase transition before proceeding")
	analyzeCmd.Flags().BoolVar(&analyzeShowCmds, "show-commands", false, "Print each debugger command as it runs")
	analyzeCmd.Flags().StringVar(&analyzeLogOutput, "log-output", "", "Also append diagnostics to FILE")
	_ = analyzeCmd.MarkFlagRequired("issue")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dump>",
	Short: "Investigate a memory dump and produce a root cause report",
	Long:  "Runs the full investigation loop: planning, hypothesis testing, deeper\ninvestigation, critique, and report. Touching report.request in the session\ndirectory ends the run early with a report from the evidence so far.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	dumpPath := args[0]

	stderr := io.Writer(os.Stderr)
	if analyzeLogOutput != "" {
		f, err := os.OpenFile(analyzeLogOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		stderr = io.MultiWriter(os.Stderr, f)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := engine.RunOptions{
		DumpPath:     dumpPath,
		Issue:        analyzeIssue,
		Interactive:  analyzeInteractive,
		ShowCommands: analyzeShowCmds,
		Stderr:       stderr,
	}
	if analyzeInteractive {
		opts.Confirm = confirmPhase(stderr)
	}

	state, sess, err := engine.RunInvestigation(ctx, appCfg, opts)
	if err != nil {
		var verr *debugger.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid dump: %s", verr.Reason)
		}
		return err
	}

	if state.TerminationReason != "" {
		fmt.Fprintf(stderr, "stopped early: %s\n", state.TerminationReason)
	}
	fmt.Fprintf(stderr, "report: %s\n", sess.ReportPath())

	if analyzeOutput != "" {
		if err := os.WriteFile(analyzeOutput, []byte(state.FinalReport), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		return nil
	}
	fmt.Println(state.FinalReport)
	return nil
}

// confirmPhase prompts on stderr and reads a y/n answer from stdin.
// Anything other than an explicit "n" continues.
func confirmPhase(stderr io.Writer) func(next engine.Phase) bool {
	reader := bufio.NewReader(os.Stdin)
	return func(next engine.Phase) bool {
		fmt.Fprintf(stderr, "continue to %s phase? [Y/n] ", next)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer != "n" && answer != "no"
	}
}
