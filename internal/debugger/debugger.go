// Package debugger shells out to cdb to run commands against a memory
// dump. Each command opens a fresh debugger process with -c "<cmd>; q",
// so commands are independent and a hung command cannot poison later
// ones.
package debugger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// CommandResult is the outcome of one debugger command. A timeout, a
// debugger-reported error, and a clean run are all distinguishable.
type CommandResult struct {
	Command  string
	Output   string
	Success  bool
	Error    string
	TimedOut bool
	Duration time.Duration
}

// Executor runs debugger commands. The engine consumes this interface;
// tests substitute deterministic stubs.
type Executor interface {
	Execute(ctx context.Context, command string) (*CommandResult, error)
}

// ValidationError reports a dump file that cannot be analyzed.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid dump %s: %s", e.Path, e.Reason)
}

// ToolExecutionError reports that the debugger process itself could not
// run, as opposed to a command the debugger rejected.
type ToolExecutionError struct {
	Command string
	Err     error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("debugger execution failed for %q: %v", e.Command, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// CdbConfig locates the debugger and the dump under analysis.
type CdbConfig struct {
	CdbPath    string
	DumpPath   string
	SymbolPath string
	Timeout    time.Duration
}

// CdbExecutor runs commands through the cdb command-line debugger.
type CdbExecutor struct {
	cfg CdbConfig
}

// NewCdbExecutor validates the dump before returning an executor.
func NewCdbExecutor(cfg CdbConfig) (*CdbExecutor, error) {
	if cfg.CdbPath == "" {
		cfg.CdbPath = "cdb"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if err := ValidateDump(cfg.DumpPath); err != nil {
		return nil, err
	}
	return &CdbExecutor{cfg: cfg}, nil
}

// ValidateDump checks that path names a readable minidump: it must
// exist, carry a dump extension, and start with the MDMP magic.
func ValidateDump(path string) error {
	if path == "" {
		return &ValidationError{Path: path, Reason: "no dump path given"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Path: path, Reason: "file not found"}
	}
	if info.IsDir() {
		return &ValidationError{Path: path, Reason: "path is a directory"}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dmp", ".mdmp":
	default:
		return &ValidationError{Path: path, Reason: fmt.Sprintf("unrecognized extension %q", filepath.Ext(path))}
	}
	f, err := os.Open(path)
	if err != nil {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("cannot open: %v", err)}
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil || string(magic) != "MDMP" {
		return &ValidationError{Path: path, Reason: "missing minidump header"}
	}
	return nil
}

// cdbArgs builds the argument list for one command invocation.
func (e *CdbExecutor) cdbArgs(command string) []string {
	args := []string{"-z", e.cfg.DumpPath}
	if e.cfg.SymbolPath != "" {
		args = append(args, "-y", e.cfg.SymbolPath)
	}
	args = append(args, "-lines", "-c", command+"; q")
	return args
}

// Execute runs one command under the configured timeout. The returned
// error is non-nil only when the debugger process could not run at
// all; debugger-level failures come back inside the result.
func (e *CdbExecutor) Execute(ctx context.Context, command string) (*CommandResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.CdbPath, e.cdbArgs(command)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return &CommandResult{
			Command:  command,
			Success:  false,
			Error:    fmt.Sprintf("command timed out after %s", e.cfg.Timeout),
			TimedOut: true,
			Duration: elapsed,
		}, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ToolExecutionError{Command: command, Err: err}
		}
		// cdb exits non-zero for some recoverable command errors;
		// fall through and let the output tell us what happened.
	}

	output := CleanOutput(buf.String())
	toolErr := ExtractError(output)
	return &CommandResult{
		Command:  command,
		Output:   output,
		Success:  err == nil && toolErr == "",
		Error:    toolErr,
		Duration: elapsed,
	}, nil
}

// preamble lines cdb prints before every command's real output.
var noisePrefixes = []string{
	"microsoft (r) windows debugger",
	"copyright (c) microsoft corporation",
	"loading dump file",
	"user mini dump file",
	"symbol search path is:",
	"executable search path is:",
	"windows 10 version",
	"windows 11 version",
	"loading unloaded module list",
	"quit:",
}

// CleanOutput strips the debugger preamble and blank lines.
func CleanOutput(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		noise := false
		for _, p := range noisePrefixes {
			if strings.Contains(lower, p) {
				noise = true
				break
			}
		}
		if !noise {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*\^+\s*Syntax error.*$`),
	regexp.MustCompile(`(?i)^Error:\s*.+$`),
	regexp.MustCompile(`(?i)Unknown command\b.*`),
	regexp.MustCompile(`(?i)Illegal thread error\b.*`),
	regexp.MustCompile(`(?i)No export \S+ found`),
	regexp.MustCompile(`(?i)Couldn't resolve error at '.+'`),
	regexp.MustCompile(`(?i)^Unable to .+$`),
	regexp.MustCompile(`(?i)^Failed to .+$`),
}

// ExtractError returns the first debugger-reported error in the
// output, or "" when the command ran clean.
func ExtractError(output string) string {
	for _, line := range strings.Split(output, "\n") {
		for _, re := range errorPatterns {
			if m := re.FindString(line); m != "" {
				return strings.TrimSpace(m)
			}
		}
	}
	return ""
}
