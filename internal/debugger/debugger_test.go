package debugger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeDump(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write dump: %v", err)
	}
	return path
}

func TestValidateDump(t *testing.T) {
	dir := t.TempDir()
	good := writeDump(t, dir, "crash.dmp", []byte("MDMP\x93\xa7\x00\x00"))

	if err := ValidateDump(good); err != nil {
		t.Errorf("valid dump rejected: %v", err)
	}

	cases := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.dmp")},
		{"wrong extension", writeDump(t, dir, "crash.txt", []byte("MDMP"))},
		{"bad header", writeDump(t, dir, "junk.dmp", []byte("JUNKDATA"))},
		{"empty path", ""},
		{"directory", dir + string(os.PathSeparator) + "sub.dmp"},
	}
	os.Mkdir(cases[4].path, 0o755)
	for _, c := range cases {
		err := ValidateDump(c.path)
		if err == nil {
			t.Errorf("%s: expected validation error", c.name)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: error type %T, want *ValidationError", c.name, err)
		}
	}
}

func TestCdbArgs(t *testing.T) {
	dir := t.TempDir()
	dump := writeDump(t, dir, "w3wp.dmp", []byte("MDMP0000"))

	e, err := NewCdbExecutor(CdbConfig{
		DumpPath:   dump,
		SymbolPath: `srv*c:\symbols`,
		Timeout:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewCdbExecutor: %v", err)
	}
	args := e.cdbArgs("!threadpool")
	want := []string{"-z", dump, "-y", `srv*c:\symbols`, "-lines", "-c", "!threadpool; q"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestCdbArgsWithoutSymbols(t *testing.T) {
	dir := t.TempDir()
	dump := writeDump(t, dir, "w3wp.dmp", []byte("MDMP0000"))

	e, err := NewCdbExecutor(CdbConfig{DumpPath: dump})
	if err != nil {
		t.Fatalf("NewCdbExecutor: %v", err)
	}
	args := e.cdbArgs("!syncblk")
	for _, a := range args {
		if a == "-y" {
			t.Error("-y emitted without a symbol path")
		}
	}
}

func TestCleanOutputStripsPreamble(t *testing.T) {
	raw := strings.Join([]string{
		"Microsoft (R) Windows Debugger Version 10.0",
		"Copyright (c) Microsoft Corporation. All rights reserved.",
		"Loading Dump File [C:\\dumps\\w3wp.dmp]",
		"User Mini Dump File with Full Memory",
		"Symbol search path is: srv*",
		"",
		"CPU utilization: 81%",
		"Worker Thread: Total: 16 Running: 16 Idle: 0",
		"quit:",
	}, "\n")

	got := CleanOutput(raw)
	if strings.Contains(got, "Microsoft") || strings.Contains(got, "quit:") {
		t.Errorf("preamble not stripped:\n%s", got)
	}
	if !strings.Contains(got, "CPU utilization: 81%") {
		t.Errorf("real output lost:\n%s", got)
	}
}

func TestExtractError(t *testing.T) {
	cases := []struct {
		output string
		want   string
	}{
		{"0:000> !threadpool\nCPU utilization: 5%", ""},
		{"0:000> !thredpool\n^ Syntax error in '!thredpool'", "^ Syntax error in '!thredpool'"},
		{"Unknown command '!foo'", "Unknown command '!foo'"},
		{"~999s\nIllegal thread error in '~999s'", "Illegal thread error in '~999s'"},
		{"No export qwerty found", "No export qwerty found"},
		{"Failed to load data access module", "Failed to load data access module"},
	}
	for _, c := range cases {
		if got := ExtractError(c.output); got != c.want {
			t.Errorf("ExtractError(%q) = %q, want %q", c.output, got, c.want)
		}
	}
}

func TestToolExecutionErrorUnwraps(t *testing.T) {
	inner := errors.New("executable not found")
	err := &ToolExecutionError{Command: "!peb", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ToolExecutionError does not unwrap")
	}
	if !strings.Contains(err.Error(), "!peb") {
		t.Errorf("message %q missing command", err.Error())
	}
}
