package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Child-SP IP CallSite [source @ line]
	stackFrameRe = regexp.MustCompile(`^([0-9a-fA-F]{8,})\s+([0-9a-fA-F]{8,})\s+(.+?)(?:\s+\[(.+?)\s+@\s+(\d+)\])?$`)
	osThreadIDRe = regexp.MustCompile(`OS Thread Id:\s+0x([0-9a-fA-F]+)`)
	excObjectRe  = regexp.MustCompile(`Exception object:\s+([0-9a-fA-F]+)`)
	excTypeRe    = regexp.MustCompile(`Exception type:\s+(.+)`)
	excMessageRe = regexp.MustCompile(`Message:\s+(.+)`)
)

// StackFrame is one parsed !clrstack frame.
type StackFrame struct {
	ChildSP    string
	IP         string
	CallSite   string
	SourceFile string
	Line       int
}

// CLRStackAnalyzer parses managed stack traces from !clrstack and
// !pe-style exception blocks embedded in them.
type CLRStackAnalyzer struct{}

func NewCLRStackAnalyzer() *CLRStackAnalyzer { return &CLRStackAnalyzer{} }

func (a *CLRStackAnalyzer) Name() string        { return "clrstack" }
func (a *CLRStackAnalyzer) Description() string { return "managed stack frames from !clrstack" }
func (a *CLRStackAnalyzer) Tier() int           { return 2 }

func (a *CLRStackAnalyzer) CanAnalyze(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	return strings.Contains(cmd, "!clrstack") || strings.Contains(cmd, "!pe")
}

func (a *CLRStackAnalyzer) Analyze(command, output string) *AnalysisResult {
	frames := parseStackFrames(output)

	var osThread string
	if m := osThreadIDRe.FindStringSubmatch(output); m != nil {
		osThread = m[1]
	}

	exception := map[string]string{}
	if m := excObjectRe.FindStringSubmatch(output); m != nil {
		exception["object"] = m[1]
	}
	if m := excTypeRe.FindStringSubmatch(output); m != nil {
		exception["type"] = strings.TrimSpace(m[1])
	}
	if m := excMessageRe.FindStringSubmatch(output); m != nil {
		exception["message"] = strings.TrimSpace(m[1])
	}

	var blocking []StackFrame
	for _, f := range frames {
		site := strings.ToLower(f.CallSite)
		if strings.Contains(site, "monitor.wait") || strings.Contains(site, "monitor.enter") ||
			strings.Contains(site, "waithandle.wait") || strings.Contains(site, "task.wait") ||
			strings.Contains(site, "thread.sleep") {
			blocking = append(blocking, f)
		}
	}

	summary := fmt.Sprintf("Stack has %d managed frames.", len(frames))
	if osThread != "" {
		summary = fmt.Sprintf("Thread 0x%s stack has %d managed frames.", osThread, len(frames))
	}
	if len(blocking) > 0 {
		summary += fmt.Sprintf(" %d frames are blocking waits.", len(blocking))
	}
	if exception["type"] != "" {
		summary += fmt.Sprintf(" Exception on stack: %s.", exception["type"])
	}

	findings := []string{fmt.Sprintf("Managed frames: %d", len(frames))}
	if exception["type"] != "" {
		findings = append(findings, fmt.Sprintf("Exception: %s - %s", exception["type"], exception["message"]))
	}
	for i, f := range blocking {
		if i >= 3 {
			break
		}
		findings = append(findings, fmt.Sprintf("Blocking frame: %s", f.CallSite))
	}
	if len(frames) > 0 {
		findings = append(findings, fmt.Sprintf("Top frame: %s", frames[0].CallSite))
	}

	md := meta(a.Name(), a.Tier())
	md["frame_count"] = len(frames)

	return &AnalysisResult{
		StructuredData: map[string]any{
			"frames":          frames,
			"os_thread":       osThread,
			"exception":       exception,
			"blocking_frames": blocking,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func parseStackFrames(output string) []StackFrame {
	var frames []StackFrame
	for _, line := range splitLines(output) {
		m := stackFrameRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		f := StackFrame{ChildSP: m[1], IP: m[2], CallSite: strings.TrimSpace(m[3])}
		if m[4] != "" {
			f.SourceFile = m[4]
			f.Line = atoiMust(m[5])
		}
		frames = append(frames, f)
	}
	return frames
}
