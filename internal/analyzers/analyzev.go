package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Uppercase KEY: value fields emitted by the automatic analysis.
	analyzeFieldRe = regexp.MustCompile(`(?m)^([A-Z][A-Z0-9_]{2,}):\s*(.+)$`)

	analyzeWantedFields = []string{
		"EXCEPTION_CODE", "EXCEPTION_CODE_STR", "EXCEPTION_RECORD",
		"FAILURE_BUCKET_ID", "SYMBOL_NAME", "MODULE_NAME", "IMAGE_NAME",
		"PROCESS_NAME", "ERROR_CODE", "BUGCHECK_STR", "DEFAULT_BUCKET_ID",
		"FAULTING_THREAD", "STACK_COMMAND",
	}

	stackTextRe = regexp.MustCompile(`(?s)STACK_TEXT:\s*\n(.*?)(?:\n[A-Z][A-Z0-9_]{2,}:|\z)`)
)

// AnalyzeVAnalyzer extracts the key fields of the debugger's automatic
// exception analysis (!analyze -v).
type AnalyzeVAnalyzer struct{}

func NewAnalyzeVAnalyzer() *AnalyzeVAnalyzer { return &AnalyzeVAnalyzer{} }

func (a *AnalyzeVAnalyzer) Name() string        { return "analyze-v" }
func (a *AnalyzeVAnalyzer) Description() string { return "automatic exception analysis from !analyze -v" }
func (a *AnalyzeVAnalyzer) Tier() int           { return 2 }

func (a *AnalyzeVAnalyzer) CanAnalyze(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	return cmd == "!analyze" || strings.HasPrefix(cmd, "!analyze ")
}

func (a *AnalyzeVAnalyzer) Analyze(command, output string) *AnalysisResult {
	fields := map[string]string{}
	for _, m := range analyzeFieldRe.FindAllStringSubmatch(output, -1) {
		key, val := m[1], strings.TrimSpace(m[2])
		if val == "" {
			continue
		}
		for _, want := range analyzeWantedFields {
			if key == want {
				fields[key] = val
				break
			}
		}
	}
	if len(fields) == 0 {
		return failure(a.Name(), a.Tier(), "no analysis fields found in output")
	}

	var stackFrames []string
	if m := stackTextRe.FindStringSubmatch(output); m != nil {
		for _, line := range splitLines(m[1]) {
			if frame := strings.TrimSpace(line); frame != "" {
				stackFrames = append(stackFrames, frame)
			}
		}
	}

	var parts []string
	if code, ok := fields["EXCEPTION_CODE_STR"]; ok {
		parts = append(parts, fmt.Sprintf("Exception %s.", code))
	} else if code, ok := fields["EXCEPTION_CODE"]; ok {
		parts = append(parts, fmt.Sprintf("Exception code %s.", code))
	}
	if bucket, ok := fields["FAILURE_BUCKET_ID"]; ok {
		parts = append(parts, fmt.Sprintf("Failure bucket %s.", bucket))
	}
	if sym, ok := fields["SYMBOL_NAME"]; ok {
		parts = append(parts, fmt.Sprintf("Faulting symbol %s.", sym))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("Automatic analysis extracted %d fields.", len(fields)))
	}
	summary := strings.Join(parts, " ")

	var findings []string
	for _, key := range analyzeWantedFields {
		if val, ok := fields[key]; ok {
			findings = append(findings, fmt.Sprintf("%s: %s", key, val))
		}
	}
	if len(stackFrames) > 0 {
		findings = append(findings, fmt.Sprintf("Faulting stack has %d frames, top: %s", len(stackFrames), stackFrames[0]))
	}

	md := meta(a.Name(), a.Tier())
	if bucket, ok := fields["FAILURE_BUCKET_ID"]; ok {
		md["failure_bucket"] = bucket
	}

	return &AnalysisResult{
		StructuredData: map[string]any{
			"fields":       fields,
			"stack_frames": stackFrames,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}
