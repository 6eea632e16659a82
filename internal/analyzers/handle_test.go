package analyzers

import (
	"fmt"
	"strings"
	"testing"
)

const handleOutput = `Handle 4
  Type         	Event
Handle 8
  Type         	Event
Handle c
  Type         	File
  Name         	\Device\HarddiskVolume2\app\logs\app.log
Handle 10
  Type         	TpWorkerFactory
Handle 14
  Type         	Thread
`

func TestHandleParsesPairs(t *testing.T) {
	a := NewHandleAnalyzer()
	res := a.Analyze("!handle", handleOutput)

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if got := res.StructuredData["handle_count"]; got != 5 {
		t.Errorf("handle_count = %v", got)
	}

	handles := res.StructuredData["handles"].([]OSHandle)
	if handles[2].Handle != "c" || handles[2].Type != "File" {
		t.Errorf("pairing wrong: %+v", handles[2])
	}

	typeCounts := res.StructuredData["type_counts"].(map[string]int)
	if typeCounts["Event"] != 2 || typeCounts["File"] != 1 {
		t.Errorf("type_counts = %v", typeCounts)
	}

	patterns := res.StructuredData["patterns"].([]string)
	if len(patterns) != 1 || !strings.Contains(patterns[0], "thread pool active") {
		t.Errorf("patterns = %v", patterns)
	}
	if len(res.StructuredData["issues"].([]string)) != 0 {
		t.Errorf("unexpected issues: %v", res.StructuredData["issues"])
	}
}

func TestHandleThresholdIssues(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, "Handle %x\n  Type         \tMutant\n", i*4)
	}
	a := NewHandleAnalyzer()
	res := a.Analyze("!handle 0 0", b.String())

	issues := res.StructuredData["issues"].([]string)
	if len(issues) != 1 {
		t.Fatalf("issues = %v", issues)
	}
	if !strings.Contains(issues[0], "Mutant handle count excessive: 250") {
		t.Errorf("issue = %q", issues[0])
	}
	joined := strings.Join(res.Findings, "\n")
	if !strings.Contains(joined, "!htrace") {
		t.Errorf("findings missing followup hint:\n%s", joined)
	}
	if !strings.Contains(res.Summary, "1 potential leak issue(s)") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestHandleEmptyOutput(t *testing.T) {
	a := NewHandleAnalyzer()
	res := a.Analyze("!handle", "")

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if res.Summary != "No handles found" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestHandleCanAnalyze(t *testing.T) {
	a := NewHandleAnalyzer()
	if !a.CanAnalyze("!handle") || !a.CanAnalyze("!handle 0 f") {
		t.Error("should match !handle")
	}
	if a.CanAnalyze("!handles") || a.CanAnalyze("!gchandles") {
		t.Error("should not match other commands")
	}
}
