package analyzers

import (
	"strings"
	"testing"
)

const runawayOutput = ` User Mode Time
  Thread       Time
   3:1a2c      0 days 2:15:00.500
   0:0fe8      0 days 0:00:12.031
  12:1b40      0 days 0:00:01.015
   5:21d0      0 days 0:00:00.000
`

func TestRunawayTopConsumer(t *testing.T) {
	a := NewRunawayAnalyzer()
	res := a.Analyze("!runaway", runawayOutput)

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	times := res.StructuredData["thread_times"].([]ThreadTime)
	if len(times) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(times))
	}
	if times[0].DbgID != 3 {
		t.Errorf("top consumer should be thread 3, got %d", times[0].DbgID)
	}
	if times[0].Seconds != 2*3600+15*60+0.5 {
		t.Errorf("thread 3 seconds = %v", times[0].Seconds)
	}

	joined := strings.Join(res.Findings, "\n")
	if !strings.Contains(joined, "Top CPU consumer: thread 3") {
		t.Errorf("findings missing top consumer:\n%s", joined)
	}
	// Thread 3 holds nearly all the CPU time, so the dominance signal
	// must fire.
	if !strings.Contains(joined, "possible spin or hot loop") {
		t.Errorf("findings missing dominance signal:\n%s", joined)
	}
}

func TestRunawayNoRows(t *testing.T) {
	a := NewRunawayAnalyzer()
	res := a.Analyze("!runaway", "User Mode Time\nno data\n")
	if res.Success {
		t.Error("expected failure on unparseable output")
	}
	if res.Err == "" {
		t.Error("expected error message")
	}
}

func TestRunawayCanAnalyze(t *testing.T) {
	a := NewRunawayAnalyzer()
	if !a.CanAnalyze(" !runaway 7") {
		t.Error("should match !runaway with flags")
	}
	if a.CanAnalyze("!threads") {
		t.Error("should not match !threads")
	}
}
