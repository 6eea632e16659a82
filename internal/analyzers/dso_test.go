package analyzers

import (
	"strings"
	"testing"
)

const dsoOutput = `OS Thread Id: 0x1e4c (7756)
          SP/REG           Object Name
000000d2f47fd2a0 000002e9a1b00010 System.Threading.Monitor
000000d2f47fd2c8 000002e9a1b00220 System.Data.SqlClient.SqlCommand
000000d2f47fd310 000002e9a1b00440 System.String
000000d2f47fd338 000002e9a1b00550 System.String
000000d2f47fd360 000002e9a1b00660 System.String
000000d2f47fd388 000002e9a1b00770 System.String
000000d2f47fd3b0 000002e9a1b00880 System.String
000000d2f47fd3d8 000002e9a1b00990 System.InvalidOperationException
`

func TestStackObjectsParsesRows(t *testing.T) {
	a := NewStackObjectsAnalyzer()
	res := a.Analyze("!dso", dsoOutput)

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if got := res.StructuredData["thread_id"]; got != "0x1e4c (7756)" {
		t.Errorf("thread_id = %v", got)
	}
	if got := res.StructuredData["object_count"]; got != 8 {
		t.Errorf("object_count = %v", got)
	}

	objects := res.StructuredData["objects"].([]StackObject)
	if objects[0].ShortType != "Monitor" {
		t.Errorf("short type = %q", objects[0].ShortType)
	}
	if objects[0].Address != "000002e9a1b00010" {
		t.Errorf("address = %q", objects[0].Address)
	}

	patterns := res.StructuredData["patterns"].([]string)
	joined := strings.Join(patterns, "\n")
	if !strings.Contains(joined, "1 exception object(s)") {
		t.Errorf("missing exception pattern:\n%s", joined)
	}
	if !strings.Contains(joined, "String appears 5 times") {
		t.Errorf("missing repeated-type pattern:\n%s", joined)
	}
	if !strings.Contains(joined, "synchronization object") {
		t.Errorf("missing sync pattern:\n%s", joined)
	}
	if !strings.Contains(res.Summary, "dominated by String(5)") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestStackObjectsEmptyStack(t *testing.T) {
	a := NewStackObjectsAnalyzer()
	res := a.Analyze("!dso", "OS Thread Id: 0xabc (2748)\n          SP/REG           Object Name\n")

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if got := res.StructuredData["object_count"]; got != 0 {
		t.Errorf("object_count = %v", got)
	}
	if !strings.Contains(res.Summary, "no managed objects on stack") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestStackObjectsCanAnalyze(t *testing.T) {
	a := NewStackObjectsAnalyzer()
	if !a.CanAnalyze("!dso") || !a.CanAnalyze("!DumpStackObjects -verify") {
		t.Error("should match !dso and !dumpstackobjects")
	}
	if a.CanAnalyze("!do 0x1234") {
		t.Error("should not match !do")
	}
}
