package analyzers

import (
	"strings"
	"testing"
)

const doOutput = `Name:        System.Data.SqlClient.SqlConnection
MethodTable: 00007ff8082dea10
EEClass:     00007ff808145678
Size:        120(0x78) bytes
File:        C:\app\System.Data.dll
Fields:
              MT    Field   Offset                 Type VT     Attr            Value Name
00007ff807e4b2e0  4000001        8        System.String  0 instance 000002e9a1b2c3d4 _connectionString
00007ff807e4c110  4000002       16         System.Int32  1 instance                1 _state
00007ff807e4d220  4000003       24        System.Object  0 instance 0000000000000000 _currentTask
`

const doStringOutput = `Name:        System.String
MethodTable: 00007ff8080e9f70
EEClass:     00007ff8080c3ce8
Size:        74(0x4a) bytes
String:      Server=db01;Database=orders;User Id=svc
Fields:
              MT    Field   Offset                 Type VT     Attr            Value Name
00007ff807e4c110  4000243        8         System.Int32  1 instance               24 _stringLength
`

func TestDumpObjectParsesFields(t *testing.T) {
	a := NewDumpObjectAnalyzer()
	res := a.Analyze("!do 000002e9a1b2c3d4", doOutput)

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	if got := res.StructuredData["type"]; got != "System.Data.SqlClient.SqlConnection" {
		t.Errorf("type = %v", got)
	}
	if got := res.StructuredData["size_bytes"]; got != 120 {
		t.Errorf("size = %v", got)
	}

	fields := res.StructuredData["fields"].([]ObjectField)
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[0].Name != "_connectionString" || fields[0].IsNull {
		t.Errorf("first field parsed wrong: %+v", fields[0])
	}
	if !fields[2].IsNull {
		t.Errorf("_currentTask should be null: %+v", fields[2])
	}

	// SqlConnection is a flagged category.
	if !strings.Contains(res.Summary, "database connection") {
		t.Errorf("summary missing category: %q", res.Summary)
	}
}

func TestDumpObjectStringContent(t *testing.T) {
	a := NewDumpObjectAnalyzer()
	res := a.Analyze("!do 000002e9deadbeef", doStringOutput)

	if !res.Success {
		t.Fatalf("analyze failed: %s", res.Err)
	}
	content := res.StructuredData["string_content"].(string)
	if !strings.HasPrefix(content, "Server=db01") {
		t.Errorf("string content = %q", content)
	}
	joined := strings.Join(res.Findings, "\n")
	if !strings.Contains(joined, "String value") {
		t.Errorf("findings missing string value:\n%s", joined)
	}
}

func TestDumpObjectInvalidAddress(t *testing.T) {
	a := NewDumpObjectAnalyzer()
	res := a.Analyze("!do 42", "Invalid object")

	if !res.Success {
		t.Fatalf("invalid address is a parseable outcome, got error: %s", res.Err)
	}
	if !strings.Contains(res.Summary, "not found or invalid") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestDumpObjectCanAnalyze(t *testing.T) {
	a := NewDumpObjectAnalyzer()
	if !a.CanAnalyze("!do 0x1234") || !a.CanAnalyze("!DumpObj 0x1234") {
		t.Error("should match !do and !dumpobj")
	}
	if a.CanAnalyze("!dso") || a.CanAnalyze("!dumpheap -stat") {
		t.Error("should not match !dso or !dumpheap")
	}
}
