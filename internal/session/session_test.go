package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateSessionLayout(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := m.Create("/dumps/myapp w3wp.dmp", "hang during checkout")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !strings.HasPrefix(s.ID, "session_") {
		t.Errorf("session id %q missing prefix", s.ID)
	}
	if strings.ContainsAny(filepath.Base(s.Dir), " ") {
		t.Errorf("session dir %q contains unsafe characters", s.Dir)
	}
	if _, err := os.Stat(s.EvidenceDir()); err != nil {
		t.Errorf("evidence dir missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir, "metadata.json")); err != nil {
		t.Errorf("metadata missing: %v", err)
	}
}

func TestOpenBumpsLastAccessed(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := m.Create("/dumps/app.dmp", "crash")
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := m.Open(s.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Meta.DumpPath != "/dumps/app.dmp" {
		t.Errorf("dump path = %q", reopened.Meta.DumpPath)
	}
	if reopened.Meta.LastAccessed.Before(s.Meta.CreatedAt) {
		t.Error("last_accessed not bumped on open")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a, err := m.Create("/dumps/a.dmp", "x")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Create("/dumps/a.dmp", "x")
	if err != nil {
		t.Fatal(err)
	}
	if a.Dir == b.Dir {
		t.Fatal("two sessions for the same dump share a directory")
	}
	if a.ID == b.ID {
		t.Fatal("two sessions share an id")
	}
}

func TestAuditChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := OpenAudit(path)
	if err != nil {
		t.Fatalf("OpenAudit: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := l.Record(AuditEntry{
			SessionID: "session_test",
			Phase:     "investigate",
			Kind:      KindCommand,
			Detail:    "!threads",
			Outcome:   "ok",
		}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := VerifyAudit(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 4 {
		t.Errorf("lines = %d, want 4", result.Lines)
	}
}

func TestAuditDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := OpenAudit(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := l.Record(AuditEntry{Kind: KindHeal, Outcome: "ok"}); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), `"ok"`, `"no"`, 1)
	os.WriteFile(path, []byte(tampered), 0600)

	result := VerifyAudit(path)
	if result.Valid {
		t.Fatal("tampered log verified as valid")
	}
}

func TestAuditReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := OpenAudit(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Record(AuditEntry{Kind: KindCommand, Detail: "!syncblk"})
	l.Close()

	l2, err := OpenAudit(path)
	if err != nil {
		t.Fatal(err)
	}
	l2.Record(AuditEntry{Kind: KindCommand, Detail: "!threads"})
	l2.Close()

	result := VerifyAudit(path)
	if !result.Valid {
		t.Fatalf("reopened chain invalid at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 2 {
		t.Errorf("lines = %d, want 2", result.Lines)
	}
}
