package session

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// AuditEntry is one line in the hash-chained JSONL investigation log.
// Fields are fixed structs so json.Marshal field order is deterministic
// and the chain hashes reproduce.
type AuditEntry struct {
	Timestamp string `json:"ts"`
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
	Outcome   string `json:"outcome"`
	PrevHash  string `json:"prev_hash"`
}

// Entry kinds recorded during a run.
const (
	KindCommand    = "command"
	KindHeal       = "heal"
	KindRedaction  = "redaction"
	KindTransition = "transition"
	KindOracle     = "oracle"
	KindReport     = "report"
)

// AuditLog is an append-only JSONL log with SHA-256 hash chaining, one
// per session. Each entry's prev_hash is the hash of the previous line,
// making tampering and deletion detectable.
type AuditLog struct {
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// OpenAudit opens (or creates) the session's audit log for appending,
// recovering the chain tail from an existing file.
func OpenAudit(path string) (*AuditLog, error) {
	prevHash := GenesisHash

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audit: read existing log: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = append(lastLine[:0], scanner.Bytes()...)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("audit: scan existing log: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = hashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &AuditLog{file: file, prevHash: prevHash}, nil
}

// Record appends an entry, setting Timestamp (if empty) and PrevHash.
func (l *AuditLog) Record(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.prevHash = hashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// VerifyResult reports the integrity of an audit log file.
type VerifyResult struct {
	Valid     bool
	Lines     int
	ErrorLine int
	Error     string
}

// VerifyAudit walks the chain and reports the first broken link.
func VerifyAudit(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	expected := GenesisHash
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		var entry AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return VerifyResult{Lines: line, ErrorLine: line, Error: fmt.Sprintf("parse: %v", err)}
		}
		if entry.PrevHash != expected {
			return VerifyResult{Lines: line, ErrorLine: line, Error: "hash chain broken"}
		}
		expected = hashLine(append([]byte(nil), raw...))
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: line, Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: line}
}

func hashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
