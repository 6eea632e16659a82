// Package session manages the isolated per-run directories that hold
// evidence, the investigation audit log, and run metadata. Two
// concurrent runs never share a namespace.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Metadata is persisted as metadata.json in each session directory.
type Metadata struct {
	ID           string    `json:"id"`
	DumpPath     string    `json:"dump_path"`
	Issue        string    `json:"issue"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Session is one isolated investigation run.
type Session struct {
	ID   string
	Dir  string
	Meta Metadata
}

// Manager creates and reopens sessions under a base directory.
type Manager struct {
	baseDir string
}

// NewManager returns a Manager rooted at baseDir, creating it if needed.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("session: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("session: create base directory: %w", err)
	}
	return &Manager{baseDir: baseDir}, nil
}

// Create allocates a new session directory named after the dump and the
// creation time, with an evidence/ subdirectory for external blobs.
func (m *Manager) Create(dumpPath, issue string) (*Session, error) {
	now := time.Now()
	base := fmt.Sprintf("session_%s_%s", now.Format("20060102_150405"), sanitizeName(dumpPath))

	// Same dump, same second: suffix until the directory is ours.
	id := base
	var dir string
	for n := 2; ; n++ {
		dir = filepath.Join(m.baseDir, id)
		err := os.Mkdir(dir, 0700)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("session: create session directory: %w", err)
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
	if err := os.Mkdir(filepath.Join(dir, "evidence"), 0700); err != nil {
		return nil, fmt.Errorf("session: create evidence directory: %w", err)
	}

	s := &Session{
		ID:  id,
		Dir: dir,
		Meta: Metadata{
			ID:           id,
			DumpPath:     dumpPath,
			Issue:        issue,
			CreatedAt:    now,
			LastAccessed: now,
		},
	}
	if err := s.writeMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open reopens an existing session by id and bumps last_accessed.
func (m *Manager) Open(id string) (*Session, error) {
	dir := filepath.Join(m.baseDir, id)
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", id, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("session: parse metadata for %s: %w", id, err)
	}
	s := &Session{ID: id, Dir: dir, Meta: meta}
	s.Meta.LastAccessed = time.Now()
	if err := s.writeMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns the ids of all sessions under the base directory, newest
// first by directory name.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "session_") {
			ids = append(ids, e.Name())
		}
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

// EvidenceDir is where external evidence blobs for this session live.
func (s *Session) EvidenceDir() string {
	return filepath.Join(s.Dir, "evidence")
}

// DatabasePath is the session's evidence index database.
func (s *Session) DatabasePath() string {
	return filepath.Join(s.Dir, "evidence.db")
}

// AuditPath is the session's investigation audit log.
func (s *Session) AuditPath() string {
	return filepath.Join(s.Dir, "audit.jsonl")
}

// ReportPath is where the final report is rendered.
func (s *Session) ReportPath() string {
	return filepath.Join(s.Dir, "report.md")
}

// LogPath is the session's diagnostic log.
func (s *Session) LogPath() string {
	return filepath.Join(s.Dir, "analysis.log")
}

func (s *Session) writeMetadata() error {
	data, err := json.MarshalIndent(s.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, "metadata.json"), data, 0600); err != nil {
		return fmt.Errorf("session: write metadata: %w", err)
	}
	return nil
}

// sanitizeName turns a dump path into a directory-name-safe suffix.
func sanitizeName(dumpPath string) string {
	base := filepath.Base(dumpPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, c := range base {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "dump"
	}
	return b.String()
}
