package evidence

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS evidence (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	command TEXT NOT NULL,
	finding TEXT,
	significance TEXT,
	confidence TEXT,
	summary TEXT,
	key_findings TEXT,
	content TEXT,
	file_path TEXT,
	size INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	embedding TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_session ON evidence(session_id);
CREATE INDEX IF NOT EXISTS idx_evidence_hash ON evidence(session_id, content_hash);
`

// StoreConfig configures a session-scoped evidence store.
type StoreConfig struct {
	DBPath    string
	SessionID string
	BlobDir   string
	// Threshold is the inline/external size boundary in bytes. Content
	// at or above it is written to BlobDir and referenced by id.
	Threshold int
}

// Store is the per-session evidence store. It has a single writer (the
// controller's sequential flow).
type Store struct {
	db  *sql.DB
	cfg StoreConfig
}

// OpenStore opens the session's evidence index and ensures the blob
// directory exists.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("evidence: session id is required")
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("evidence: threshold must be positive, got %d", cfg.Threshold)
	}
	if err := os.MkdirAll(cfg.BlobDir, 0700); err != nil {
		return nil, &SessionIOError{Op: "create blob directory", Err: err}
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, &SessionIOError{Op: "open index", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &SessionIOError{Op: "create schema", Err: err}
	}
	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the index database.
func (s *Store) Close() error { return s.db.Close() }

// Put stores evidence and returns its content-keyed id. The same
// session, command, and content always produce the same id, so retried
// calls after a healed command do not duplicate storage.
func (s *Store) Put(ev Evidence) (string, error) {
	ev.SessionID = s.cfg.SessionID
	ev.Size = len(ev.Content)
	ev.ContentHash = hashContent(ev.Content)
	ev.ID = evidenceID(s.cfg.SessionID, ev.Command, ev.ContentHash)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	content := ev.Content
	if ev.Size >= s.cfg.Threshold {
		path := filepath.Join(s.cfg.BlobDir, ev.ID+".txt")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return "", &SessionIOError{Op: "write blob", Err: err}
		}
		ev.FilePath = path
		content = ""
	}

	keyFindings, err := json.Marshal(ev.KeyFindings)
	if err != nil {
		return "", &SessionIOError{Op: "marshal key findings", Err: err}
	}
	embedding, err := json.Marshal(ev.Embedding)
	if err != nil {
		return "", &SessionIOError{Op: "marshal embedding", Err: err}
	}

	_, err = s.db.Exec(`
		INSERT INTO evidence
			(id, session_id, command, finding, significance, confidence,
			 summary, key_findings, content, file_path, size, content_hash,
			 embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.SessionID, ev.Command, ev.Finding, ev.Significance,
		ev.Confidence, ev.Summary, string(keyFindings), content, ev.FilePath,
		ev.Size, ev.ContentHash, string(embedding),
		ev.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", &SessionIOError{Op: "insert", Err: err}
	}
	return ev.ID, nil
}

// Get loads one evidence record, reading external content back in.
func (s *Store) Get(id string) (*Evidence, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, command, finding, significance, confidence,
		       summary, key_findings, content, file_path, size, content_hash,
		       embedding, created_at
		FROM evidence WHERE id = ?`, id)
	ev, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evidence: %s not found", id)
	}
	if err != nil {
		return nil, &SessionIOError{Op: "get", Err: err}
	}
	if ev.External() {
		data, err := os.ReadFile(ev.FilePath)
		if err != nil {
			return nil, &SessionIOError{Op: "read blob", Err: err}
		}
		ev.Content = string(data)
	}
	return ev, nil
}

// All returns the session's evidence inventory in insertion order,
// without loading external blob content.
func (s *Store) All() ([]Evidence, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, command, finding, significance, confidence,
		       summary, key_findings, content, file_path, size, content_hash,
		       embedding, created_at
		FROM evidence WHERE session_id = ? ORDER BY created_at, id`,
		s.cfg.SessionID)
	if err != nil {
		return nil, &SessionIOError{Op: "query", Err: err}
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, &SessionIOError{Op: "scan", Err: err}
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &SessionIOError{Op: "iterate", Err: err}
	}
	return out, nil
}

// FindRecentDuplicate reports whether identical content was already
// stored for this command in the session.
func (s *Store) FindRecentDuplicate(command, content string) (*Evidence, error) {
	id := evidenceID(s.cfg.SessionID, command, hashContent(content))
	row := s.db.QueryRow(`
		SELECT id, session_id, command, finding, significance, confidence,
		       summary, key_findings, content, file_path, size, content_hash,
		       embedding, created_at
		FROM evidence WHERE id = ?`, id)
	ev, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &SessionIOError{Op: "duplicate lookup", Err: err}
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(r rowScanner) (*Evidence, error) {
	var ev Evidence
	var keyFindings, embedding, createdAt string
	err := r.Scan(&ev.ID, &ev.SessionID, &ev.Command, &ev.Finding,
		&ev.Significance, &ev.Confidence, &ev.Summary, &keyFindings,
		&ev.Content, &ev.FilePath, &ev.Size, &ev.ContentHash,
		&embedding, &createdAt)
	if err != nil {
		return nil, err
	}
	if keyFindings != "" && keyFindings != "null" {
		if err := json.Unmarshal([]byte(keyFindings), &ev.KeyFindings); err != nil {
			return nil, fmt.Errorf("parse key findings: %w", err)
		}
	}
	if embedding != "" && embedding != "null" {
		if err := json.Unmarshal([]byte(embedding), &ev.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &ev, nil
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// evidenceID derives the content-keyed id. The command is included so
// the same output from two different commands stays distinguishable.
func evidenceID(sessionID, command, contentHash string) string {
	h := sha256.Sum256([]byte(sessionID + "\x00" + command + "\x00" + contentHash))
	return "ev-" + hex.EncodeToString(h[:12])
}
