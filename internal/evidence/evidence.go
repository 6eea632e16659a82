// Package evidence persists command outputs per session and ranks them
// for relevance during the reasoning phases. Small outputs are inlined
// in the SQLite index; large ones live as addressable text files under
// the session's evidence directory.
package evidence

import (
	"fmt"
	"time"
)

// Confidence levels attached to a finding.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Evidence is one command's output plus what was derived from it.
// Immutable once stored.
type Evidence struct {
	ID           string
	SessionID    string
	Command      string
	Finding      string
	Significance string
	Confidence   string
	Summary      string
	KeyFindings  []string
	Content      string
	FilePath     string
	Size         int
	ContentHash  string
	Embedding    []float32
	CreatedAt    time.Time
}

// External reports whether the content lives outside the index.
func (e *Evidence) External() bool { return e.FilePath != "" }

// SessionIOError marks an evidence persistence failure. It is fatal to
// the run: later reasoning depends on durable evidence, so storage is
// not best-effort.
type SessionIOError struct {
	Op  string
	Err error
}

func (e *SessionIOError) Error() string {
	return fmt.Sprintf("evidence: %s: %v", e.Op, e.Err)
}

func (e *SessionIOError) Unwrap() error { return e.Err }
