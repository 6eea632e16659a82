// Package healer repairs failed debugger commands. The oracle is the
// primary repair path; a fixed rewrite table keyed on well-known error
// messages covers the cases where the oracle is unavailable or keeps
// producing invalid fixes.
package healer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dumpsleuth/dumpsleuth/internal/evidence"
	"github.com/dumpsleuth/dumpsleuth/internal/oracle"
)

// HealingExhausted reports that no valid repair was found within the
// attempt budget.
type HealingExhausted struct {
	Command  string
	Attempts int
}

func (e *HealingExhausted) Error() string {
	return fmt.Sprintf("healing exhausted for %q after %d attempts", e.Command, e.Attempts)
}

// Stats is the healer's accounting. Every Heal call lands in exactly
// one of the two counters.
type Stats struct {
	SuccessfulHeals int
	FailedHeals     int
}

// Calls is the total number of heal attempts.
func (s Stats) Calls() int { return s.SuccessfulHeals + s.FailedHeals }

// SuccessRate is SuccessfulHeals over total calls, 0 when there have
// been none.
func (s Stats) SuccessRate() float64 {
	if s.Calls() == 0 {
		return 0
	}
	return float64(s.SuccessfulHeals) / float64(s.Calls())
}

// HealRecord is one entry in the healing log.
type HealRecord struct {
	Original string
	Healed   string
	Error    string
}

// Config bounds the healer.
type Config struct {
	Oracle      oracle.Oracle
	MaxRetries  int
	RetryPolicy oracle.RetryPolicy
}

// Healer repairs commands. Safe for use from a single investigation
// goroutine; the counters are still mutex-guarded for the stats
// readers.
type Healer struct {
	oracle     oracle.Oracle
	maxRetries int
	policy     oracle.RetryPolicy

	mu    sync.Mutex
	stats Stats
	log   []HealRecord
}

// New builds a Healer. A nil oracle disables the dynamic path; the
// rewrite table still applies.
func New(cfg Config) *Healer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = oracle.DefaultRetryPolicy()
	}
	return &Healer{oracle: cfg.Oracle, maxRetries: cfg.MaxRetries, policy: cfg.RetryPolicy}
}

var (
	anglePlaceholderRe = regexp.MustCompile(`<[^<>]+>`)
	threadBracketRe    = regexp.MustCompile(`~~\[([A-Za-z_][A-Za-z0-9_]*)\]`)
	hexValueRe         = regexp.MustCompile(`(?i)\b(?:0x)?[0-9a-f]{8,16}\b`)
	threadSwitchRe     = regexp.MustCompile(`^~\S+\s*e\s+`)
	missingSpaceFlagRe = regexp.MustCompile(`(![a-z]+)(-[a-z]+)`)
	threadValueRe      = regexp.MustCompile(`(?i)(?:Thread|TID):?\s*(\d+)`)
)

// Heal attempts to repair a failed command. recent is the most recent
// evidence, newest last, used to resolve placeholder arguments. On
// failure the error is a *HealingExhausted.
func (h *Healer) Heal(ctx context.Context, command, errorOutput string, recent []evidence.Evidence) (string, error) {
	healed, attempts := h.heal(ctx, command, errorOutput, recent)

	h.mu.Lock()
	defer h.mu.Unlock()
	if healed != "" {
		h.stats.SuccessfulHeals++
		h.log = append(h.log, HealRecord{Original: command, Healed: healed, Error: truncate(errorOutput, 200)})
		return healed, nil
	}
	h.stats.FailedHeals++
	return "", &HealingExhausted{Command: command, Attempts: attempts}
}

func (h *Healer) heal(ctx context.Context, command, errorOutput string, recent []evidence.Evidence) (string, int) {
	// Placeholder arguments can only be filled from evidence; the
	// oracle would just invent an address.
	if hasPlaceholder(command) {
		if resolved, ok := resolvePlaceholders(command, recent); ok {
			return resolved, 0
		}
		return "", 0
	}

	attempts := 0
	if h.oracle != nil {
		for ; attempts < h.maxRetries; attempts++ {
			fixed, err := h.healWithOracle(ctx, command, errorOutput, recent)
			if err != nil {
				break
			}
			if fixed == "" {
				// Oracle answered SKIP: wrong address type,
				// retrying will not change that.
				return "", attempts + 1
			}
			if err := validateHealed(command, fixed); err == nil {
				return fixed, attempts + 1
			}
		}
	}

	if fixed := rewriteKnownError(command, errorOutput); fixed != "" {
		return fixed, attempts
	}
	return "", attempts
}

const healSystemPrompt = "You are a debugger command repair expert. Return ONLY the fixed command, no explanations. Return SKIP if the command cannot be repaired."

func (h *Healer) healWithOracle(ctx context.Context, command, errorOutput string, recent []evidence.Evidence) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "A cdb/SOS debugger command failed and needs repair.\n\n")
	fmt.Fprintf(&b, "FAILED COMMAND: %s\n\nERROR OUTPUT:\n%s\n", command, truncate(errorOutput, 2000))
	if n := len(recent); n > 0 {
		b.WriteString("\nRECENT COMMAND HISTORY:\n")
		start := n - 3
		if start < 0 {
			start = 0
		}
		for _, ev := range recent[start:] {
			fmt.Fprintf(&b, "Command: %s\nOutput: %s\n\n", ev.Command, truncate(ev.Content, 400))
		}
	}
	b.WriteString("\nRules:\n")
	b.WriteString("1. Return ONLY the fixed command, one line.\n")
	b.WriteString("2. Preserve the original intent; never change which data the command returns.\n")
	b.WriteString("3. Never add a -stat flag the original did not have; never drop a -short flag.\n")
	b.WriteString("4. If the failure is an address type mismatch, return SKIP.\n")

	resp, err := oracle.CompleteWithRetry(ctx, h.oracle, []oracle.Message{
		{Role: oracle.RoleSystem, Content: healSystemPrompt},
		{Role: oracle.RoleUser, Content: b.String()},
	}, oracle.Options{Temperature: 0.1}, h.policy)
	if err != nil {
		return "", err
	}

	fixed := extractCommand(oracle.CleanJSON(resp))
	if strings.EqualFold(fixed, "SKIP") {
		return "", nil
	}
	return fixed, nil
}

// extractCommand pulls the first command-shaped line out of an oracle
// response.
func extractCommand(resp string) string {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if looksLikeCommand(line) || strings.EqualFold(line, "SKIP") {
			return line
		}
	}
	return strings.TrimSpace(resp)
}

func looksLikeCommand(s string) bool {
	return strings.HasPrefix(s, "!") || strings.HasPrefix(s, "~") ||
		strings.HasPrefix(s, "dx") || strings.HasPrefix(s, ".")
}

// validateHealed rejects repairs that change what the command returns.
func validateHealed(original, healed string) error {
	if healed == "" || healed == original {
		return fmt.Errorf("no change")
	}
	if strings.ContainsAny(healed, "\n\r") {
		return fmt.Errorf("multi-line repair")
	}
	if !looksLikeCommand(healed) {
		return fmt.Errorf("not a debugger command")
	}
	if strings.Contains(healed, "-stat") && !strings.Contains(original, "-stat") {
		return fmt.Errorf("added -stat flag")
	}
	if strings.Contains(original, "-short") && !strings.Contains(healed, "-short") {
		return fmt.Errorf("dropped -short flag")
	}
	if strings.HasPrefix(healed, "~") && strings.HasPrefix(original, "!") && strings.Contains(healed, ";") {
		return fmt.Errorf("injected thread switch")
	}
	return nil
}

// rewriteKnownError applies the static rewrite table.
func rewriteKnownError(command, errorOutput string) string {
	switch {
	case strings.Contains(errorOutput, "Illegal thread error"):
		// Bad thread qualifier; run the command without it.
		if stripped := threadSwitchRe.ReplaceAllString(command, ""); stripped != command && stripped != "" {
			return stripped
		}
	case strings.Contains(errorOutput, "Unknown command"):
		if !strings.HasPrefix(command, "!") && !strings.HasPrefix(command, "~") &&
			!strings.HasPrefix(command, ".") && !strings.HasPrefix(command, "dx") {
			return "!" + command
		}
	case strings.Contains(errorOutput, "Syntax error"):
		if fixed := missingSpaceFlagRe.ReplaceAllString(command, "$1 $2"); fixed != command {
			return fixed
		}
	}
	return ""
}

// hasPlaceholder reports whether the command carries an unresolved
// template argument rather than a real address or thread id.
func hasPlaceholder(command string) bool {
	if anglePlaceholderRe.MatchString(command) {
		return true
	}
	if m := threadBracketRe.FindStringSubmatch(command); m != nil {
		return !isHex(m[1])
	}
	return false
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// resolvePlaceholders substitutes the newest matching value from the
// evidence for each angle-bracket placeholder. Address-like
// placeholders take hex values; thread placeholders take thread ids.
func resolvePlaceholders(command string, recent []evidence.Evidence) (string, bool) {
	resolved := anglePlaceholderRe.ReplaceAllStringFunc(command, func(ph string) string {
		if v := lookupValue(ph, recent); v != "" {
			return v
		}
		return ph
	})
	if anglePlaceholderRe.MatchString(resolved) {
		return "", false
	}
	if resolved == command {
		return "", false
	}
	return resolved, true
}

func lookupValue(placeholder string, recent []evidence.Evidence) string {
	lower := strings.ToLower(placeholder)
	wantHex := strings.Contains(lower, "addr") || strings.Contains(lower, "mt") ||
		strings.Contains(lower, "object") || strings.Contains(lower, "method table")
	wantThread := strings.Contains(lower, "thread") || strings.Contains(lower, "tid")
	if !wantHex && !wantThread {
		return ""
	}
	for i := len(recent) - 1; i >= 0; i-- {
		text := recent[i].Content
		if text == "" {
			text = recent[i].Summary
		}
		if wantHex {
			if m := hexValueRe.FindString(text); m != "" {
				if !strings.HasPrefix(m, "0x") {
					m = "0x" + m
				}
				return m
			}
		}
		if wantThread {
			if m := threadValueRe.FindStringSubmatch(text); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// Stats returns a copy of the counters.
func (h *Healer) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Log returns the healing log, oldest first.
func (h *Healer) Log() []HealRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HealRecord, len(h.log))
	copy(out, h.log)
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
