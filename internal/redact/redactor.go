// Package redact scrubs sensitive substrings from debugger output before
// it is persisted or sent to the reasoning oracle. Patterns run in
// registration order over a single left-to-right scan: the first pattern
// to claim a span wins and later patterns never re-scan a claimed or
// already-redacted span, so redacting twice is a no-op.
package redact

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches spans produced by a previous redaction pass.
var placeholderRe = regexp.MustCompile(`\[REDACTED:[A-Za-z0-9_\-]+\]`)

type compiledPattern struct {
	Pattern
	re       *regexp.Regexp
	validate func(string) bool
}

// Redactor applies an ordered pattern table to text.
type Redactor struct {
	patterns []compiledPattern
}

// Report summarizes one Redact call.
type Report struct {
	Total      int
	ByPattern  map[string]int
	BySeverity map[Severity]int
}

// New compiles the given patterns in order. A malformed pattern is
// reported to stderr and skipped; it never poisons the rest of the
// table.
func New(patterns []Pattern) *Redactor {
	r := &Redactor{}
	for _, p := range patterns {
		expr := p.Pattern
		if !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redact: skipping pattern %q: %v\n", p.Name, err)
			continue
		}
		r.patterns = append(r.patterns, compiledPattern{
			Pattern:  p,
			re:       re,
			validate: validators[p.Name],
		})
	}
	return r
}

// Default returns a Redactor with only the builtin pattern table.
func Default() *Redactor {
	return New(BuiltinPatterns())
}

// NewFromConfig builds a Redactor from the builtin table plus any
// operator patterns found at path (or the default config locations).
func NewFromConfig(path string) (*Redactor, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(MergePatterns(BuiltinPatterns(), cfg)), nil
}

// PatternNames returns the names of the compiled patterns in order.
func (r *Redactor) PatternNames() []string {
	names := make([]string, 0, len(r.patterns))
	for _, p := range r.patterns {
		names = append(names, p.Name)
	}
	return names
}

type span struct {
	start, end int
	pat        int
}

// Redact replaces every pattern match in text with a deterministic
// placeholder encoding the pattern name, never the matched value.
func (r *Redactor) Redact(text string) (string, *Report) {
	report := &Report{
		ByPattern:  make(map[string]int),
		BySeverity: make(map[Severity]int),
	}

	occupied := placeholderRe.FindAllStringIndex(text, -1)

	var candidates []span
	for i, p := range r.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.validate != nil && !p.validate(text[loc[0]:loc[1]]) {
				continue
			}
			candidates = append(candidates, span{start: loc[0], end: loc[1], pat: i})
		}
	}
	if len(candidates) == 0 {
		return text, report
	}

	// Left-to-right sweep: earliest start wins; on equal start the
	// first-registered pattern wins, longest span breaking that tie.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.pat != b.pat {
			return a.pat < b.pat
		}
		return a.end > b.end
	})

	var kept []span
	cursor := 0
	for _, c := range candidates {
		if c.start < cursor || overlapsAny(c, occupied) {
			continue
		}
		kept = append(kept, c)
		cursor = c.end
	}
	if len(kept) == 0 {
		return text, report
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, k := range kept {
		p := r.patterns[k.pat]
		b.WriteString(text[prev:k.start])
		b.WriteString("[REDACTED:" + p.Name + "]")
		prev = k.end
		report.Total++
		report.ByPattern[p.Name]++
		report.BySeverity[p.Severity]++
	}
	b.WriteString(text[prev:])
	return b.String(), report
}

// TestPattern runs a single named pattern against sample text and
// returns its matches. Intended for pattern-authoring diagnostics.
func (r *Redactor) TestPattern(name, sample string) ([]string, error) {
	for _, p := range r.patterns {
		if p.Name != name {
			continue
		}
		matches := p.re.FindAllString(sample, -1)
		if p.validate != nil {
			valid := matches[:0]
			for _, m := range matches {
				if p.validate(m) {
					valid = append(valid, m)
				}
			}
			matches = valid
		}
		return matches, nil
	}
	return nil, fmt.Errorf("redact: unknown pattern %q", name)
}

func overlapsAny(c span, occupied [][]int) bool {
	for _, o := range occupied {
		if c.start < o[1] && o[0] < c.end {
			return true
		}
	}
	return false
}
