package redact

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PatternConfig holds operator-supplied patterns merged after the
// builtin table at startup.
type PatternConfig struct {
	Patterns []PatternDef `yaml:"patterns"`
}

// PatternDef defines a custom pattern from config.
type PatternDef struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
}

// LoadConfig loads redaction patterns from the given path. If path is
// empty, tries the DUMPSLEUTH_REDACT_PATTERNS env var, then
// ~/.dumpsleuth/patterns.yaml. Returns nil config (not error) if no
// file exists.
func LoadConfig(path string) (*PatternConfig, error) {
	if path == "" {
		path = os.Getenv("DUMPSLEUTH_REDACT_PATTERNS")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil
		}
		path = filepath.Join(home, ".dumpsleuth", "patterns.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read redact config: %w", err)
	}

	var cfg PatternConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse redact config: %w", err)
	}

	return &cfg, nil
}

// MergePatterns appends config patterns after the builtin table.
// Entries with missing fields get defaults; invalid severities fall
// back to warning.
func MergePatterns(builtin []Pattern, cfg *PatternConfig) []Pattern {
	if cfg == nil {
		return builtin
	}
	out := append([]Pattern(nil), builtin...)
	for _, def := range cfg.Patterns {
		if def.Name == "" || def.Pattern == "" {
			fmt.Fprintf(os.Stderr, "redact: skipping config pattern with missing name or pattern\n")
			continue
		}
		sev := Severity(def.Severity)
		switch sev {
		case SeverityCritical, SeverityWarning, SeverityInfo:
		default:
			sev = SeverityWarning
		}
		out = append(out, Pattern{
			Name:        def.Name,
			Pattern:     def.Pattern,
			Description: def.Description,
			Severity:    sev,
		})
	}
	return out
}
