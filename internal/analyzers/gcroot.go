package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	gcrootThreadRe = regexp.MustCompile(`Thread\s+([0-9a-fA-F]+):`)
	gcrootObjRe    = regexp.MustCompile(`^\s+->?\s+([0-9a-fA-F]+)\s+(.+)`)
	gcrootCountRe  = regexp.MustCompile(`(?i)Found\s+(\d+)\s+unique\s+roots?`)
)

// ReferenceChain is one rooted path keeping the target object alive.
type ReferenceChain struct {
	ThreadID string
	Objects  []ChainObject
}

// ChainObject is one hop in a reference chain.
type ChainObject struct {
	Address string
	Type    string
}

// LeakPattern classifies why an object is being retained.
type LeakPattern struct {
	Pattern    string
	Severity   string
	Reasoning  string
	Suggestion string
}

// GCRootAnalyzer parses !gcroot output and classifies the retention
// pattern from the types along the reference chains.
type GCRootAnalyzer struct{}

func NewGCRootAnalyzer() *GCRootAnalyzer { return &GCRootAnalyzer{} }

func (a *GCRootAnalyzer) Name() string        { return "gcroot" }
func (a *GCRootAnalyzer) Description() string { return "object retention paths from !gcroot" }
func (a *GCRootAnalyzer) Tier() int           { return 3 }

func (a *GCRootAnalyzer) CanAnalyze(command string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(command)), "!gcroot")
}

func (a *GCRootAnalyzer) Analyze(command, output string) *AnalysisResult {
	target := "unknown"
	if parts := strings.Fields(command); len(parts) >= 2 {
		target = parts[1]
	}

	chains := parseReferenceChains(output)
	rootCount := len(chains)
	if m := gcrootCountRe.FindStringSubmatch(output); m != nil {
		rootCount = atoiMust(m[1])
	}

	var leak *LeakPattern
	if len(chains) > 0 {
		leak = classifyLeakPattern(chains)
	}

	var summary string
	if rootCount == 0 {
		summary = fmt.Sprintf("Object %s has no GC roots and may be eligible for collection.", target)
	} else {
		summary = fmt.Sprintf("Object %s is kept alive by %d unique root(s).", target, rootCount)
		if leak != nil {
			summary += fmt.Sprintf(" Likely pattern: %s.", leak.Pattern)
		}
	}

	var findings []string
	if rootCount == 0 {
		findings = append(findings, "No GC roots found - object may be eligible for collection")
	} else {
		findings = append(findings, fmt.Sprintf("%d unique root(s) keeping object alive", rootCount))
	}
	if leak != nil {
		findings = append(findings,
			fmt.Sprintf("Leak pattern: %s (severity %s)", leak.Pattern, leak.Severity),
			fmt.Sprintf("Cause: %s", leak.Reasoning),
			fmt.Sprintf("Fix: %s", leak.Suggestion))
	}
	if threads := rootingThreads(chains); len(threads) > 0 {
		findings = append(findings, fmt.Sprintf("Object referenced by %d thread(s): %s",
			len(threads), strings.Join(threads, ", ")))
	}

	md := meta(a.Name(), a.Tier())
	md["root_count"] = rootCount

	return &AnalysisResult{
		StructuredData: map[string]any{
			"target":     target,
			"chains":     chains,
			"root_count": rootCount,
			"leak":       leak,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func parseReferenceChains(output string) []ReferenceChain {
	var chains []ReferenceChain
	var current *ReferenceChain
	for _, line := range splitLines(output) {
		if m := gcrootThreadRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				chains = append(chains, *current)
			}
			current = &ReferenceChain{ThreadID: m[1]}
			continue
		}
		if current == nil {
			continue
		}
		if m := gcrootObjRe.FindStringSubmatch(line); m != nil {
			current.Objects = append(current.Objects, ChainObject{
				Address: m[1],
				Type:    strings.TrimSpace(m[2]),
			})
		}
	}
	if current != nil {
		chains = append(chains, *current)
	}
	return chains
}

// classifyLeakPattern applies the retention heuristics over the chain
// object types.
func classifyLeakPattern(chains []ReferenceChain) *LeakPattern {
	var all []string
	for _, c := range chains {
		for _, o := range c.Objects {
			all = append(all, o.Type)
		}
	}
	types := strings.ToLower(strings.Join(all, " "))

	switch {
	case strings.Contains(types, "dbcontext") || strings.Contains(types, "objectcontext"):
		return &LeakPattern{"ENTITY_FRAMEWORK", "HIGH",
			"DbContext/ObjectContext detected in reference chain",
			"Wrap DbContext usage in using() or call Dispose() explicitly"}
	case strings.Contains(types, "timer"):
		return &LeakPattern{"TIMER", "MEDIUM",
			"Timer object in reference chain",
			"Call Timer.Dispose() when no longer needed"}
	case strings.Contains(types, "eventhandler") || strings.Contains(types, "delegate"):
		return &LeakPattern{"EVENT_HANDLER", "MEDIUM",
			"Event handler or delegate detected",
			"Unsubscribe event handlers before object disposal"}
	case strings.Contains(types, "task") || strings.Contains(types, "statemachine"):
		return &LeakPattern{"ASYNC_STATE", "MEDIUM",
			"Async Task or state machine in chain",
			"Ensure async operations complete or are cancelled"}
	default:
		return &LeakPattern{"OTHER", "LOW",
			"No dominant retention type in chains",
			"Inspect the deepest chain manually with !do on each hop"}
	}
}

func rootingThreads(chains []ReferenceChain) []string {
	seen := map[string]bool{}
	var threads []string
	for _, c := range chains {
		if c.ThreadID != "" && !seen[c.ThreadID] {
			seen[c.ThreadID] = true
			threads = append(threads, c.ThreadID)
		}
	}
	return threads
}
