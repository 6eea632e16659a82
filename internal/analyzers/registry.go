package analyzers

import (
	"fmt"
	"sort"
)

// Registry holds the analyzer set ordered by tier and memoizes the
// command to analyzer mapping. It has a single writer (the controller's
// sequential flow), so no locking.
type Registry struct {
	analyzers []Analyzer
	cache     map[string]Analyzer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[string]Analyzer)}
}

// DefaultRegistry returns a registry with every builtin analyzer
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewThreadsAnalyzer())
	r.Register(NewThreadPoolAnalyzer())
	r.Register(NewRunawayAnalyzer())
	r.Register(NewAnalyzeVAnalyzer())
	r.Register(NewDumpObjectAnalyzer())
	r.Register(NewStackObjectsAnalyzer())
	r.Register(NewHandleAnalyzer())
	r.Register(NewGCHandlesAnalyzer())
	r.Register(NewSyncBlockAnalyzer())
	r.Register(NewDumpHeapAnalyzer())
	r.Register(NewEEHeapAnalyzer())
	r.Register(NewFinalizeQueueAnalyzer())
	r.Register(NewCLRStackAnalyzer())
	r.Register(NewGCRootAnalyzer())
	return r
}

// Register adds an analyzer and re-sorts the set by tier ascending so
// cheaper analyzers are tried first. Registration order is preserved
// within a tier. The cache is dropped because the winner for a cached
// command may change.
func (r *Registry) Register(a Analyzer) {
	r.analyzers = append(r.analyzers, a)
	sort.SliceStable(r.analyzers, func(i, j int) bool {
		return r.analyzers[i].Tier() < r.analyzers[j].Tier()
	})
	r.cache = make(map[string]Analyzer)
}

// GetAnalyzer returns the lowest-tier analyzer whose CanAnalyze matches
// the command, or nil. Hits are memoized per exact command string until
// ClearCache.
func (r *Registry) GetAnalyzer(command string) Analyzer {
	if a, ok := r.cache[command]; ok {
		return a
	}
	for _, a := range r.analyzers {
		if a.CanAnalyze(command) {
			r.cache[command] = a
			return a
		}
	}
	return nil
}

// Analyze routes the command's output through the matching analyzer.
// A panic inside an analyzer is converted to a failed result; a command
// with no analyzer also yields a failed result so the caller can fall
// back to raw evidence.
func (r *Registry) Analyze(command, output string) (result *AnalysisResult) {
	a := r.GetAnalyzer(command)
	if a == nil {
		return &AnalysisResult{
			StructuredData: map[string]any{},
			Metadata:       map[string]any{},
			Success:        false,
			Err:            fmt.Sprintf("no analyzer registered for command %q", command),
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = failure(a.Name(), a.Tier(), "analyzer panicked: %v", rec)
		}
	}()
	return a.Analyze(command, output)
}

// List returns the registered analyzers in evaluation order.
func (r *Registry) List() []Analyzer {
	return append([]Analyzer(nil), r.analyzers...)
}

// ClearCache drops the command memoization.
func (r *Registry) ClearCache() {
	r.cache = make(map[string]Analyzer)
}
