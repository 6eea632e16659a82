// Package engine drives the investigation: an explicit state machine
// over Plan, Hypothesize, Test, Investigate, Reason, Critique, Report.
// The Controller is the sole mutator of the state record.
package engine

// Phase names the controller states.
type Phase string

const (
	PhasePlan        Phase = "plan"
	PhaseHypothesize Phase = "hypothesize"
	PhaseTest        Phase = "test"
	PhaseInvestigate Phase = "investigate"
	PhaseReason      Phase = "reason"
	PhaseCritique    Phase = "critique"
	PhaseReport      Phase = "report"
	PhaseDone        Phase = "done"
)

// Hypothesis test outcomes.
const (
	ResultConfirmed    = "confirmed"
	ResultRejected     = "rejected"
	ResultInconclusive = "inconclusive"
)

// Hypothesis is the oracle's JSON contract for a proposed explanation.
type Hypothesis struct {
	Statement           string   `json:"hypothesis"`
	Confidence          string   `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	TestCommands        []string `json:"test_commands"`
	ExpectedIfConfirmed string   `json:"expected_if_confirmed"`
	ExpectedIfRejected  string   `json:"expected_if_rejected"`
	Alternatives        []string `json:"alternative_hypotheses"`
}

// HypothesisTest records one tested hypothesis and its outcome.
type HypothesisTest struct {
	Hypothesis        string
	Result            string
	Reasoning         string
	InconclusiveCount int
	EvidenceIDs       []string
}

// PlanBlock is the ordered task list under investigation.
type PlanBlock struct {
	Tasks          []string
	Reasoning      string
	TaskIndex      int
	CompletedTasks []string
	CommandsInTask int
}

// ReasonBlock is the synthesis produced by the reasoning step.
type ReasonBlock struct {
	Analysis              string
	Conclusions           []string
	Confidence            string
	NeedsDeeper           bool
	InvestigationRequests []string
	DeeperRounds          int
	Done                  bool
}

// CritiqueBlock is the skeptical-review result.
type CritiqueBlock struct {
	Round               int
	CriticalIssues      []string
	EvidenceGaps        []string
	HasUnresolvedIssues bool
}

// AnalysisState is the single mutable record of a run. Optional blocks
// are nil until their phase has produced them.
type AnalysisState struct {
	DumpPath string
	Issue    string
	DumpType string

	Phase         Phase
	Iteration     int
	MaxIterations int

	Hypothesis         *Hypothesis
	Tests              []HypothesisTest
	HypothesisAttempts int
	HypothesisStatus   string

	Plan     *PlanBlock
	Reason   *ReasonBlock
	Critique *CritiqueBlock

	CommandsExecuted []string
	EvidenceIDs      []string

	TerminationReason string
	FinalReport       string
}

// currentTest returns the in-flight hypothesis test, or nil.
func (s *AnalysisState) currentTest() *HypothesisTest {
	if len(s.Tests) == 0 {
		return nil
	}
	return &s.Tests[len(s.Tests)-1]
}
