package healer

import (
	"context"
	"errors"
	"testing"

	"github.com/dumpsleuth/dumpsleuth/internal/evidence"
	"github.com/dumpsleuth/dumpsleuth/internal/oracle"
)

type stubOracle struct {
	replies []string
	calls   int
	err     error
}

func (s *stubOracle) Complete(ctx context.Context, messages []oracle.Message, opts oracle.Options) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	reply := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return reply, nil
}

func fastPolicy() oracle.RetryPolicy {
	return oracle.RetryPolicy{MaxAttempts: 1, BaseDelay: 0, Multiplier: 1}
}

func TestHealWithOracle(t *testing.T) {
	h := New(Config{
		Oracle:      &stubOracle{replies: []string{"!dumpheap -type System.String"}},
		RetryPolicy: fastPolicy(),
	})
	got, err := h.Heal(context.Background(), "dumpheap -type System.String", "Unknown command 'dumpheap'", nil)
	if err != nil {
		t.Fatalf("Heal: %v", err)
	}
	if got != "!dumpheap -type System.String" {
		t.Errorf("healed = %q", got)
	}
	if s := h.Stats(); s.SuccessfulHeals != 1 || s.FailedHeals != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHealRejectsAddedStatFlag(t *testing.T) {
	// The oracle keeps proposing a -stat variant, which changes the
	// output type; all attempts are rejected and the error message
	// has no table entry either.
	h := New(Config{
		Oracle:      &stubOracle{replies: []string{"!dumpheap -type Foo -stat"}},
		MaxRetries:  3,
		RetryPolicy: fastPolicy(),
	})
	_, err := h.Heal(context.Background(), "!dumpheap -type Foo", "no objects found", nil)
	var exhausted *HealingExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want HealingExhausted", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", exhausted.Attempts)
	}
	if s := h.Stats(); s.FailedHeals != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHealRejectsDroppedShortFlag(t *testing.T) {
	h := New(Config{
		Oracle:      &stubOracle{replies: []string{"!dumpheap -type Foo"}},
		MaxRetries:  1,
		RetryPolicy: fastPolicy(),
	})
	_, err := h.Heal(context.Background(), "!dumpheap -type Foo -short", "error", nil)
	if err == nil {
		t.Fatal("repair dropping -short should be rejected")
	}
}

func TestHealSkipStopsRetrying(t *testing.T) {
	stub := &stubOracle{replies: []string{"SKIP"}}
	h := New(Config{Oracle: stub, MaxRetries: 3, RetryPolicy: fastPolicy()})
	_, err := h.Heal(context.Background(), "!pe 00007ff8a1b2c3d4", "not a valid exception object", nil)
	if err == nil {
		t.Fatal("SKIP should fail the heal")
	}
	if stub.calls != 1 {
		t.Errorf("oracle calls = %d, want 1 (no retry after SKIP)", stub.calls)
	}
}

func TestRewriteTableFallback(t *testing.T) {
	// Oracle unavailable; the static table still handles well-known
	// errors.
	h := New(Config{RetryPolicy: fastPolicy()})

	got, err := h.Heal(context.Background(), "threadpool", "Unknown command 'threadpool'", nil)
	if err != nil || got != "!threadpool" {
		t.Errorf("Unknown command rewrite = %q, %v", got, err)
	}

	got, err = h.Heal(context.Background(), "~999e !clrstack", "Illegal thread error in '~999e'", nil)
	if err != nil || got != "!clrstack" {
		t.Errorf("Illegal thread rewrite = %q, %v", got, err)
	}

	got, err = h.Heal(context.Background(), "!dumpheap-stat", "^ Syntax error in '!dumpheap-stat'", nil)
	if err != nil || got != "!dumpheap -stat" {
		t.Errorf("spacing rewrite = %q, %v", got, err)
	}
}

func TestPlaceholderResolvedFromEvidence(t *testing.T) {
	h := New(Config{RetryPolicy: fastPolicy()})
	recent := []evidence.Evidence{
		{Command: "!dumpheap -type MyApp.Cache -short", Content: "000001f2a3b4c5d6\n000001f2a3b4c7e8"},
	}
	got, err := h.Heal(context.Background(), "!gcroot <address_of_sample_object>", "", recent)
	if err != nil {
		t.Fatalf("Heal: %v", err)
	}
	if got != "!gcroot 0x000001f2a3b4c5d6" {
		t.Errorf("resolved = %q", got)
	}
}

func TestPlaceholderUnresolvableFails(t *testing.T) {
	h := New(Config{
		Oracle:      &stubOracle{replies: []string{"!threads"}},
		RetryPolicy: fastPolicy(),
	})
	_, err := h.Heal(context.Background(), "~~[ThreadId]e !clrstack", "Syntax error", nil)
	if err == nil {
		t.Fatal("malformed thread placeholder with no evidence should fail")
	}
	if s := h.Stats(); s.FailedHeals != 1 || s.SuccessfulHeals != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestStatsAccounting(t *testing.T) {
	h := New(Config{RetryPolicy: fastPolicy()})
	if got := h.Stats().SuccessRate(); got != 0 {
		t.Errorf("initial SuccessRate = %v, want 0", got)
	}

	h.Heal(context.Background(), "threadpool", "Unknown command", nil) // heals via table
	h.Heal(context.Background(), "!bogus", "something inscrutable", nil)
	h.Heal(context.Background(), "!gcroot <addr>", "", nil)

	s := h.Stats()
	if s.Calls() != 3 {
		t.Fatalf("Calls = %d, want 3", s.Calls())
	}
	if s.SuccessfulHeals+s.FailedHeals != s.Calls() {
		t.Error("counters do not sum to call count")
	}
	rate := s.SuccessRate()
	if rate < 0 || rate > 1 {
		t.Errorf("SuccessRate = %v, out of range", rate)
	}
	if s.SuccessfulHeals != 1 || s.FailedHeals != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHealingLog(t *testing.T) {
	h := New(Config{RetryPolicy: fastPolicy()})
	h.Heal(context.Background(), "threadpool", "Unknown command 'threadpool'", nil)
	log := h.Log()
	if len(log) != 1 {
		t.Fatalf("log length = %d", len(log))
	}
	if log[0].Original != "threadpool" || log[0].Healed != "!threadpool" {
		t.Errorf("log entry = %+v", log[0])
	}
}
