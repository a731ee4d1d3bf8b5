package policy

import (
	"fmt"
	"testing"
	"time"

	"github.com/joyshmitz/sbh/model"
)

func deleteCandidate(path string, score float64) model.ScoredCandidate {
	return model.ScoredCandidate{
		CandidateInput: model.CandidateInput{Path: path, SizeBytes: 1024, Age: time.Hour},
		TotalScore:     score,
		Decision:       model.Decision{Action: model.ActionDelete, Rationale: "test"},
	}
}

func passDiag() model.GuardDiagnostics  { return model.GuardDiagnostics{Status: model.GuardPass} }
func failDiag() model.GuardDiagnostics  { return model.GuardDiagnostics{Status: model.GuardFail} }

func TestObserveModeApprovesNothingButCountsHypothetical(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Unix(0, 0)
	scored := []model.ScoredCandidate{deleteCandidate("/a", 0.9), deleteCandidate("/b", 0.8)}
	decision := e.Evaluate(scored, passDiag(), now)
	if len(decision.ApprovedForDeletion) != 0 {
		t.Fatalf("expected no approvals in Observe mode, got %d", len(decision.ApprovedForDeletion))
	}
	if decision.HypotheticalDeletes != 2 {
		t.Fatalf("expected 2 hypothetical deletes, got %d", decision.HypotheticalDeletes)
	}
	if len(decision.Records) != 2 {
		t.Fatalf("expected a DecisionRecord per candidate regardless of mode, got %d", len(decision.Records))
	}
}

func TestPromoteRefusedOnGuardFail(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Unix(0, 0)
	if e.Promote(model.GuardFail, now) {
		t.Fatal("expected promote to refuse when guard status is Fail")
	}
	if e.Mode() != model.ModeObserve {
		t.Fatalf("expected mode to remain Observe, got %v", e.Mode())
	}
}

func TestPromoteAdvancesOneStepAtATime(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Unix(0, 0)
	if !e.Promote(model.GuardPass, now) {
		t.Fatal("expected promote Observe->Canary to succeed")
	}
	if e.Mode() != model.ModeCanary {
		t.Fatalf("expected Canary, got %v", e.Mode())
	}
	if !e.Promote(model.GuardPass, now) {
		t.Fatal("expected promote Canary->Enforce to succeed")
	}
	if e.Mode() != model.ModeEnforce {
		t.Fatalf("expected Enforce, got %v", e.Mode())
	}
}

// S2: canary budget.
func TestCanaryBudgetCapsApprovalsAndTripsFallbackOnExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialMode = model.ModeCanary
	cfg.MaxCanaryDeletesPerHour = 3
	e := New(cfg)
	now := time.Unix(0, 0)

	var candidates []model.ScoredCandidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, deleteCandidate("/c"+string(rune('a'+i)), float64(10-i)/10))
	}

	decision := e.Evaluate(candidates, passDiag(), now)
	if len(decision.ApprovedForDeletion) > 3 {
		t.Fatalf("expected at most 3 approvals in first batch, got %d", len(decision.ApprovedForDeletion))
	}
	if !decision.BudgetExhausted {
		t.Fatal("expected budget_exhausted once the 10-candidate batch exceeds the budget of 3")
	}
	if e.Mode() != model.ModeFallbackSafe {
		t.Fatalf("expected mode to drop to FallbackSafe on budget exhaustion, got %v", e.Mode())
	}
}

// S3: calibration drift.
func TestCalibrationBreachWindowsTripFallbackDuringEnforce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialMode = model.ModeEnforce
	cfg.CalibrationBreachWindows = 2
	e := New(cfg)
	now := time.Unix(0, 0)

	e.ObserveWindow(failDiag(), now)
	if e.Mode() != model.ModeEnforce {
		t.Fatalf("expected mode to stay Enforce after a single breach window, got %v", e.Mode())
	}
	e.ObserveWindow(failDiag(), now)
	if e.Mode() != model.ModeFallbackSafe {
		t.Fatalf("expected FallbackSafe after %d consecutive breach windows, got %v", cfg.CalibrationBreachWindows, e.Mode())
	}

	log := e.TransitionLog()
	last := log[len(log)-1]
	if last.FromMode != "Enforce" || last.Transition != "fallback" || last.Reason != string(model.ReasonCalibrationBreach) {
		t.Fatalf("expected fallback transition from Enforce with CalibrationBreach reason, got %+v", last)
	}
}

// S4: recovery.
func TestRecoveryReturnsToPreFallbackModeAfterCleanWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialMode = model.ModeEnforce
	cfg.RecoveryCleanWindows = 3
	e := New(cfg)
	now := time.Unix(0, 0)

	e.EnterFallback(model.ReasonCalibrationBreach, now)
	if e.Mode() != model.ModeFallbackSafe {
		t.Fatalf("expected FallbackSafe, got %v", e.Mode())
	}

	e.ObserveWindow(passDiag(), now)
	e.ObserveWindow(passDiag(), now)
	if e.Mode() != model.ModeFallbackSafe {
		t.Fatalf("expected to remain FallbackSafe before %d clean windows accumulate, got %v", cfg.RecoveryCleanWindows, e.Mode())
	}
	e.ObserveWindow(passDiag(), now)
	if e.Mode() != model.ModeEnforce {
		t.Fatalf("expected recovery to pre-fallback mode Enforce, got %v", e.Mode())
	}

	log := e.TransitionLog()
	last := log[len(log)-1]
	if last.Transition != "recover" || last.ToMode != "Enforce" {
		t.Fatalf("expected a recover transition entry to Enforce, got %+v", last)
	}
}

func TestFallbackSafeApprovesNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialMode = model.ModeFallbackSafe
	e := New(cfg)
	now := time.Unix(0, 0)
	decision := e.Evaluate([]model.ScoredCandidate{deleteCandidate("/a", 0.99)}, passDiag(), now)
	if len(decision.ApprovedForDeletion) != 0 {
		t.Fatal("expected FallbackSafe to approve nothing")
	}
}

func TestDecisionIDsAreStrictlyMonotonic(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Unix(0, 0)
	decision := e.Evaluate([]model.ScoredCandidate{deleteCandidate("/a", 0.9), deleteCandidate("/b", 0.1)}, passDiag(), now)
	if len(decision.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(decision.Records))
	}
	if decision.Records[1].DecisionID <= decision.Records[0].DecisionID {
		t.Fatalf("expected strictly increasing decision IDs, got %d then %d", decision.Records[0].DecisionID, decision.Records[1].DecisionID)
	}
}

func TestTraceIDIsDeterministicForIdenticalInputs(t *testing.T) {
	now := time.Unix(1000, 0)
	id1 := traceID(7, model.PolicyCanary, now, "/a/b")
	id2 := traceID(7, model.PolicyCanary, now, "/a/b")
	if id1 != id2 {
		t.Fatalf("expected identical trace IDs for identical inputs, got %q and %q", id1, id2)
	}
	id3 := traceID(8, model.PolicyCanary, now, "/a/b")
	if id1 == id3 {
		t.Fatal("expected different decision IDs to produce different trace IDs")
	}
}

func TestEveryCandidateGetsADecisionRecordRegardlessOfMode(t *testing.T) {
	for _, mode := range []model.ActiveMode{model.ModeObserve, model.ModeCanary, model.ModeEnforce, model.ModeFallbackSafe} {
		cfg := DefaultConfig()
		cfg.InitialMode = mode
		e := New(cfg)
		now := time.Unix(0, 0)
		decision := e.Evaluate([]model.ScoredCandidate{deleteCandidate("/a", 0.9)}, passDiag(), now)
		if len(decision.Records) != 1 {
			t.Fatalf("mode %v: expected 1 decision record, got %d", mode, len(decision.Records))
		}
	}
}

// TestObserveModeBurstApprovesNothingWithUniqueTraceIDs is the burst
// scenario: a batch of candidates under Observe mode should approve
// none of them, log one record per candidate, and give every record a
// unique trace_id and a strictly monotonic decision_id even though
// they're all part of the same Evaluate call.
func TestObserveModeBurstApprovesNothingWithUniqueTraceIDs(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Unix(0, 0)

	const burst = 20
	scored := make([]model.ScoredCandidate, burst)
	for i := range scored {
		scored[i] = deleteCandidate(fmt.Sprintf("/burst/%d", i), 0.9)
	}

	decision := e.Evaluate(scored, passDiag(), now)
	if len(decision.ApprovedForDeletion) != 0 {
		t.Fatalf("expected no approvals in Observe mode, got %d", len(decision.ApprovedForDeletion))
	}
	if len(decision.Records) != burst {
		t.Fatalf("expected %d decision records, got %d", burst, len(decision.Records))
	}

	seen := make(map[string]bool, burst)
	for i, rec := range decision.Records {
		if rec.PolicyMode != model.PolicyShadow.String() {
			t.Fatalf("record %d: expected policy_mode %q, got %q", i, model.PolicyShadow.String(), rec.PolicyMode)
		}
		if seen[rec.TraceID] {
			t.Fatalf("record %d: duplicate trace_id %q", i, rec.TraceID)
		}
		seen[rec.TraceID] = true
		if i > 0 && rec.DecisionID <= decision.Records[i-1].DecisionID {
			t.Fatalf("record %d: expected strictly increasing decision_id, got %d after %d", i, rec.DecisionID, decision.Records[i-1].DecisionID)
		}
	}
}
