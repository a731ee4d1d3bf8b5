// Package policy implements the three-stage policy state machine
// (Observe/Canary/Enforce, with a FallbackSafe escape hatch) that turns
// scored candidates into an approved deletion batch plus a universal
// decision-record audit trail. Grounded on the teacher's
// engine/eventlog.go EventDetector debounce-streak pattern, generalized
// from a single health-event detector into a full state machine with
// budgets.
package policy

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// Config tunes budgets and breach/recovery window counts.
type Config struct {
	InitialMode               model.ActiveMode
	MaxCanaryDeletesPerHour   int
	MaxEnforceDeletesPerHour  int
	CalibrationBreachWindows  int
	RecoveryCleanWindows      int
	// DegradedApprovalFraction scales the per-hour Canary/Enforce
	// deletion budget while the guard status is Unknown or Fail.
	DegradedApprovalFraction float64
}

// DefaultConfig mirrors the budgets named in spec.md's Canary/Enforce
// scenario walkthroughs.
func DefaultConfig() Config {
	return Config{
		InitialMode:              model.ModeObserve,
		MaxCanaryDeletesPerHour:  3,
		MaxEnforceDeletesPerHour: 50,
		CalibrationBreachWindows: 2,
		RecoveryCleanWindows:     3,
		DegradedApprovalFraction: 0.5,
	}
}

// hourlyBudget tracks a rolling-hour counter, reset lazily when the
// current hour bucket rolls over.
type hourlyBudget struct {
	bucketStart time.Time
	used        int
}

func (b *hourlyBudget) remaining(limit int, now time.Time) int {
	if b.bucketStart.IsZero() || now.Sub(b.bucketStart) >= time.Hour {
		b.bucketStart = now
		b.used = 0
	}
	left := limit - b.used
	if left < 0 {
		return 0
	}
	return left
}

func (b *hourlyBudget) consume(n int) {
	b.used += n
}

// Engine is the policy state machine. Not safe for zero-value use;
// construct with New.
type Engine struct {
	cfg Config

	mu           sync.Mutex
	mode         model.ActiveMode
	preFallback  model.ActiveMode
	breachCount  int
	cleanCount   int
	decisionSeq  uint64
	canaryBudget hourlyBudget
	enforceBudget hourlyBudget
	transitions  []model.TransitionLogEntry
}

// New creates an Engine starting in cfg.InitialMode.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, mode: cfg.InitialMode, preFallback: model.ModeObserve}
}

// Mode returns the current ActiveMode.
func (e *Engine) Mode() model.ActiveMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// TransitionLog returns a copy of the append-only transition log.
func (e *Engine) TransitionLog() []model.TransitionLogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.TransitionLogEntry, len(e.transitions))
	copy(out, e.transitions)
	return out
}

// Promote advances one step (Observe->Canary->Enforce) if guardStatus is
// not Fail. Returns false and leaves the mode unchanged otherwise.
func (e *Engine) Promote(guardStatus model.GuardStatus, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if guardStatus == model.GuardFail {
		return false
	}
	var next model.ActiveMode
	switch e.mode {
	case model.ModeObserve:
		next = model.ModeCanary
	case model.ModeCanary:
		next = model.ModeEnforce
	default:
		return false
	}
	e.recordTransitionLocked(e.mode, next, model.TransitionPromote, "", now)
	e.mode = next
	return true
}

// EnterFallback moves to FallbackSafe from any state, recording the
// mode it left so Recover can return to it later.
func (e *Engine) EnterFallback(reason model.FallbackReason, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enterFallbackLocked(reason, now)
}

func (e *Engine) enterFallbackLocked(reason model.FallbackReason, now time.Time) {
	if e.mode == model.ModeFallbackSafe {
		return
	}
	e.preFallback = e.mode
	e.recordTransitionLocked(e.mode, model.ModeFallbackSafe, model.TransitionFallback, string(reason), now)
	e.mode = model.ModeFallbackSafe
	e.breachCount = 0
	e.cleanCount = 0
}

// ObserveWindow is called once per policy tick with the current guard
// diagnostics. It drives the breach counter toward fallback and, while
// in FallbackSafe, the clean counter toward recovery.
func (e *Engine) ObserveWindow(guard model.GuardDiagnostics, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == model.ModeFallbackSafe {
		if guard.Status == model.GuardPass {
			e.cleanCount++
			if e.cleanCount >= e.cfg.RecoveryCleanWindows {
				target := e.preFallback
				e.recordTransitionLocked(e.mode, target, model.TransitionRecover, "", now)
				e.mode = target
				e.cleanCount = 0
				e.breachCount = 0
			}
		} else {
			e.cleanCount = 0
		}
		return
	}

	if guard.Status == model.GuardFail {
		e.breachCount++
		if e.breachCount >= e.cfg.CalibrationBreachWindows {
			e.enterFallbackLocked(model.ReasonCalibrationBreach, now)
		}
	} else {
		e.breachCount = 0
	}
}

func (e *Engine) recordTransitionLocked(from, to model.ActiveMode, kind model.TransitionKind, reason string, now time.Time) {
	e.transitions = append(e.transitions, model.TransitionLogEntry{
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		FromMode:   from.String(),
		ToMode:     to.String(),
		Transition: kind.String(),
		Reason:     reason,
	})
}

// Evaluate scores a batch of candidates into a PolicyDecision: a
// universal DecisionRecord per candidate, and an approved-for-deletion
// subset gated by the current mode and its budget.
func (e *Engine) Evaluate(scored []model.ScoredCandidate, guard model.GuardDiagnostics, now time.Time) model.PolicyDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	mode := e.mode
	policyMode := mode.ToPolicyMode()

	decision := model.PolicyDecision{}

	ordered := make([]model.ScoredCandidate, len(scored))
	copy(ordered, scored)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TotalScore > ordered[j].TotalScore })

	degraded := guard.Status == model.GuardUnknown || guard.Status == model.GuardFail

	var budgetLimit int
	var budget *hourlyBudget
	switch mode {
	case model.ModeCanary:
		budgetLimit = e.cfg.MaxCanaryDeletesPerHour
		budget = &e.canaryBudget
	case model.ModeEnforce:
		budgetLimit = e.cfg.MaxEnforceDeletesPerHour
		budget = &e.enforceBudget
	}
	if degraded && budgetLimit > 0 {
		budgetLimit = int(float64(budgetLimit) * e.cfg.DegradedApprovalFraction)
	}

	for _, sc := range ordered {
		wantsDelete := sc.Decision.Action == model.ActionDelete
		vetoed := false
		var vetoReason string
		effectiveAction := sc.Decision.Action.String()

		switch mode {
		case model.ModeObserve:
			if wantsDelete {
				decision.HypotheticalDeletes++
				vetoed = true
				vetoReason = "observe mode: hypothetical only"
				effectiveAction = model.ActionKeep.String()
			} else {
				decision.HypotheticalKeeps++
			}
		case model.ModeCanary, model.ModeEnforce:
			if !wantsDelete {
				decision.HypotheticalKeeps++
				break
			}
			remaining := budget.remaining(budgetLimit, now)
			if remaining <= 0 {
				vetoed = true
				vetoReason = "per-hour deletion budget exhausted"
				effectiveAction = model.ActionKeep.String()
				if mode == model.ModeCanary {
					decision.BudgetExhausted = true
					e.enterFallbackLocked(model.ReasonBudgetExhausted, now)
					mode = e.mode
				}
			} else {
				budget.consume(1)
				decision.ApprovedForDeletion = append(decision.ApprovedForDeletion, sc)
			}
		case model.ModeFallbackSafe:
			decision.HypotheticalDeletes++
			vetoed = true
			vetoReason = "policy in FallbackSafe"
			effectiveAction = model.ActionKeep.String()
		}

		e.decisionSeq++
		id := e.decisionSeq
		rec := model.DecisionRecord{
			DecisionID:      id,
			TraceID:         traceID(id, policyMode, now, sc.Path),
			Timestamp:       now,
			Path:            sc.Path,
			SizeBytes:       sc.SizeBytes,
			AgeSecs:         int64(sc.Age.Seconds()),
			PolicyMode:      policyMode.String(),
			Action:          sc.Decision.Action.String(),
			EffectiveAction: effectiveAction,
			TotalScore:      sc.TotalScore,
			Factors:         sc.Factors,
			Vetoed:          vetoed,
			VetoReason:      vetoReason,
			GuardStatus:     guard.Status.String(),
		}
		decision.Records = append(decision.Records, rec)
	}

	return decision
}

// traceID derives a stable identifier from (decision_id, policy_mode,
// timestamp, path) so that replaying identical inputs reproduces
// identical traces (spec.md §4.J).
func traceID(decisionID uint64, mode model.PolicyMode, now time.Time, path string) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d|%s|%d|%s", decisionID, mode.String(), now.UnixNano(), path)
	return fmt.Sprintf("sbh-%08x", h.Sum32())
}
