// Package guardrail implements the calibration guardrail: a sequential
// statistical test over a window of rate/TTE predictions that gates how
// much the policy engine is allowed to trust them. Grounded on the
// teacher's windowed-observation style in engine/watchdog.go
// (cooldown + streak counters gating an escalation).
package guardrail

import (
	"sort"
	"sync"

	"github.com/joyshmitz/sbh/model"
)

// Config tunes window size, pass/fail thresholds, and recovery.
type Config struct {
	WindowSize            int
	MinObservations       int
	ErrMax                float64 // max acceptable median_rate_error
	ConservativeFractionMin float64
	EProcessThreshold     float64 // e_process_alarm fires once the product exceeds this
	RecoveryCleanWindows  int
}

// DefaultConfig mirrors typical sequential-test defaults: a 20-sample
// window, an e-process alarm at the conventional 1/alpha = 20 threshold.
func DefaultConfig() Config {
	return Config{
		WindowSize:              20,
		MinObservations:         5,
		ErrMax:                  0.5,
		ConservativeFractionMin: 0.6,
		EProcessThreshold:       20,
		RecoveryCleanWindows:    3,
	}
}

// Guardrail tracks a rolling window of calibration observations and
// derives GuardDiagnostics.
type Guardrail struct {
	cfg Config

	mu               sync.Mutex
	window           []model.CalibrationObservation
	eProcess         float64
	consecutiveClean int
	latchedFail      bool // true from the moment Fail fires until recovery clears it
	recoveryBuf      []model.CalibrationObservation
}

// New creates a Guardrail with cfg.
func New(cfg Config) *Guardrail {
	return &Guardrail{cfg: cfg, eProcess: 1.0}
}

// Observe records one calibration observation and returns the updated
// diagnostics.
func (g *Guardrail) Observe(obs model.CalibrationObservation) model.GuardDiagnostics {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.window = append(g.window, obs)
	if len(g.window) > g.cfg.WindowSize {
		g.window = g.window[len(g.window)-g.cfg.WindowSize:]
	}

	eValue := eValueFor(obs)
	g.eProcess *= eValue
	// Clamp to prevent unbounded float growth across a long-running
	// process once the alarm has long since fired.
	if g.eProcess > 1e12 {
		g.eProcess = 1e12
	}

	// While latched into Fail, recovery tracks each observation's own
	// rate error rather than the window aggregate: the aggregate (and
	// the e-process, which by design never un-alarms on its own) stays
	// contaminated by the run of bad observations that caused the Fail
	// in the first place, so recovery must be judged sample-by-sample.
	if g.latchedFail {
		if rateErrorFor(obs) <= g.cfg.ErrMax {
			g.consecutiveClean++
			g.recoveryBuf = append(g.recoveryBuf, obs)
		} else {
			g.consecutiveClean = 0
			g.recoveryBuf = g.recoveryBuf[:0]
		}
		if g.consecutiveClean >= g.cfg.RecoveryCleanWindows {
			// Enough clean windows: restart the sequential test and seed
			// the window from the clean run that earned the recovery.
			g.latchedFail = false
			g.eProcess = 1.0
			g.window = append([]model.CalibrationObservation(nil), g.recoveryBuf...)
			g.recoveryBuf = nil
			g.consecutiveClean = 0
		}
	}

	diag := g.diagnosticsLocked()
	if !g.latchedFail && diag.Status == model.GuardFail {
		g.latchedFail = true
		g.consecutiveClean = 0
		g.recoveryBuf = nil
	}
	if g.latchedFail {
		diag.Status = model.GuardFail
	}
	diag.ConsecutiveClean = g.consecutiveClean
	return diag
}

// eValueFor maps one observation to a per-observation evidence value:
// <=1 when the prediction tracked reality, >1 when it diverged. A
// multiplicative e-process of these values is an always-valid
// sequential test statistic (spec.md §4.I, GLOSSARY "E-process").
func eValueFor(obs model.CalibrationObservation) float64 {
	// A well-calibrated observation has rateErr near 0: e-value near 1.
	// A badly miscalibrated one pushes the e-value above 1, and repeated
	// miscalibration compounds via the product.
	return 1 + rateErrorFor(obs)
}

func rateErrorFor(obs model.CalibrationObservation) float64 {
	denom := obs.PredictedRate
	if denom == 0 {
		denom = 1e-9
	}
	return absf(obs.ActualRate-obs.PredictedRate) / absf(denom)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (g *Guardrail) diagnosticsLocked() model.GuardDiagnostics {
	n := len(g.window)
	diag := model.GuardDiagnostics{
		ObservationCount:  n,
		EProcessValue:     g.eProcess,
		EProcessAlarm:     g.eProcess > g.cfg.EProcessThreshold,
		MedianRateError:   medianRateError(g.window),
		ConservativeFraction: conservativeFraction(g.window),
	}

	switch {
	case n < g.cfg.MinObservations:
		diag.Status = model.GuardUnknown
	case diag.EProcessAlarm || diag.MedianRateError > g.cfg.ErrMax || diag.ConservativeFraction < g.cfg.ConservativeFractionMin:
		diag.Status = model.GuardFail
	default:
		diag.Status = model.GuardPass
	}
	return diag
}

func medianRateError(window []model.CalibrationObservation) float64 {
	if len(window) == 0 {
		return 0
	}
	errs := make([]float64, len(window))
	for i, o := range window {
		errs[i] = rateErrorFor(o)
	}
	sort.Float64s(errs)
	mid := len(errs) / 2
	if len(errs)%2 == 1 {
		return errs[mid]
	}
	return (errs[mid-1] + errs[mid]) / 2
}

// conservativeFraction is the fraction of observations where
// predicted_tte <= actual_tte: the prediction never promised more time
// than the mount actually had, so acting on it was never late. This is
// the convention this implementation adopts for the spec's documented
// open question on the direction of "conservative."
func conservativeFraction(window []model.CalibrationObservation) float64 {
	if len(window) == 0 {
		return 1
	}
	conservative := 0
	for _, o := range window {
		if o.PredictedTTE <= o.ActualTTE {
			conservative++
		}
	}
	return float64(conservative) / float64(len(window))
}

// Diagnostics returns the current diagnostics without recording a new
// observation.
func (g *Guardrail) Diagnostics() model.GuardDiagnostics {
	g.mu.Lock()
	defer g.mu.Unlock()
	diag := g.diagnosticsLocked()
	if g.latchedFail && diag.Status == model.GuardPass {
		diag.Status = model.GuardFail
	}
	diag.ConsecutiveClean = g.consecutiveClean
	return diag
}

// Reset clears all window and e-process state, used in tests and after
// a policy-level recovery that should restart calibration tracking.
func (g *Guardrail) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = nil
	g.eProcess = 1.0
	g.consecutiveClean = 0
	g.latchedFail = false
	g.recoveryBuf = nil
}
