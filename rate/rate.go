// Package rate estimates the fill rate of each mount from a bounded
// history of free-byte samples, using an EWMA of the instantaneous rate
// and a second EWMA of its rate-of-change to detect acceleration.
// Grounded on the teacher's engine/diskguard.go MountGrowthTracker.
package rate

import (
	"math"
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// Config tunes the estimator. Zero-value Config is not usable; use
// DefaultConfig.
type Config struct {
	// Alpha smooths the instantaneous fill rate.
	Alpha float64
	// AccelAlpha smooths the rate-of-change of the fill rate.
	AccelAlpha float64
	// MinSamplesForConfidence is the sample count at which Confidence
	// reaches 1.0; it ramps linearly below that.
	MinSamplesForConfidence int
	// IdleFloorFraction is the EWMA rate magnitude, as a fraction of total
	// capacity per second, below which a mount is classified Idle.
	IdleFloorFraction float64
	// AccelThresholdFraction is the EWMA acceleration magnitude, as a
	// fraction of total capacity per second^2, that must be exceeded to
	// begin counting toward Accelerating.
	AccelThresholdFraction float64
	// AccelConsecutive is the number of consecutive samples the
	// acceleration threshold must be exceeded before classifying
	// Accelerating.
	AccelConsecutive int
}

// DefaultConfig mirrors the teacher's diskguard smoothing constants.
func DefaultConfig() Config {
	return Config{
		Alpha:                   0.3,
		AccelAlpha:              0.3,
		MinSamplesForConfidence: 5,
		IdleFloorFraction:       1e-6,
		AccelThresholdFraction:  1e-7,
		AccelConsecutive:        3,
	}
}

type sample struct {
	at   time.Time
	free uint64
}

type mountState struct {
	last         sample
	haveLast     bool
	haveRate     bool
	emaRate      float64
	emaAccel     float64
	haveAccel    bool
	accelStreak  int
	sampleCount  int
}

// Estimator tracks per-mount EWMA rate state across daemon ticks.
type Estimator struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*mountState
}

// New creates an Estimator with cfg.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg, states: make(map[string]*mountState)}
}

// Observe records one free-bytes sample for mount at time now and returns
// the updated rate estimate. thresholdBytes is the free-bytes level
// SecondsToThreshold projects toward.
//
// The fill rate is positive when free space is draining (the filesystem
// is filling up) and negative when free space is being recovered,
// matching model.RateEstimate.BytesPerSecond's sign convention.
func (e *Estimator) Observe(mount string, free, total uint64, thresholdBytes uint64, now time.Time) model.RateEstimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[mount]
	if !ok {
		st = &mountState{}
		e.states[mount] = st
	}

	if !st.haveLast {
		st.last = sample{at: now, free: free}
		st.haveLast = true
		return model.RateEstimate{Trend: model.TrendIdle, SecondsToThreshold: math.Inf(1), Confidence: 0}
	}

	dt := now.Sub(st.last.at).Seconds()
	if dt <= 0 {
		return e.currentEstimate(st, total, free, thresholdBytes)
	}

	instRate := (float64(st.last.free) - float64(free)) / dt
	prevEma := st.emaRate
	if !st.haveRate {
		st.emaRate = instRate
		st.haveRate = true
	} else {
		st.emaRate = e.cfg.Alpha*instRate + (1-e.cfg.Alpha)*prevEma
	}

	accelInst := (st.emaRate - prevEma) / dt
	if !st.haveAccel {
		st.emaAccel = accelInst
		st.haveAccel = true
	} else {
		st.emaAccel = e.cfg.AccelAlpha*accelInst + (1-e.cfg.AccelAlpha)*st.emaAccel
	}

	accelFloor := e.cfg.AccelThresholdFraction * float64(total)
	if math.Abs(st.emaAccel) > accelFloor {
		st.accelStreak++
	} else {
		st.accelStreak = 0
	}

	st.sampleCount++
	st.last = sample{at: now, free: free}

	return e.currentEstimate(st, total, free, thresholdBytes)
}

func (e *Estimator) currentEstimate(st *mountState, total, free, thresholdBytes uint64) model.RateEstimate {
	confidence := float64(st.sampleCount) / float64(e.cfg.MinSamplesForConfidence)
	if confidence > 1 {
		confidence = 1
	}

	trend := e.classify(st, total)
	seconds := secondsToThreshold(st.emaRate, free, thresholdBytes)

	return model.RateEstimate{
		BytesPerSecond:     st.emaRate,
		Trend:              trend,
		SecondsToThreshold: seconds,
		Confidence:         confidence,
	}
}

func (e *Estimator) classify(st *mountState, total uint64) model.Trend {
	if total == 0 {
		return model.TrendIdle
	}
	idleFloor := e.cfg.IdleFloorFraction * float64(total)
	if math.Abs(st.emaRate) < idleFloor {
		return model.TrendIdle
	}
	switch {
	case st.emaRate > 0 && st.accelStreak >= e.cfg.AccelConsecutive:
		return model.TrendAccelerating
	case st.emaRate > 0:
		return model.TrendGrowing
	case st.emaRate < 0:
		return model.TrendRecovering
	default:
		return model.TrendStable
	}
}

// secondsToThreshold projects the time until free reaches thresholdBytes,
// given a signed fill rate (positive = draining). Returns +Inf when the
// rate isn't moving toward the threshold.
func secondsToThreshold(rate float64, free, thresholdBytes uint64) float64 {
	if rate <= 0 {
		return math.Inf(1)
	}
	if free <= thresholdBytes {
		return 0
	}
	seconds := (float64(free) - float64(thresholdBytes)) / rate
	if seconds < 0 {
		return 0
	}
	return seconds
}

// Reset drops tracked state for mount, used when a mount disappears or is
// replaced (e.g. remount).
func (e *Estimator) Reset(mount string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, mount)
}
