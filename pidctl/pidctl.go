// Package pidctl turns a pressure reading into a PressureResponse: a
// hysteresis-banded level and a PID-combined urgency scalar that derive
// scan cadence, ballast release targets, and delete batch size. Grounded
// on the teacher's diskGuardState threshold function and
// WorstDiskGuardState escalation in engine/diskguard.go.
package pidctl

import (
	"math"
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
)

// Config tunes band thresholds, hysteresis, PID gains, and derived
// output curves. Zero-value Config is not usable; use DefaultConfig.
type Config struct {
	GreenMin  float64 // free_pct at/above which level is Green
	YellowMin float64
	OrangeMin float64
	RedMin    float64 // below this is Critical

	// HysteresisMargin is added to a threshold when re-classifying to a
	// less severe level, preventing flapping at the boundary.
	HysteresisMargin float64

	// ImminentSeconds is the seconds-to-threshold below which the level
	// is escalated by one step regardless of free_pct.
	ImminentSeconds float64

	TargetFreePct float64 // desired steady-state free_pct
	Kp, Ki, Kd    float64
	IntegralCap   float64
	DerivAlpha    float64 // EWMA smoothing for the derivative term

	// ScanIntervalSeconds is indexed by PressureLevel, decreasing with
	// severity.
	ScanIntervalSeconds [5]float64
	// BallastDeficitTarget is the baseline ballast-pool deficit to close,
	// scaled by urgency, at Yellow and above.
	BallastDeficitTarget int
	// MaxDeleteBatchBase and MaxDeleteBatchScale define
	// max_delete_batch = base + scale*urgency.
	MaxDeleteBatchBase  int
	MaxDeleteBatchScale int
}

// DefaultConfig mirrors the teacher's diskguard band constants, adapted
// to the PID formulation.
func DefaultConfig() Config {
	return Config{
		GreenMin:             20,
		YellowMin:            10,
		OrangeMin:            5,
		RedMin:               2,
		HysteresisMargin:     2,
		ImminentSeconds:      60,
		TargetFreePct:        20,
		Kp:                   0.6,
		Ki:                   0.3,
		Kd:                   0.1,
		IntegralCap:          5.0,
		DerivAlpha:           0.4,
		ScanIntervalSeconds:  [5]float64{60, 30, 15, 5, 1},
		BallastDeficitTarget: 4,
		MaxDeleteBatchBase:   1,
		MaxDeleteBatchScale:  19,
	}
}

type mountState struct {
	level        model.PressureLevel
	haveLevel    bool
	integral     float64
	lastFreePct  float64
	haveLast     bool
	lastTime     time.Time
	emaDeriv     float64
	haveDeriv    bool
}

// Controller holds per-mount PID state across ticks.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*mountState
}

// New creates a Controller with cfg.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, states: make(map[string]*mountState)}
}

// Evaluate consumes one mount's pressure reading and returns the derived
// response. Callers combine responses across mounts (the worst level,
// highest urgency) to drive a single daemon-wide action; see
// daemon.Daemon.Tick.
func (c *Controller) Evaluate(reading model.PressureReading, now time.Time) model.PressureResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[reading.MountPoint]
	if !ok {
		st = &mountState{}
		c.states[reading.MountPoint] = st
	}

	freePct := 0.0
	if reading.TotalBytes > 0 {
		freePct = 100 * float64(reading.FreeBytes) / float64(reading.TotalBytes)
	}

	level := c.classifyLevel(st, freePct)
	if reading.HasTimeToThresh && reading.SecondsToThresh < c.cfg.ImminentSeconds {
		level = escalate(level)
	}
	st.level = level
	st.haveLevel = true

	urgency := c.urgency(st, freePct, now)

	return model.PressureResponse{
		Level:               level,
		Urgency:             urgency,
		ScanInterval:        c.cfg.ScanIntervalSeconds[level],
		ReleaseBallastFiles: c.releaseBallastFiles(level, urgency),
		MaxDeleteBatch:      c.cfg.MaxDeleteBatchBase + int(math.Round(float64(c.cfg.MaxDeleteBatchScale)*urgency)),
		CausingMount:        reading.MountPoint,
		PredictedSeconds:    reading.SecondsToThresh,
	}
}

// classifyLevel bands free_pct, applying hysteresis on recovery (moving
// to a less severe level).
func (c *Controller) classifyLevel(st *mountState, freePct float64) model.PressureLevel {
	raw := c.band(freePct)
	if !st.haveLevel {
		return raw
	}
	if raw >= st.level {
		// Same severity or worse: no hysteresis needed, apply immediately.
		return raw
	}
	// raw is less severe than current: require crossing with margin.
	if c.recoversWithMargin(st.level, freePct) {
		return raw
	}
	return st.level
}

func (c *Controller) band(freePct float64) model.PressureLevel {
	switch {
	case freePct >= c.cfg.GreenMin:
		return model.LevelGreen
	case freePct >= c.cfg.YellowMin:
		return model.LevelYellow
	case freePct >= c.cfg.OrangeMin:
		return model.LevelOrange
	case freePct >= c.cfg.RedMin:
		return model.LevelRed
	default:
		return model.LevelCritical
	}
}

// recoversWithMargin reports whether freePct has cleared the threshold
// that separates currentLevel from the next less-severe level, by at
// least HysteresisMargin.
func (c *Controller) recoversWithMargin(currentLevel model.PressureLevel, freePct float64) bool {
	var threshold float64
	switch currentLevel {
	case model.LevelCritical:
		threshold = c.cfg.RedMin
	case model.LevelRed:
		threshold = c.cfg.OrangeMin
	case model.LevelOrange:
		threshold = c.cfg.YellowMin
	case model.LevelYellow:
		threshold = c.cfg.GreenMin
	default:
		return true
	}
	return freePct >= threshold+c.cfg.HysteresisMargin
}

func escalate(level model.PressureLevel) model.PressureLevel {
	if level >= model.LevelCritical {
		return model.LevelCritical
	}
	return level + 1
}

func (c *Controller) urgency(st *mountState, freePct float64, now time.Time) float64 {
	target := c.cfg.TargetFreePct
	p := 0.0
	if target > 0 {
		p = math.Max(0, target-freePct) / target
	}

	if freePct >= target {
		// Decay integral toward zero once recovered.
		st.integral *= 0.5
	} else {
		st.integral += p
	}
	if st.integral > c.cfg.IntegralCap {
		st.integral = c.cfg.IntegralCap
	}
	if st.integral < 0 {
		st.integral = 0
	}

	d := 0.0
	if st.haveLast {
		dt := now.Sub(st.lastTime).Seconds()
		if dt > 0 {
			instDeriv := -(freePct - st.lastFreePct) / dt
			if !st.haveDeriv {
				st.emaDeriv = instDeriv
				st.haveDeriv = true
			} else {
				st.emaDeriv = c.cfg.DerivAlpha*instDeriv + (1-c.cfg.DerivAlpha)*st.emaDeriv
			}
			d = st.emaDeriv
		}
	}
	st.lastFreePct = freePct
	st.lastTime = now
	st.haveLast = true

	urgency := c.cfg.Kp*p + c.cfg.Ki*st.integral + c.cfg.Kd*d
	return clamp01(urgency)
}

func (c *Controller) releaseBallastFiles(level model.PressureLevel, urgency float64) int {
	if level == model.LevelGreen {
		return 0
	}
	n := int(math.Round(float64(c.cfg.BallastDeficitTarget) * urgency))
	if n < 0 {
		return 0
	}
	if n > c.cfg.BallastDeficitTarget {
		return c.cfg.BallastDeficitTarget
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
