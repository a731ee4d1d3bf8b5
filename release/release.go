// Package release implements the release controller that sits between
// the PID controller and the ballast manager. Grounded on the
// teacher's engine/diskguard.go escalation-by-one-step style, adapted
// to a restart-idempotent release quantity rule (spec.md §4.L — the
// motivating regression is a freshly started daemon re-releasing
// ballast because "release count since Green" isn't persisted across
// restarts).
package release

import (
	"time"

	"github.com/joyshmitz/sbh/model"
)

// Pool is the subset of ballast.Manager the controller needs; kept as
// an interface so the controller doesn't depend on the ballast package
// directly (lock-order discipline, spec.md §5 — the release controller
// sits strictly between PID and ballast, never the other way around).
type Pool interface {
	AvailableCount() int
	TotalCount() int
	Release(n int) ([]model.ReleasedFile, error)
}

// Controller computes and applies release quantities.
type Controller struct {
	pool Pool

	lastLevel       model.PressureLevel
	haveLastLevel   bool
	debounceResetAt time.Time
}

// New constructs a Controller over pool.
func New(pool Pool) *Controller {
	return &Controller{pool: pool}
}

// Apply computes the release quantity from resp.ReleaseBallastFiles and
// the pool's observable state, then performs the release. The quantity
// is a function of (target, total_count, available_count), plus the
// Green-exit floor below, which depends on the last level this
// Controller saw; it reads no release counter, so it is idempotent
// across restarts.
func (c *Controller) Apply(resp model.PressureResponse, now time.Time) ([]model.ReleasedFile, error) {
	target := resp.ReleaseBallastFiles
	level := resp.Level

	if level == model.LevelGreen {
		c.debounceResetAt = now
	} else if c.haveLastLevel && c.lastLevel == model.LevelGreen {
		// Transition out of Green applies a minimum release floor of 1,
		// regardless of what the idempotence rule below would otherwise
		// compute, so escalation out of Green always makes visible progress.
		if target < 1 {
			target = 1
		}
	}
	c.lastLevel = level
	c.haveLastLevel = true

	total := c.pool.TotalCount()
	available := c.pool.AvailableCount()
	missing := total - available

	if missing >= target {
		// The pool is already at or beyond the desired depletion: nothing
		// to do. This is what makes the controller safe to restart — it
		// never remembers how much it released before, only what the pool
		// currently looks like.
		return nil, nil
	}

	want := target - missing
	if want > available {
		want = available
	}
	if want <= 0 {
		return nil, nil
	}
	return c.pool.Release(want)
}

// LastGreenAt returns the timestamp of the most recent Apply call that
// observed PressureLevel Green, and whether one has occurred yet.
func (c *Controller) LastGreenAt() (time.Time, bool) {
	return c.debounceResetAt, !c.debounceResetAt.IsZero()
}
