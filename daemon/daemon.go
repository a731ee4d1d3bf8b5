// Package daemon orchestrates one tick of the pressure control loop:
// stat -> rate -> guardrail -> PID -> walk -> score -> policy ->
// release -> ballast -> monitor, and the foreground run loop around it.
// Grounded on the teacher's engine/daemon.go RunDaemon: a signal-driven
// ticker loop, a pidfile written on start and removed on exit, and a
// per-tick summary persisted to disk.
package daemon

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joyshmitz/sbh/auditlog"
	"github.com/joyshmitz/sbh/ballast"
	"github.com/joyshmitz/sbh/classifier"
	"github.com/joyshmitz/sbh/guardrail"
	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/monitor"
	"github.com/joyshmitz/sbh/pidctl"
	"github.com/joyshmitz/sbh/platform"
	"github.com/joyshmitz/sbh/policy"
	"github.com/joyshmitz/sbh/protect"
	"github.com/joyshmitz/sbh/rate"
	"github.com/joyshmitz/sbh/release"
	"github.com/joyshmitz/sbh/scoring"
	"github.com/joyshmitz/sbh/statcache"
	"github.com/joyshmitz/sbh/walker"
)

// MountConfig is one monitored mount: the root paths under it to scan,
// its ballast pool, and the threshold percentage used to derive a
// seconds-to-threshold estimate from the rate tracker.
type MountConfig struct {
	Path           string
	ScanRoots      []string
	Ballast        ballast.Config
	RedMinFreePct  float64 // percent, matches pidctl.Config.RedMin
}

// Config assembles every component's configuration for one daemon
// instance.
type Config struct {
	Mounts            []MountConfig
	TickInterval      time.Duration
	PromoteEveryTicks int // 0 disables automatic promotion

	PIDConfig       pidctl.Config
	RateConfig      rate.Config
	WalkerConfig    walker.Config
	ScoringConfig   scoring.Config
	PolicyConfig    policy.Config
	GuardrailConfig guardrail.Config

	ProtectedPrefixes []string

	PIDFilePath        string
	StateFilePath      string
	DecisionLogPath    string
	TransitionLogPath  string
	LogMaxBytes        int64
}

// Daemon holds every component instance and the cross-tick state
// (previous rate estimates, transition log cursor) a single tick reads
// and updates.
type Daemon struct {
	cfg  Config
	plat platform.Platform

	stats    *statcache.Collector
	rates    *rate.Estimator
	pidc     *pidctl.Controller
	scorer   *scoring.Engine
	guard    *guardrail.Guardrail
	pol      *policy.Engine
	prot     *protect.Registry
	classify *classifier.Registry

	walkers   map[string]*walker.Walker
	ballasts  map[string]*ballast.Manager
	releasers map[string]*release.Controller

	mon           *monitor.Monitor
	exporter      *monitor.Exporter
	decisionLog   *auditlog.DecisionLog
	transitionLog *auditlog.TransitionLog

	lastEstimate     map[string]model.RateEstimate
	transitionCursor int
	tickCount        int
}

// New constructs a Daemon. Call Reconcile before Run to recover each
// mount's ballast inventory from disk.
func New(cfg Config, plat platform.Platform, exporter *monitor.Exporter) *Daemon {
	d := &Daemon{
		cfg:           cfg,
		plat:          plat,
		stats:         statcache.New(plat, 2*time.Second, 30*time.Second),
		rates:         rate.New(cfg.RateConfig),
		pidc:          pidctl.New(cfg.PIDConfig),
		scorer:        scoring.New(cfg.ScoringConfig),
		guard:         guardrail.New(cfg.GuardrailConfig),
		pol:           policy.New(cfg.PolicyConfig),
		prot:          protect.NewRegistry(cfg.ProtectedPrefixes),
		classify:      classifier.NewRegistry(),
		walkers:       make(map[string]*walker.Walker),
		ballasts:      make(map[string]*ballast.Manager),
		releasers:     make(map[string]*release.Controller),
		mon:           monitor.New(os.Getpid(), time.Now()),
		exporter:      exporter,
		decisionLog:   auditlog.NewDecisionLog(cfg.DecisionLogPath, cfg.LogMaxBytes),
		transitionLog: auditlog.NewTransitionLog(cfg.TransitionLogPath, cfg.LogMaxBytes),
		lastEstimate:  make(map[string]model.RateEstimate),
	}
	for _, mc := range cfg.Mounts {
		d.walkers[mc.Path] = walker.New(cfg.WalkerConfig, plat, d.prot, d.classify, walker.AlwaysClosed{})
		bm := ballast.New(mc.Ballast, plat)
		d.ballasts[mc.Path] = bm
		d.releasers[mc.Path] = release.New(bm)
	}
	return d
}

// Reconcile recovers every mount's ballast inventory from disk. Must be
// called once before the first tick.
func (d *Daemon) Reconcile() error {
	for path, bm := range d.ballasts {
		if err := bm.Reconcile(); err != nil {
			return fmt.Errorf("reconcile ballast at %s: %w", path, err)
		}
	}
	// The self-monitor reports one mount's ballast pool; a single-mount
	// deployment (the common case) wires it directly. With several
	// mounts, only the pool that map iteration yields first is reported,
	// so which one is not fixed across runs.
	for _, bm := range d.ballasts {
		d.mon.SetBallastSource(bm)
		break
	}
	return nil
}

// Run executes the tick loop until ctx is cancelled, writing a pidfile
// for the duration of the run (matching the teacher's RunDaemon
// pidfile discipline).
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.PIDFilePath != "" {
		if err := os.WriteFile(d.cfg.PIDFilePath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer os.Remove(d.cfg.PIDFilePath)
	}

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	log.Printf("sbhd: daemon started (pid=%d, interval=%s)", os.Getpid(), d.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("sbhd: daemon shutting down")
			return nil
		case now := <-ticker.C:
			if err := d.Tick(ctx, now); err != nil {
				log.Printf("sbhd: tick error: %v", err)
				d.mon.RecordError()
			}
		}
	}
}

// Tick runs one full cycle: stat -> rate -> guardrail -> PID -> walk ->
// score -> policy -> release -> ballast -> monitor. The whole
// sequence runs on the calling goroutine with no concurrent mutation of
// shared state, so from any external observer (the state file, the
// audit log) it appears atomic, per spec.md §5.
func (d *Daemon) Tick(ctx context.Context, now time.Time) error {
	d.tickCount++

	mountPressures := make([]model.MountPressure, 0, len(d.cfg.Mounts))
	var worst model.PressureResponse
	var haveWorst bool
	var worstDiag model.GuardDiagnostics

	for _, mc := range d.cfg.Mounts {
		stats, err := d.stats.Collect(mc.Path)
		if err != nil {
			d.mon.RecordError()
			continue
		}

		thresholdBytes := uint64(mc.RedMinFreePct / 100 * float64(stats.TotalBytes))
		estimate := d.rates.Observe(mc.Path, stats.FreeBytes, stats.TotalBytes, thresholdBytes, now)

		diag := model.GuardDiagnostics{}
		if prev, ok := d.lastEstimate[mc.Path]; ok {
			obs := model.CalibrationObservation{
				PredictedRate: prev.BytesPerSecond,
				ActualRate:    estimate.BytesPerSecond,
				PredictedTTE:  prev.SecondsToThreshold,
				ActualTTE:     estimate.SecondsToThreshold,
			}
			diag = d.guard.Observe(obs)
		} else {
			diag = d.guard.Diagnostics()
		}
		d.lastEstimate[mc.Path] = estimate

		reading := model.PressureReading{
			MountPoint:      mc.Path,
			FreeBytes:       stats.FreeBytes,
			TotalBytes:      stats.TotalBytes,
			SecondsToThresh: estimate.SecondsToThreshold,
			HasTimeToThresh: !math.IsInf(estimate.SecondsToThreshold, 1),
		}
		resp := d.pidc.Evaluate(reading, now)

		mountPressures = append(mountPressures, model.MountPressure{
			Path:    mc.Path,
			FreePct: stats.FreePct(),
			Level:   resp.Level.String(),
			RateBPS: estimate.BytesPerSecond,
		})

		if !haveWorst || resp.Level > worst.Level || (resp.Level == worst.Level && resp.Urgency > worst.Urgency) {
			worst = resp
			worstDiag = diag
			haveWorst = true
		}
	}

	d.mon.SetPressure(model.PressureSnapshot{Overall: worst.Level.String(), Mounts: mountPressures})

	if !haveWorst {
		return fmt.Errorf("no mount stats collected this tick")
	}

	d.pol.ObserveWindow(worstDiag, now)
	if d.cfg.PromoteEveryTicks > 0 && d.tickCount%d.cfg.PromoteEveryTicks == 0 {
		d.pol.Promote(worstDiag.Status, now)
	}

	scored, err := d.scoreCandidates(ctx, worst.Urgency)
	if err != nil {
		d.mon.RecordError()
	}

	decision := d.pol.Evaluate(scored, worstDiag, now)

	for _, sc := range decision.ApprovedForDeletion {
		if err := d.deleteCandidate(sc); err != nil {
			log.Printf("sbhd: delete %s: %v", sc.Path, err)
			d.mon.RecordError()
			continue
		}
		log.Printf("sbhd: deleted %s (%s freed)", sc.Path, humanize.Bytes(sc.SizeBytes))
		d.mon.RecordDeletion(sc.SizeBytes)
	}

	if err := d.decisionLog.WriteBatch(decision.Records); err != nil {
		log.Printf("sbhd: decision log write failed: %v", err)
		d.mon.RecordDroppedLogEvent()
	}
	d.flushTransitionLog()

	if rc, ok := d.releasers[worst.CausingMount]; ok {
		released, err := rc.Apply(worst, now)
		if err != nil {
			log.Printf("sbhd: ballast release on %s: %v", worst.CausingMount, err)
			d.mon.RecordError()
		}
		for _, rf := range released {
			d.mon.RecordDeletion(rf.SizeBytes)
		}
		if len(released) > 0 {
			var freed uint64
			for _, rf := range released {
				freed += rf.SizeBytes
			}
			log.Printf("sbhd: released %d ballast file(s) on %s (%s)", len(released), worst.CausingMount, humanize.Bytes(freed))
		}
	}
	if bm, ok := d.ballasts[worst.CausingMount]; ok {
		if err := bm.Replenish(now); err != nil {
			log.Printf("sbhd: ballast replenish on %s: %v", worst.CausingMount, err)
			d.mon.RecordError()
		}
	}

	d.mon.RecordScan(now, len(scored))

	if d.cfg.StateFilePath != "" {
		if err := d.mon.WriteStateFile(d.cfg.StateFilePath, now); err != nil {
			log.Printf("sbhd: state file write failed: %v", err)
		}
	}
	if d.exporter != nil {
		d.exporter.Export(d.mon.Snapshot(now))
	}
	return nil
}

// scoreCandidates walks every configured mount's scan roots and scores
// each discovered candidate against urgency. Candidates under a protected
// prefix are scored with the protected flag set (which yields Keep) and
// are still passed on to the policy engine.
func (d *Daemon) scoreCandidates(ctx context.Context, urgency float64) ([]model.ScoredCandidate, error) {
	var scored []model.ScoredCandidate
	var firstErr error
	for _, mc := range d.cfg.Mounts {
		w := d.walkers[mc.Path]
		candidates, err := w.Walk(ctx, mc.ScanRoots)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		for _, c := range candidates {
			protected := d.prot.IsProtected(c.Path)
			scored = append(scored, d.scorer.Score(c, urgency, protected))
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].TotalScore > scored[j].TotalScore })
	return scored, firstErr
}

// deleteCandidate removes a candidate approved for deletion, re-gating
// on IsProtectedForDeletion's strict symlink resolution immediately
// before the filesystem call — the scoring-time check used
// best-effort resolution, which is not sufficient on its own to gate a
// deletion (see protect.Registry's doc comments).
func (d *Daemon) deleteCandidate(sc model.ScoredCandidate) error {
	protectedForDeletion, err := d.prot.IsProtectedForDeletion(sc.Path)
	if err != nil {
		return fmt.Errorf("resolve path before deletion: %w", err)
	}
	if protectedForDeletion {
		return fmt.Errorf("refusing to delete protected path %s", sc.Path)
	}
	return os.RemoveAll(sc.Path)
}

// flushTransitionLog writes any transitions recorded since the last
// flush, tracked by a simple index cursor — the policy engine's
// transition log is append-only and never truncated mid-run.
func (d *Daemon) flushTransitionLog() {
	all := d.pol.TransitionLog()
	for _, e := range all[d.transitionCursor:] {
		if err := d.transitionLog.Write(e); err != nil {
			log.Printf("sbhd: transition log write failed: %v", err)
			d.mon.RecordDroppedLogEvent()
		}
	}
	d.transitionCursor = len(all)
}
