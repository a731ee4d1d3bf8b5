package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joyshmitz/sbh/ballast"
	"github.com/joyshmitz/sbh/guardrail"
	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/pidctl"
	"github.com/joyshmitz/sbh/platform"
	"github.com/joyshmitz/sbh/policy"
	"github.com/joyshmitz/sbh/rate"
	"github.com/joyshmitz/sbh/scoring"
	"github.com/joyshmitz/sbh/walker"
)

func testConfig(t *testing.T, root string) Config {
	t.Helper()
	return Config{
		Mounts: []MountConfig{
			{
				Path:          root,
				ScanRoots:     []string{root},
				Ballast:       ballast.DefaultConfig(filepath.Join(root, ".ballast")),
				RedMinFreePct: 2,
			},
		},
		TickInterval:      time.Second,
		PromoteEveryTicks: 1,
		PIDConfig:         pidctl.DefaultConfig(),
		RateConfig:        rate.DefaultConfig(),
		WalkerConfig: walker.Config{
			MaxDepth:      10,
			Parallelism:   4,
			MinFileAge:    0,
			SizeScanBudget: 1000,
		},
		ScoringConfig:     scoring.DefaultConfig(),
		PolicyConfig:      policy.DefaultConfig(),
		GuardrailConfig:   guardrail.DefaultConfig(),
		DecisionLogPath:   filepath.Join(root, "decisions.jsonl"),
		TransitionLogPath: filepath.Join(root, "transitions.jsonl"),
		StateFilePath:     filepath.Join(root, "state.json"),
	}
}

func newFakePlatform(root string, freeBytes, totalBytes uint64) *platform.Fake {
	p := platform.NewFake()
	p.Mounts = []model.MountPointInfo{{Path: root}}
	p.SetMount(model.FsStats{MountPoint: root, FreeBytes: freeBytes, TotalBytes: totalBytes})
	return p
}

func TestTickProducesStateFileAndDecisionLog(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "node_modules", "pkg.bin"), make([]byte, 1024), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg := testConfig(t, root)
	plat := newFakePlatform(root, 80, 100)
	d := New(cfg, plat, nil)
	if err := d.Reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if err := d.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if _, err := os.Stat(cfg.StateFilePath); err != nil {
		t.Fatalf("expected state file to be written: %v", err)
	}
	if _, err := os.Stat(cfg.DecisionLogPath); err != nil {
		t.Fatalf("expected decision log to be written: %v", err)
	}
}

func TestTickIsIdempotentAcrossBallastReleaseOnGreenMount(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	plat := newFakePlatform(root, 90, 100) // well above Green threshold
	d := New(cfg, plat, nil)
	if err := d.Reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	now := time.Now()
	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := d.Tick(context.Background(), now.Add(time.Second)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	// A healthy mount releases nothing; ballast pool should be fully
	// available after two ticks.
	bm := d.ballasts[root]
	if got := bm.AvailableCount(); got != bm.TotalCount() {
		t.Fatalf("expected all ballast files available on a Green mount, got %d/%d", got, bm.TotalCount())
	}
}

func TestTickUnderPressureReleasesBallast(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	plat := newFakePlatform(root, 1, 100) // 1% free: deep into Critical
	d := New(cfg, plat, nil)
	if err := d.Reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if err := d.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	bm := d.ballasts[root]
	if got := bm.ReleasedCount(); got == 0 {
		t.Fatalf("expected a mount under critical pressure to release ballast, got 0 released")
	}
}
