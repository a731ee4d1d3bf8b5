package pidctl

import (
	"math"
	"testing"
	"time"

	"github.com/joyshmitz/sbh/model"
)

func reading(mount string, freePct float64) model.PressureReading {
	total := uint64(1_000_000)
	free := uint64(freePct / 100 * float64(total))
	return model.PressureReading{MountPoint: mount, FreeBytes: free, TotalBytes: total, SecondsToThresh: math.Inf(1)}
}

func TestBandClassification(t *testing.T) {
	cases := []struct {
		name    string
		freePct float64
		want    model.PressureLevel
	}{
		{"green", 50, model.LevelGreen},
		{"yellow", 15, model.LevelYellow},
		{"orange", 7, model.LevelOrange},
		{"red", 3, model.LevelRed},
		{"critical", 1, model.LevelCritical},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctl := New(DefaultConfig())
			resp := ctl.Evaluate(reading("/data/"+c.name, c.freePct), time.Now())
			if resp.Level != c.want {
				t.Fatalf("freePct %v: want %v, got %v", c.freePct, c.want, resp.Level)
			}
		})
	}
}

func TestHysteresisPreventsFlappingOnRecovery(t *testing.T) {
	ctl := New(DefaultConfig())
	now := time.Now()

	resp := ctl.Evaluate(reading("/data", 3), now) // Red
	if resp.Level != model.LevelRed {
		t.Fatalf("expected Red, got %v", resp.Level)
	}

	// free_pct crosses OrangeMin (5) but not by the hysteresis margin (2).
	now = now.Add(time.Second)
	resp = ctl.Evaluate(reading("/data", 6), now)
	if resp.Level != model.LevelRed {
		t.Fatalf("expected level to stick at Red within hysteresis margin, got %v", resp.Level)
	}

	// Now clears OrangeMin + margin.
	now = now.Add(time.Second)
	resp = ctl.Evaluate(reading("/data", 8), now)
	if resp.Level != model.LevelOrange {
		t.Fatalf("expected recovery to Orange once margin cleared, got %v", resp.Level)
	}
}

func TestEscalationIsImmediate(t *testing.T) {
	ctl := New(DefaultConfig())
	now := time.Now()
	ctl.Evaluate(reading("/data", 50), now) // Green

	now = now.Add(time.Second)
	resp := ctl.Evaluate(reading("/data", 1), now) // Critical, no hysteresis on worsening
	if resp.Level != model.LevelCritical {
		t.Fatalf("expected immediate escalation to Critical, got %v", resp.Level)
	}
}

func TestImminentThresholdEscalatesLevelByOneStep(t *testing.T) {
	ctl := New(DefaultConfig())
	now := time.Now()
	r := reading("/data", 50) // would be Green
	r.SecondsToThresh = 10
	r.HasTimeToThresh = true
	resp := ctl.Evaluate(r, now)
	if resp.Level != model.LevelYellow {
		t.Fatalf("expected imminent threshold to escalate Green to Yellow, got %v", resp.Level)
	}
}

func TestUrgencyZeroAtTarget(t *testing.T) {
	ctl := New(DefaultConfig())
	now := time.Now()
	resp := ctl.Evaluate(reading("/data", 50), now) // above target (20)
	if resp.Urgency != 0 {
		t.Fatalf("expected zero urgency above target, got %v", resp.Urgency)
	}
}

func TestUrgencyRisesBelowTarget(t *testing.T) {
	ctl := New(DefaultConfig())
	now := time.Now()
	resp := ctl.Evaluate(reading("/data", 5), now)
	if resp.Urgency <= 0 {
		t.Fatalf("expected positive urgency below target, got %v", resp.Urgency)
	}
	if resp.Urgency > 1 {
		t.Fatalf("expected urgency clamped to 1, got %v", resp.Urgency)
	}
}

func TestReleaseBallastFilesZeroAtGreen(t *testing.T) {
	ctl := New(DefaultConfig())
	resp := ctl.Evaluate(reading("/data", 50), time.Now())
	if resp.ReleaseBallastFiles != 0 {
		t.Fatalf("expected zero ballast release at Green, got %v", resp.ReleaseBallastFiles)
	}
}

func TestReleaseBallastFilesPositiveUnderPressure(t *testing.T) {
	ctl := New(DefaultConfig())
	now := time.Now()
	var resp model.PressureResponse
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		resp = ctl.Evaluate(reading("/data", 3), now)
	}
	if resp.ReleaseBallastFiles <= 0 {
		t.Fatalf("expected positive ballast release under sustained pressure, got %v", resp.ReleaseBallastFiles)
	}
}

func TestScanIntervalDecreasesWithSeverity(t *testing.T) {
	ctl := New(DefaultConfig())
	green := ctl.Evaluate(reading("/g", 50), time.Now())
	critical := ctl.Evaluate(reading("/c", 1), time.Now())
	if !(critical.ScanInterval < green.ScanInterval) {
		t.Fatalf("expected Critical scan interval shorter than Green: %v vs %v", critical.ScanInterval, green.ScanInterval)
	}
}

func TestMaxDeleteBatchIncreasesWithUrgency(t *testing.T) {
	ctl := New(DefaultConfig())
	now := time.Now()
	low := ctl.Evaluate(reading("/low", 18), now)
	now = now.Add(time.Second)
	var high model.PressureResponse
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		high = ctl.Evaluate(reading("/high", 1), now)
	}
	if !(high.MaxDeleteBatch > low.MaxDeleteBatch) {
		t.Fatalf("expected higher urgency to widen delete batch: %v vs %v", high.MaxDeleteBatch, low.MaxDeleteBatch)
	}
}
