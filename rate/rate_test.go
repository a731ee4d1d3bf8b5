package rate

import (
	"math"
	"testing"
	"time"

	"github.com/joyshmitz/sbh/model"
)

func TestFirstObservationIsIdleWithZeroConfidence(t *testing.T) {
	e := New(DefaultConfig())
	est := e.Observe("/data", 1000, 10000, 0, time.Now())
	if est.Trend != model.TrendIdle {
		t.Fatalf("expected Idle trend on first sample, got %v", est.Trend)
	}
	if est.Confidence != 0 {
		t.Fatalf("expected zero confidence on first sample, got %v", est.Confidence)
	}
}

func TestSteadyDrainClassifiesGrowing(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)
	now := time.Now()
	free := uint64(1_000_000)
	var est model.RateEstimate
	for i := 0; i < 8; i++ {
		now = now.Add(time.Second)
		free -= 1000 // steady consumption: free space draining
		est = e.Observe("/data", free, 10_000_000, 0, now)
	}
	if est.Trend != model.TrendGrowing && est.Trend != model.TrendAccelerating {
		t.Fatalf("expected Growing or Accelerating trend for steady drain, got %v", est.Trend)
	}
	if est.BytesPerSecond <= 0 {
		t.Fatalf("expected positive fill rate for draining free space, got %v", est.BytesPerSecond)
	}
}

func TestAcceleratingConsumptionDetected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alpha = 1.0      // no smoothing on rate: history reflects raw deltas
	cfg.AccelAlpha = 1.0 // no smoothing on acceleration either
	e := New(cfg)
	now := time.Now()
	free := uint64(10_000_000)
	deltas := []uint64{100, 100, 500, 2000, 8000, 20000}
	var est model.RateEstimate
	for _, d := range deltas {
		now = now.Add(time.Second)
		free -= d
		est = e.Observe("/data", free, 100_000_000, 0, now)
	}
	if est.Trend != model.TrendAccelerating {
		t.Fatalf("expected Accelerating trend, got %v (rate=%v)", est.Trend, est.BytesPerSecond)
	}
}

func TestRecoveringWhenFreeSpaceGrows(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Now()
	free := uint64(1000)
	now = now.Add(time.Second)
	e.Observe("/data", free, 1_000_000, 0, now)
	var est model.RateEstimate
	for i := 0; i < 6; i++ {
		now = now.Add(time.Second)
		free += 50000
		est = e.Observe("/data", free, 1_000_000, 0, now)
	}
	if est.Trend != model.TrendRecovering {
		t.Fatalf("expected Recovering trend, got %v", est.Trend)
	}
	if est.BytesPerSecond >= 0 {
		t.Fatalf("expected negative fill rate while recovering, got %v", est.BytesPerSecond)
	}
}

func TestSecondsToThresholdProjection(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Now()
	e.Observe("/data", 1_000_000, 10_000_000, 100_000, now)
	now = now.Add(time.Second)
	est := e.Observe("/data", 900_000, 10_000_000, 100_000, now)
	if math.IsInf(est.SecondsToThreshold, 1) {
		t.Fatal("expected finite seconds-to-threshold while draining")
	}
	if est.SecondsToThreshold <= 0 {
		t.Fatalf("expected positive projection, got %v", est.SecondsToThreshold)
	}
}

func TestSecondsToThresholdZeroWhenAlreadyBelow(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Now()
	e.Observe("/data", 50_000, 10_000_000, 100_000, now)
	now = now.Add(time.Second)
	est := e.Observe("/data", 40_000, 10_000_000, 100_000, now)
	if est.SecondsToThreshold != 0 {
		t.Fatalf("expected zero seconds-to-threshold when already below, got %v", est.SecondsToThreshold)
	}
}

func TestSecondsToThresholdInfiniteWhenNotDraining(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Now()
	e.Observe("/data", 1_000_000, 10_000_000, 100_000, now)
	now = now.Add(time.Second)
	est := e.Observe("/data", 1_100_000, 10_000_000, 100_000, now)
	if !math.IsInf(est.SecondsToThreshold, 1) {
		t.Fatalf("expected +Inf seconds-to-threshold when recovering, got %v", est.SecondsToThreshold)
	}
}

func TestResetDropsState(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Now()
	e.Observe("/data", 1000, 10000, 0, now)
	e.Reset("/data")
	est := e.Observe("/data", 900, 10000, 0, now.Add(time.Second))
	if est.Confidence != 0 {
		t.Fatalf("expected confidence reset to 0 after Reset, got %v", est.Confidence)
	}
}

func TestConfidenceRampsToOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamplesForConfidence = 3
	e := New(cfg)
	now := time.Now()
	free := uint64(1_000_000)
	e.Observe("/data", free, 10_000_000, 0, now)
	var est model.RateEstimate
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		free -= 10
		est = e.Observe("/data", free, 10_000_000, 0, now)
	}
	if est.Confidence != 1 {
		t.Fatalf("expected confidence to saturate at 1, got %v", est.Confidence)
	}
}
