package monitor

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joyshmitz/sbh/model"
)

func TestExportRendersCountersAndGauges(t *testing.T) {
	e := NewExporter()
	e.Export(model.DaemonState{
		UptimeSeconds: 42,
		Counters: model.Counters{
			BytesFreed: 1024,
			Deletions:  3,
			Scans:      5,
			Errors:     1,
		},
		Ballast: model.BallastSnapshot{Available: 2, Total: 8, Released: 6},
		Pressure: model.PressureSnapshot{
			Overall: "Orange",
			Mounts:  []model.MountPressure{{Path: "/data", FreePct: 6.5, Level: "Orange", RateBPS: 500}},
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	e.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	for _, want := range []string{
		"sbhd_uptime_seconds 42",
		"sbhd_bytes_freed_total 1024",
		"sbhd_deletions_total 3",
		"sbhd_scans_total 5",
		"sbhd_errors_total 1",
		`sbhd_ballast_available 2`,
		`sbhd_ballast_total 8`,
		`sbhd_ballast_released 6`,
		`sbhd_mount_free_pct{mount="/data"} 6.5`,
		`sbhd_mount_pressure_level{mount="/data"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestExportCountersAreMonotonicAcrossCalls(t *testing.T) {
	e := NewExporter()
	e.Export(model.DaemonState{Counters: model.Counters{Deletions: 3}})
	e.Export(model.DaemonState{Counters: model.Counters{Deletions: 5}})

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "sbhd_deletions_total 5") {
		t.Fatalf("expected cumulative counter to read 5 after two exports, got:\n%s", body)
	}
}

func TestExportDoesNotDecrementCounterOnLowerCumulativeValue(t *testing.T) {
	// Guards against a restarted-counter source (e.g. a reset state
	// file) driving the Prometheus counter backwards, which the client
	// library would reject as invalid.
	e := NewExporter()
	e.Export(model.DaemonState{Counters: model.Counters{Scans: 10}})
	e.Export(model.DaemonState{Counters: model.Counters{Scans: 2}})

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "sbhd_scans_total 10") {
		t.Fatalf("expected counter to hold at 10 rather than go backwards, got:\n%s", body)
	}
}
