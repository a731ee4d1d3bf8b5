// Package monitor assembles the daemon's self-observable state: a
// forward-compatible JSON snapshot for operators and a Prometheus
// exporter for scraping. Grounded on the teacher's engine/daemon.go
// writeSummaryLine/state-file persistence pattern, generalized from an
// append-only text summary to a structured, atomically-written
// snapshot.
package monitor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/util"
)

// BallastSource is the subset of ballast.Manager the monitor needs to
// export a pool snapshot. Kept as an interface so monitor never depends
// on the ballast package directly.
type BallastSource interface {
	AvailableCount() int
	TotalCount() int
	ReleasedCount() int
}

// Monitor accumulates runtime counters and the latest pressure/ballast
// view, and renders them into a DaemonState snapshot on demand.
type Monitor struct {
	pid       int
	startedAt time.Time

	mu       sync.Mutex
	counters model.Counters
	pressure model.PressureSnapshot
	lastScan model.LastScanSnapshot
	ballast  BallastSource
}

// New constructs a Monitor. pid and startedAt are recorded once and
// reported verbatim in every snapshot.
func New(pid int, startedAt time.Time) *Monitor {
	return &Monitor{pid: pid, startedAt: startedAt}
}

// SetBallastSource attaches the ballast pool this monitor reports on.
// Safe to call before the pool finishes Reconcile/Provision; counts are
// read lazily at snapshot time.
func (m *Monitor) SetBallastSource(src BallastSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ballast = src
}

// SetPressure replaces the current per-mount pressure view, typically
// called once per tick after the PID controller runs.
func (m *Monitor) SetPressure(p model.PressureSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pressure = p
}

// RecordScan updates the last-scan summary and the cumulative scan
// counter.
func (m *Monitor) RecordScan(at time.Time, candidates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Scans++
	m.lastScan.At = at
	m.lastScan.Candidates = candidates
}

// RecordDeletion accounts for one successful deletion (ballast release
// or candidate removal) of size bytes.
func (m *Monitor) RecordDeletion(size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Deletions++
	m.counters.BytesFreed += size
	m.lastScan.Deleted++
}

// RecordError increments the error counter.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Errors++
}

// RecordDroppedLogEvent increments the dropped-log-event counter, used
// when the audit log or transition log fails to write and the daemon
// chooses to continue rather than block the pressure response.
func (m *Monitor) RecordDroppedLogEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.DroppedLogEvents++
}

// Snapshot renders the current state as of now. Unknown/unset fields
// default to their zero value rather than being omitted, so a reader
// built against an older schema version still gets a well-formed
// document (spec.md §6: unknown fields ignored, missing fields
// defaulted, in both directions).
func (m *Monitor) Snapshot(now time.Time) model.DaemonState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := model.DaemonState{
		Version:       model.StateFileVersion,
		PID:           m.pid,
		StartedAt:     m.startedAt,
		UptimeSeconds: now.Sub(m.startedAt).Seconds(),
		LastUpdated:   now,
		Pressure:      m.pressure,
		LastScan:      m.lastScan,
		Counters:      m.counters,
	}
	if m.ballast != nil {
		state.Ballast = model.BallastSnapshot{
			Available: m.ballast.AvailableCount(),
			Total:     m.ballast.TotalCount(),
			Released:  m.ballast.ReleasedCount(),
		}
	}
	return state
}

// WriteStateFile renders a snapshot and writes it atomically to path,
// matching the teacher's crash-safe persistence discipline (see
// util.WriteFileAtomic).
func (m *Monitor) WriteStateFile(path string, now time.Time) error {
	state := m.Snapshot(now)
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data, 0o644)
}
