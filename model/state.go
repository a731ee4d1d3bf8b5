package model

import "time"

// MountPressure is the per-mount slice of the exported pressure snapshot.
type MountPressure struct {
	Path    string  `json:"path"`
	FreePct float64 `json:"free_pct"`
	Level   string  `json:"level"`
	RateBPS float64 `json:"rate_bps"`
}

// PressureSnapshot is the overall + per-mount pressure view exported in
// DaemonState.
type PressureSnapshot struct {
	Overall string          `json:"overall"`
	Mounts  []MountPressure `json:"mounts"`
}

// BallastSnapshot is the exported ballast pool view.
type BallastSnapshot struct {
	Available int `json:"available"`
	Total     int `json:"total"`
	Released  int `json:"released"`
}

// LastScanSnapshot summarizes the most recent walk+score+policy cycle.
type LastScanSnapshot struct {
	At        time.Time `json:"at"`
	Candidates int      `json:"candidates"`
	Deleted    int      `json:"deleted"`
}

// Counters are the self-monitor's aggregate runtime counters.
type Counters struct {
	Scans             uint64 `json:"scans"`
	Deletions         uint64 `json:"deletions"`
	BytesFreed        uint64 `json:"bytes_freed"`
	Errors            uint64 `json:"errors"`
	DroppedLogEvents  uint64 `json:"dropped_log_events"`
}

// DaemonState is the top-level, forward-compatible state-file schema.
// Consumers must tolerate additional fields and default missing ones.
type DaemonState struct {
	Version         int              `json:"version"`
	PID             int              `json:"pid"`
	StartedAt       time.Time        `json:"started_at"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	LastUpdated     time.Time        `json:"last_updated"`
	Pressure        PressureSnapshot `json:"pressure"`
	Ballast         BallastSnapshot  `json:"ballast"`
	LastScan        LastScanSnapshot `json:"last_scan"`
	Counters        Counters         `json:"counters"`
	MemoryRSSBytes  uint64           `json:"memory_rss_bytes"`
}

// StateFileVersion is the current DaemonState schema version.
const StateFileVersion = 1
