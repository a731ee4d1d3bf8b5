// Package config loads and saves the daemon's TOML configuration file.
// Grounded on the teacher's config/config.go Default/Path/Load/Save
// shape, switched from encoding/json to TOML per spec.md §6.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/joyshmitz/sbh/util"
)

// PressureConfig mirrors pidctl.Config's band thresholds, kept as a
// flat TOML-friendly struct and translated by the daemon at startup.
// All *FreePct fields are on the same 0-100 percentage scale as
// pidctl.Config and daemon.MountConfig.RedMinFreePct (not a 0-1
// fraction) — band()/urgency() compare them directly against
// 100*free_bytes/total_bytes.
type PressureConfig struct {
	GreenMinFreePct  float64 `toml:"green_min_free_pct"`
	YellowMinFreePct float64 `toml:"yellow_min_free_pct"`
	OrangeMinFreePct float64 `toml:"orange_min_free_pct"`
	RedMinFreePct    float64 `toml:"red_min_free_pct"`
	HysteresisMargin float64 `toml:"hysteresis_margin"`
	ImminentSeconds  float64 `toml:"imminent_seconds"`
	TargetFreePct    float64 `toml:"target_free_pct"`
}

// ScoringConfig mirrors scoring.Config.
type ScoringConfig struct {
	LocationWeight  float64 `toml:"location_weight"`
	NameWeight      float64 `toml:"name_weight"`
	AgeWeight       float64 `toml:"age_weight"`
	SizeWeight      float64 `toml:"size_weight"`
	StructureWeight float64 `toml:"structure_weight"`
	KeepThreshold   float64 `toml:"keep_threshold"`
	DeleteThreshold float64 `toml:"delete_threshold"`
}

// ScannerConfig mirrors walker.Config.
type ScannerConfig struct {
	MaxDepth          int      `toml:"max_depth"`
	MinFileAgeMinutes int      `toml:"min_file_age_minutes"`
	Parallelism       int64    `toml:"parallelism"`
	CrossDevices      bool     `toml:"cross_devices"`
	FollowSymlinks    bool     `toml:"follow_symlinks"`
	ExcludedPaths     []string `toml:"excluded_paths"`
}

// BallastConfig mirrors ballast.Config.
type BallastConfig struct {
	Dir                     string `toml:"dir"`
	FileCount               int    `toml:"file_count"`
	FileSizeBytes           int64  `toml:"file_size_bytes"`
	ReplenishCooldownMinutes int   `toml:"replenish_cooldown_minutes"`
	AutoProvision           bool  `toml:"auto_provision"`
}

// PolicyConfig mirrors policy.Config.
type PolicyConfig struct {
	InitialMode              string `toml:"initial_mode"`
	MaxCanaryDeletesPerHour  int    `toml:"max_canary_deletes_per_hour"`
	MaxEnforceDeletesPerHour int    `toml:"max_enforce_deletes_per_hour"`
	CalibrationBreachWindows int    `toml:"calibration_breach_windows"`
	RecoveryCleanWindows     int    `toml:"recovery_clean_windows"`
}

// GuardrailConfig mirrors guardrail.Config.
type GuardrailConfig struct {
	WindowSize            int     `toml:"window_size"`
	MinObservations       int     `toml:"min_observations"`
	ErrMax                float64 `toml:"err_max"`
	ConservativeFractionMin float64 `toml:"conservative_fraction_min"`
	EProcessThreshold     float64 `toml:"e_process_threshold"`
	RecoveryCleanWindows  int     `toml:"recovery_clean_windows"`
}

// Config is the daemon's full TOML configuration.
type Config struct {
	StateFilePath string            `toml:"state_file_path"`
	Pressure      PressureConfig    `toml:"pressure"`
	Scoring       ScoringConfig     `toml:"scoring"`
	Scanner       ScannerConfig     `toml:"scanner"`
	Ballast       BallastConfig     `toml:"ballast"`
	Policy        PolicyConfig      `toml:"policy"`
	Guardrail     GuardrailConfig   `toml:"guardrail"`
}

// Default returns a config with the defaults documented in spec.md §6,
// matching the numeric defaults each component's own DefaultConfig uses.
func Default() Config {
	return Config{
		StateFilePath: "/var/run/sbhd/state.json",
		Pressure: PressureConfig{
			GreenMinFreePct:  20,
			YellowMinFreePct: 10,
			OrangeMinFreePct: 5,
			RedMinFreePct:    2,
			HysteresisMargin: 2,
			ImminentSeconds:  60,
			TargetFreePct:    20,
		},
		Scoring: ScoringConfig{
			LocationWeight:  0.15,
			NameWeight:      0.30,
			AgeWeight:       0.20,
			SizeWeight:      0.20,
			StructureWeight: 0.15,
			KeepThreshold:   0.35,
			DeleteThreshold: 0.70,
		},
		Scanner: ScannerConfig{
			MaxDepth:          12,
			MinFileAgeMinutes: 10,
			Parallelism:       8,
			CrossDevices:      false,
			FollowSymlinks:    false,
		},
		Ballast: BallastConfig{
			Dir:                      "/var/lib/sbhd/ballast",
			FileCount:                8,
			FileSizeBytes:            256 << 20,
			ReplenishCooldownMinutes: 10,
			AutoProvision:            true,
		},
		Policy: PolicyConfig{
			InitialMode:              "Observe",
			MaxCanaryDeletesPerHour:  3,
			MaxEnforceDeletesPerHour: 50,
			CalibrationBreachWindows: 2,
			RecoveryCleanWindows:     3,
		},
		Guardrail: GuardrailConfig{
			WindowSize:              20,
			MinObservations:         5,
			ErrMax:                  0.5,
			ConservativeFractionMin: 0.6,
			EProcessThreshold:       20,
			RecoveryCleanWindows:    3,
		},
	}
}

// Path returns $XDG_CONFIG_HOME/sbhd/config.toml (or ~/.config/...).
// Returns empty string if the home directory cannot be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sbhd", "config.toml")
}

// Load reads config from disk, falling back to defaults for any
// section absent from the file (and entirely to Default() if the file
// itself is missing). A parse error is logged and defaults are used,
// matching the teacher's load-tolerant-of-missing/bad-config style.
func Load(path string) Config {
	cfg := Default()
	if path == "" {
		path = Path()
	}
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		log.Printf("sbhd: warning: config parse error: %v", err)
		return Default()
	}
	return cfg
}

// Save writes cfg to path atomically, creating parent directories as
// needed.
func Save(cfg Config, path string) error {
	if path == "" {
		path = Path()
	}
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return util.WriteFileAtomic(path, data, 0o600)
}
