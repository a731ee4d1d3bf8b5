// Command sbhd runs the storage-pressure control daemon in the
// foreground. Grounded on the -daemon slice of the teacher's
// cmd/root.go flag set; the TUI, doctor, diagnose, forensics, shell,
// watch, and discover modes have no equivalent here (see DESIGN.md).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joyshmitz/sbh/ballast"
	"github.com/joyshmitz/sbh/config"
	"github.com/joyshmitz/sbh/daemon"
	"github.com/joyshmitz/sbh/guardrail"
	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/monitor"
	"github.com/joyshmitz/sbh/pidctl"
	"github.com/joyshmitz/sbh/platform"
	"github.com/joyshmitz/sbh/policy"
	"github.com/joyshmitz/sbh/rate"
	"github.com/joyshmitz/sbh/scoring"
	"github.com/joyshmitz/sbh/walker"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config.toml (default: $XDG_CONFIG_HOME/sbhd/config.toml)")
		mount      = flag.String("mount", "/", "Mount point to monitor")
		scanRoot   = flag.String("scan-root", "", "Root path to scan for reclaimable artifacts (default: mount)")
		ballastDir = flag.String("ballast-dir", "", "Ballast pool directory (default: <mount>/.sbhd-ballast)")
		dataDir    = flag.String("datadir", "/var/lib/sbhd", "Directory for pidfile, logs, and state file")
		promAddr   = flag.String("prom-addr", "", "Prometheus listen address (empty disables the endpoint)")
		showVer    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println("sbhd (storage-pressure balance & hysteresis daemon)")
		return
	}

	cfg := config.Load(*configPath)

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		log.Fatalf("sbhd: create data dir: %v", err)
	}

	root := *scanRoot
	if root == "" {
		root = *mount
	}
	bdir := *ballastDir
	if bdir == "" {
		bdir = fmt.Sprintf("%s/.sbhd-ballast", *mount)
	}

	dcfg := daemon.Config{
		Mounts: []daemon.MountConfig{
			{
				Path:      *mount,
				ScanRoots: []string{root},
				Ballast: ballast.Config{
					Dir:               bdir,
					FileCount:         cfg.Ballast.FileCount,
					FileSizeBytes:     cfg.Ballast.FileSizeBytes,
					ReplenishCooldown: time.Duration(cfg.Ballast.ReplenishCooldownMinutes) * time.Minute,
				},
				RedMinFreePct: cfg.Pressure.RedMinFreePct,
			},
		},
		TickInterval:      15 * time.Second,
		PromoteEveryTicks: 4,
		PIDConfig: pidConfigFrom(cfg.Pressure),
		RateConfig: rate.DefaultConfig(),
		WalkerConfig: walker.Config{
			MaxDepth:       cfg.Scanner.MaxDepth,
			FollowSymlinks: cfg.Scanner.FollowSymlinks,
			CrossDevices:   cfg.Scanner.CrossDevices,
			Parallelism:    cfg.Scanner.Parallelism,
			ExcludedPaths:  cfg.Scanner.ExcludedPaths,
			MinFileAge:     time.Duration(cfg.Scanner.MinFileAgeMinutes) * time.Minute,
			SizeScanBudget: 5000,
		},
		ScoringConfig: scoringConfigFrom(cfg.Scoring),
		PolicyConfig: policy.Config{
			InitialMode:              parseMode(cfg.Policy.InitialMode),
			MaxCanaryDeletesPerHour:  cfg.Policy.MaxCanaryDeletesPerHour,
			MaxEnforceDeletesPerHour: cfg.Policy.MaxEnforceDeletesPerHour,
			CalibrationBreachWindows: cfg.Policy.CalibrationBreachWindows,
			RecoveryCleanWindows:     cfg.Policy.RecoveryCleanWindows,
			DegradedApprovalFraction: policy.DefaultConfig().DegradedApprovalFraction,
		},
		GuardrailConfig: guardrail.Config{
			WindowSize:              cfg.Guardrail.WindowSize,
			MinObservations:         cfg.Guardrail.MinObservations,
			ErrMax:                  cfg.Guardrail.ErrMax,
			ConservativeFractionMin: cfg.Guardrail.ConservativeFractionMin,
			EProcessThreshold:       cfg.Guardrail.EProcessThreshold,
			RecoveryCleanWindows:    cfg.Guardrail.RecoveryCleanWindows,
		},
		ProtectedPrefixes: []string{"/", "/boot", "/etc", "/proc", "/sys", "/dev"},
		PIDFilePath:        *dataDir + "/sbhd.pid",
		StateFilePath:      cfg.StateFilePath,
		DecisionLogPath:    *dataDir + "/decisions.jsonl",
		TransitionLogPath:  *dataDir + "/transitions.jsonl",
		LogMaxBytes:        10 << 20,
	}

	var exporter *monitor.Exporter
	if *promAddr != "" {
		exporter = monitor.NewExporter()
		go func() {
			log.Printf("sbhd: prometheus endpoint listening on %s", *promAddr)
			srv := &http.Server{Addr: *promAddr, Handler: exporter.Handler()}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("sbhd: prometheus server error: %v", err)
			}
		}()
	}

	d := daemon.New(dcfg, platform.New(), exporter)
	if err := d.Reconcile(); err != nil {
		log.Fatalf("sbhd: reconcile: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		log.Fatalf("sbhd: %v", err)
	}
}

// pidConfigFrom overlays the TOML-configurable band thresholds onto
// pidctl.DefaultConfig, leaving PID gains and derived-curve shapes
// (not exposed in the config format) at their documented defaults.
// config.PressureConfig's *FreePct fields are already on pidctl.Config's
// 0-100 percentage scale, so this is a direct copy, no conversion.
func pidConfigFrom(c config.PressureConfig) pidctl.Config {
	pc := pidctl.DefaultConfig()
	pc.GreenMin = c.GreenMinFreePct
	pc.YellowMin = c.YellowMinFreePct
	pc.OrangeMin = c.OrangeMinFreePct
	pc.RedMin = c.RedMinFreePct
	pc.HysteresisMargin = c.HysteresisMargin
	pc.ImminentSeconds = c.ImminentSeconds
	pc.TargetFreePct = c.TargetFreePct
	return pc
}

// scoringConfigFrom overlays the TOML-configurable weights and
// thresholds onto scoring.DefaultConfig, leaving saturation constants
// the config format doesn't expose (spec.md §6 only documents weights
// and thresholds) at their documented defaults.
func scoringConfigFrom(c config.ScoringConfig) scoring.Config {
	sc := scoring.DefaultConfig()
	sc.LocationWeight = c.LocationWeight
	sc.NameWeight = c.NameWeight
	sc.AgeWeight = c.AgeWeight
	sc.SizeWeight = c.SizeWeight
	sc.StructureWeight = c.StructureWeight
	sc.KeepThreshold = c.KeepThreshold
	sc.DeleteThreshold = c.DeleteThreshold
	return sc
}

func parseMode(s string) model.ActiveMode {
	switch s {
	case "Canary":
		return model.ModeCanary
	case "Enforce":
		return model.ModeEnforce
	case "FallbackSafe":
		return model.ModeFallbackSafe
	default:
		return model.ModeObserve
	}
}
