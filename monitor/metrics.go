package monitor

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joyshmitz/sbh/model"
)

// Exporter publishes a DaemonState snapshot as Prometheus gauges and
// counters on its own registry. Grounded on 99souls-ariadne's
// telemetry/metrics/prometheus.go registry-and-handler setup,
// simplified here to the fixed metric set the daemon reports rather
// than ariadne's generic dynamic-metric Provider abstraction — the
// self-monitor's metric set is closed and known in advance.
type Exporter struct {
	reg *prom.Registry

	uptime       prom.Gauge
	bytesFreed   prom.Counter
	deletions    prom.Counter
	scans        prom.Counter
	errors       prom.Counter
	droppedLogs  prom.Counter
	ballastAvail prom.Gauge
	ballastTotal prom.Gauge
	ballastRel   prom.Gauge
	mountFreePct *prom.GaugeVec
	mountLevel   *prom.GaugeVec
	mountRate    *prom.GaugeVec

	handler http.Handler

	// last-seen cumulative values, used to derive the delta applied to
	// each monotonic Prometheus counter on each Export call.
	lastBytesFreed   float64
	lastDeletions    float64
	lastScans        float64
	lastErrors       float64
	lastDroppedLogs  float64
}

// levelValue maps a PressureLevel string to a monotonically increasing
// severity number so a single gauge can chart it over time.
var levelValue = map[string]float64{
	"Green":    0,
	"Yellow":   1,
	"Orange":   2,
	"Red":      3,
	"Critical": 4,
}

// NewExporter constructs an Exporter with its own registry.
func NewExporter() *Exporter {
	reg := prom.NewRegistry()
	e := &Exporter{
		reg: reg,
		uptime: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sbhd", Name: "uptime_seconds", Help: "seconds since the daemon started",
		}),
		bytesFreed: prom.NewCounter(prom.CounterOpts{
			Namespace: "sbhd", Name: "bytes_freed_total", Help: "cumulative bytes freed by deletions and ballast releases",
		}),
		deletions: prom.NewCounter(prom.CounterOpts{
			Namespace: "sbhd", Name: "deletions_total", Help: "cumulative count of files removed",
		}),
		scans: prom.NewCounter(prom.CounterOpts{
			Namespace: "sbhd", Name: "scans_total", Help: "cumulative count of completed scan cycles",
		}),
		errors: prom.NewCounter(prom.CounterOpts{
			Namespace: "sbhd", Name: "errors_total", Help: "cumulative count of recoverable errors",
		}),
		droppedLogs: prom.NewCounter(prom.CounterOpts{
			Namespace: "sbhd", Name: "dropped_log_events_total", Help: "cumulative count of audit log writes that were dropped",
		}),
		ballastAvail: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sbhd", Subsystem: "ballast", Name: "available", Help: "ballast files currently available",
		}),
		ballastTotal: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sbhd", Subsystem: "ballast", Name: "total", Help: "ballast files currently tracked",
		}),
		ballastRel: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sbhd", Subsystem: "ballast", Name: "released", Help: "ballast files currently released",
		}),
		mountFreePct: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "sbhd", Subsystem: "mount", Name: "free_pct", Help: "free space percentage per mount",
		}, []string{"mount"}),
		mountLevel: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "sbhd", Subsystem: "mount", Name: "pressure_level", Help: "pressure level per mount (0=Green .. 4=Critical)",
		}, []string{"mount"}),
		mountRate: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "sbhd", Subsystem: "mount", Name: "fill_rate_bps", Help: "estimated fill rate in bytes/sec per mount",
		}, []string{"mount"}),
	}
	reg.MustRegister(e.uptime, e.bytesFreed, e.deletions, e.scans, e.errors,
		e.droppedLogs, e.ballastAvail, e.ballastTotal, e.ballastRel,
		e.mountFreePct, e.mountLevel, e.mountRate)
	e.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return e
}

// Handler returns the HTTP handler serving /metrics.
func (e *Exporter) Handler() http.Handler { return e.handler }

// Export overwrites the exporter's gauges from state and advances its
// monotonic counters by the delta since the previous export (Counters
// in DaemonState are cumulative already; Prometheus counters only ever
// increase, so Export tracks the last-seen cumulative value itself).
func (e *Exporter) Export(state model.DaemonState) {
	e.uptime.Set(state.UptimeSeconds)

	e.addDelta(e.bytesFreed, &e.lastBytesFreed, float64(state.Counters.BytesFreed))
	e.addDelta(e.deletions, &e.lastDeletions, float64(state.Counters.Deletions))
	e.addDelta(e.scans, &e.lastScans, float64(state.Counters.Scans))
	e.addDelta(e.errors, &e.lastErrors, float64(state.Counters.Errors))
	e.addDelta(e.droppedLogs, &e.lastDroppedLogs, float64(state.Counters.DroppedLogEvents))

	e.ballastAvail.Set(float64(state.Ballast.Available))
	e.ballastTotal.Set(float64(state.Ballast.Total))
	e.ballastRel.Set(float64(state.Ballast.Released))

	for _, mnt := range state.Pressure.Mounts {
		e.mountFreePct.WithLabelValues(mnt.Path).Set(mnt.FreePct)
		e.mountRate.WithLabelValues(mnt.Path).Set(mnt.RateBPS)
		if v, ok := levelValue[mnt.Level]; ok {
			e.mountLevel.WithLabelValues(mnt.Path).Set(v)
		}
	}
}

func (e *Exporter) addDelta(c prom.Counter, last *float64, cumulative float64) {
	delta := cumulative - *last
	if delta > 0 {
		c.Add(delta)
	}
	*last = cumulative
}
