package main

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sekz/welle.io/dab/announcement"
)

// PrometheusMetrics holds all Prometheus metric collectors for the
// announcement subsystem and the host
type PrometheusMetrics struct {
	// FIC feed metrics
	fibsTotal             prometheus.Counter     // FIBs received from the demod
	fibCRCErrors          prometheus.Counter     // FIBs dropped on CRC
	figRecordsTotal       *prometheus.CounterVec // decoded announcement records (by fig: 0/18, 0/19)
	malformedRecordsTotal prometheus.Counter     // records dropped by the parsers

	// Announcement lifecycle metrics (event driven)
	switchesTotal    prometheus.Counter   // announcements switched to
	preemptionsTotal prometheus.Counter   // in-place higher-priority switches
	endedTotal       *prometheus.CounterVec // completed announcements (by type)
	durationSeconds  prometheus.Histogram // completed announcement durations

	// Announcement state metrics (sampled)
	machineState   prometheus.Gauge // current state (0=Idle .. 5=Restoring)
	activeClusters prometheus.Gauge // clusters with a running announcement
	historySize    prometheus.Gauge // history entries held
	elapsedSeconds prometheus.Gauge // current announcement elapsed time
	supported      prometheus.Gauge // 1 when any ensemble service signals support
	ignoredTotal   prometheus.Gauge // coordinator ignore decisions
	timeoutsTotal  prometheus.Gauge // forced returns on max duration

	// System metrics
	cpuPercent prometheus.Gauge
	memPercent prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		fibsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wellego_fic_fibs_total",
			Help: "Total FIBs received from the demodulator",
		}),
		fibCRCErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wellego_fic_fib_crc_errors_total",
			Help: "Total FIBs dropped due to CRC mismatch",
		}),
		figRecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wellego_fic_fig_records_total",
			Help: "Total announcement FIG records decoded",
		}, []string{"fig"}),
		malformedRecordsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wellego_fic_malformed_records_total",
			Help: "Total malformed announcement records dropped by the parsers",
		}),
		switchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wellego_announcement_switches_total",
			Help: "Total switches to an announcement subchannel",
		}),
		preemptionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wellego_announcement_preemptions_total",
			Help: "Total in-place preemptions by a higher priority announcement",
		}),
		endedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wellego_announcement_ended_total",
			Help: "Total completed announcements",
		}, []string{"type"}),
		durationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wellego_announcement_duration_seconds",
			Help:    "Completed announcement durations",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		machineState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_announcement_state",
			Help: "Announcement state machine state (0=Idle 1=Detected 2=Switching 3=Playing 4=Ending 5=Restoring)",
		}),
		activeClusters: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_announcement_active_clusters",
			Help: "Clusters currently signalling an active announcement",
		}),
		historySize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_announcement_history_entries",
			Help: "Announcement history entries held in memory",
		}),
		elapsedSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_announcement_elapsed_seconds",
			Help: "Elapsed time of the announcement being played",
		}),
		supported: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_announcement_supported",
			Help: "Whether any service in the ensemble signals announcement support",
		}),
		ignoredTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_announcement_ignored_total",
			Help: "Announcement records evaluated and ignored",
		}),
		timeoutsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_announcement_timeouts_total",
			Help: "Announcements force-ended on the safety timeout",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_system_cpu_percent",
			Help: "Host CPU usage percentage",
		}),
		memPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wellego_system_memory_percent",
			Help: "Host memory usage percentage",
		}),
	}
}

// HandleAnnouncementEvent implements announcement.EventSink. Counter
// increments only - the sink runs under the coordinator lock and must
// not block.
func (pm *PrometheusMetrics) HandleAnnouncementEvent(ev announcement.Event) {
	switch ev.Kind {
	case announcement.EventAnnouncementStarted:
		pm.switchesTotal.Inc()
	case announcement.EventAnnouncementPreempted:
		pm.preemptionsTotal.Inc()
	case announcement.EventAnnouncementEnded:
		pm.endedTotal.WithLabelValues(ev.Entry.Type.String()).Inc()
		pm.durationSeconds.Observe(ev.Entry.Duration.Seconds())
	case announcement.EventSupportChanged:
		if ev.Supported {
			pm.supported.Set(1)
		} else {
			pm.supported.Set(0)
		}
	}
}

// StartUpdater samples coordinator and system gauges until the
// context is cancelled
func (pm *PrometheusMetrics) StartUpdater(ctx context.Context, coordinator *announcement.Coordinator) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.update(coordinator)
			}
		}
	}()
	log.Printf("Prometheus: metrics updater started")
}

func (pm *PrometheusMetrics) update(coordinator *announcement.Coordinator) {
	pm.machineState.Set(float64(coordinator.State()))
	pm.activeClusters.Set(float64(len(coordinator.ActiveAnnouncements())))
	pm.historySize.Set(float64(len(coordinator.HistorySnapshot())))
	pm.elapsedSeconds.Set(coordinator.Elapsed().Seconds())

	counters := coordinator.Counters()
	pm.ignoredTotal.Set(float64(counters.Ignored))
	pm.timeoutsTotal.Set(float64(counters.Timeouts))

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		pm.cpuPercent.Set(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		pm.memPercent.Set(vm.UsedPercent)
	}
}
