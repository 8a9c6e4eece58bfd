package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds the prometheus collectors for connector runs, alerting,
// rollups, scheduler ticks and deliveries. A nil *Pipeline records nothing.
type Pipeline struct {
	ConnectorRuns     *prometheus.CounterVec
	ConnectorDuration *prometheus.HistogramVec
	RawEvents         *prometheus.CounterVec
	TriggerEvents     *prometheus.CounterVec
	AlertsWritten     *prometheus.CounterVec
	RollupsRebuilt    *prometheus.CounterVec
	TickDuration      *prometheus.HistogramVec
	LockAttempts      *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	StagedRecords     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Pipeline {
	m := &Pipeline{
		ConnectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_connector_runs_total",
			Help: "Connector runs by connector and status.",
		}, []string{"connector", "status"}),
		ConnectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triggers_connector_run_duration_seconds",
			Help:    "Duration of one connector run in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"connector"}),
		RawEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_raw_events_total",
			Help: "Raw events polled by connector; state is new or duplicate.",
		}, []string{"connector", "state"}),
		TriggerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_trigger_events_total",
			Help: "Trigger events persisted by connector.",
		}, []string{"connector"}),
		AlertsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_alerts_written_total",
			Help: "Alert upserts by alert key and whether the row was created.",
		}, []string{"alert_key", "created"}),
		RollupsRebuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_rollups_rebuilt_total",
			Help: "Parcel rollups written by county rebuilds.",
		}, []string{"county"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triggers_tick_duration_seconds",
			Help:    "Scheduler tick duration in seconds by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~200s
		}, []string{"status"}),
		LockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_lock_attempts_total",
			Help: "Scheduler lock operations by operation and result.",
		}, []string{"op", "result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_deliveries_total",
			Help: "Alert deliveries by channel and status.",
		}, []string{"channel", "status"}),
		StagedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triggers_staged_records_total",
			Help: "Scraper records loaded into staging by source.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.ConnectorRuns,
		m.ConnectorDuration,
		m.RawEvents,
		m.TriggerEvents,
		m.AlertsWritten,
		m.RollupsRebuilt,
		m.TickDuration,
		m.LockAttempts,
		m.Deliveries,
		m.StagedRecords,
	)

	return m
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Pipeline) ObserveConnectorRun(connector string, ok bool, d time.Duration, raw, fresh, triggers int) {
	if m == nil {
		return
	}
	m.ConnectorRuns.WithLabelValues(connector, status(ok)).Inc()
	m.ConnectorDuration.WithLabelValues(connector).Observe(d.Seconds())
	m.RawEvents.WithLabelValues(connector, "new").Add(float64(fresh))
	m.RawEvents.WithLabelValues(connector, "duplicate").Add(float64(raw - fresh))
	m.TriggerEvents.WithLabelValues(connector).Add(float64(triggers))
}

func (m *Pipeline) ObserveAlert(alertKey string, created bool) {
	if m == nil {
		return
	}
	c := "false"
	if created {
		c = "true"
	}
	m.AlertsWritten.WithLabelValues(alertKey, c).Inc()
}

func (m *Pipeline) ObserveRollups(county string, n int) {
	if m == nil {
		return
	}
	m.RollupsRebuilt.WithLabelValues(county).Add(float64(n))
}

func (m *Pipeline) ObserveTick(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.WithLabelValues(status(ok)).Observe(d.Seconds())
}

// ObserveLock records a lock operation; result is acquired, contended or error.
func (m *Pipeline) ObserveLock(op, result string) {
	if m == nil {
		return
	}
	m.LockAttempts.WithLabelValues(op, result).Inc()
}

func (m *Pipeline) ObserveDelivery(channel string, ok bool) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(channel, status(ok)).Inc()
}

func (m *Pipeline) ObserveStaged(source string, n int) {
	if m == nil {
		return
	}
	m.StagedRecords.WithLabelValues(source).Add(float64(n))
}
