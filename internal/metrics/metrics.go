package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcomes
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeDenied    = "denied"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

type Metrics struct {
	SamplesIngested      *prometheus.CounterVec
	GeocodeFailures      prometheus.Counter
	AuditWriteFailures   prometheus.Counter
	AuditEntriesLost     prometheus.Counter
	AuditEntriesRedriven prometheus.Counter
	RetentionDeleted     prometheus.Counter
	RetentionDuration    prometheus.Histogram
	RealtimeDropped      prometheus.Counter
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// New registers all collectors on reg. Pass a throwaway prometheus.NewRegistry()
// when metrics are disabled so callers never need nil checks.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SamplesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "location_samples_ingested_total",
			Help: "Location samples received, by outcome",
		}, []string{"outcome"}),
		GeocodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "location_geocode_failures_total",
			Help: "Reverse geocoding lookups that failed; samples were stored without address",
		}),
		AuditWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "location_audit_write_failures_total",
			Help: "Audit writes that failed after retries and were spilled to the pending queue",
		}),
		AuditEntriesLost: f.NewCounter(prometheus.CounterOpts{
			Name: "location_audit_entries_lost_total",
			Help: "Audit entries that could neither be written nor spilled",
		}),
		AuditEntriesRedriven: f.NewCounter(prometheus.CounterOpts{
			Name: "location_audit_entries_redriven_total",
			Help: "Spilled audit entries later written to storage",
		}),
		RetentionDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "location_retention_samples_deleted_total",
			Help: "Location samples purged by the retention sweeper",
		}),
		RetentionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "location_retention_sweep_duration_seconds",
			Help:    "Duration of retention sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		RealtimeDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "location_realtime_events_dropped_total",
			Help: "Realtime events dropped because a subscriber buffer was full",
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ems_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ems_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func StatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
