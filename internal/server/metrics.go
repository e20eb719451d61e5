package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the service's Prometheus collectors.
type metrics struct {
	uploadsTotal    prometheus.Counter
	splitJobsTotal  *prometheus.CounterVec
	segmentsTotal   prometheus.Counter
	segmentFailures prometheus.Counter
	splitSeconds    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		uploadsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audiosplit_uploads_total",
			Help: "Number of accepted file uploads.",
		}),
		splitJobsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audiosplit_split_jobs_total",
			Help: "Number of split jobs by outcome.",
		}, []string{"status"}),
		segmentsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audiosplit_segments_total",
			Help: "Number of segments produced.",
		}),
		segmentFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audiosplit_segment_failures_total",
			Help: "Number of segments whose encoding ladder was exhausted.",
		}),
		splitSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "audiosplit_split_duration_seconds",
			Help:    "Wall-clock duration of split jobs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}
