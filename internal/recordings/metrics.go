package recordings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "podcast",
		Subsystem: "recordings",
		Name:      "uploads_started_total",
		Help:      "Multipart uploads opened",
	})

	partsUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "podcast",
		Subsystem: "recordings",
		Name:      "parts_total",
		Help:      "Part transfers by result",
	}, []string{"result"})

	partBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "podcast",
		Subsystem: "recordings",
		Name:      "part_bytes_total",
		Help:      "Bytes accepted as upload parts",
	})

	partDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "podcast",
		Subsystem: "recordings",
		Name:      "part_duration_seconds",
		Help:      "Time to forward one part to the object store",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "podcast",
		Subsystem: "recordings",
		Name:      "finalize_total",
		Help:      "Upload completions by result",
	}, []string{"result"})

	aborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "podcast",
		Subsystem: "recordings",
		Name:      "abort_total",
		Help:      "Upload aborts by result (ok, queued, dropped)",
	}, []string{"result"})
)
