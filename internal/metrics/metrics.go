package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Indexing metrics
	FilesIndexedTotal   *prometheus.CounterVec
	IndexDurationSecond *prometheus.HistogramVec
	CommentsIndexed     prometheus.Counter
	PicturesIndexed     *prometheus.CounterVec

	// Blob store metrics
	BlobPutsTotal    *prometheus.CounterVec
	BlobSpilledBytes prometheus.Counter
	BlobsPrunedTotal prometheus.Counter
	BlobReadsTotal   *prometheus.CounterVec

	// Rewrite metrics
	RewritesTotal *prometheus.CounterVec

	// Metadata metrics
	MetadataDriftTotal prometheus.Counter

	// Scan metrics
	ScanInFlight prometheus.Gauge

	// Capacity metrics
	DiskUsedPercent *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance registered with reg. A nil reg
// registers nothing, which keeps tests independent of each other.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Indexing metrics
		FilesIndexedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicmaid_files_indexed_total",
				Help: "Total number of index passes by outcome",
			},
			[]string{"reason"},
		),
		IndexDurationSecond: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musicmaid_index_duration_seconds",
				Help:    "Duration of a single file index pass in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"status"},
		),
		CommentsIndexed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "musicmaid_comments_indexed_total",
				Help: "Total number of comment entries indexed",
			},
		),
		PicturesIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicmaid_pictures_indexed_total",
				Help: "Total number of pictures indexed by origin",
			},
			[]string{"origin"},
		),

		// Blob store metrics
		BlobPutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicmaid_blob_puts_total",
				Help: "Blob puts by result (stored or deduplicated)",
			},
			[]string{"result"},
		),
		BlobSpilledBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "musicmaid_blob_spilled_bytes_total",
				Help: "Uncompressed bytes written to spill files",
			},
		),
		BlobsPrunedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "musicmaid_blobs_pruned_total",
				Help: "Total number of unreferenced blobs removed",
			},
		),
		BlobReadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicmaid_blob_reads_total",
				Help: "Blob reads by result",
			},
			[]string{"result"},
		),

		// Rewrite metrics
		RewritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicmaid_rewrites_total",
				Help: "Comment block rewrites by mode",
			},
			[]string{"mode"},
		),

		// Metadata metrics
		MetadataDriftTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "musicmaid_metadata_drift_total",
				Help: "Comment rows whose position moved between index passes",
			},
		),

		ScanInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "musicmaid_scan_files_in_flight",
				Help: "Files currently being indexed by the scanner",
			},
		),

		DiskUsedPercent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "musicmaid_disk_used_percent",
				Help: "Used space of the volume holding a rewritten file",
			},
			[]string{"path"},
		),
	}
}

// Discard returns metrics that are not registered anywhere
func Discard() *Metrics {
	return NewMetrics(nil)
}
