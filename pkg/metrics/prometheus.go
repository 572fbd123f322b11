// Package metrics provides Prometheus metrics for the carnet service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the carnet service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Record store metrics
	storeRecords       *prometheus.GaugeVec
	storeSchemaVersion prometheus.Gauge
	storeOpLatency     prometheus.Histogram
	storeErrors        *prometheus.CounterVec

	// Promotion metrics
	promotions      prometheus.Counter
	promotionErrors prometheus.Counter

	// Export/import metrics
	exports         prometheus.Counter
	imports         prometheus.Counter
	importsRejected prometheus.Counter

	// Event bus metrics
	eventsPublished *prometheus.CounterVec
	busSubscribers  prometheus.Gauge

	// Sweeper metrics
	sweepRuns         prometheus.Counter
	tempPhotosExpired prometheus.Counter
	duplicatePhotos   prometheus.Counter

	// Scale gauges
	studentsTotal    prometheus.Gauge
	tempPhotosStaged prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "carnet",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	m.storeRecords = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_records",
			Help:      "Current number of records per store collection",
		},
		[]string{"collection"},
	)

	m.storeSchemaVersion = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_schema_version",
		Help:      "Current schema version of the local record store",
	})

	m.storeOpLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_op_latency_milliseconds",
		Help:      "Record store operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.storeErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_errors_total",
			Help:      "Total number of record store errors by kind",
		},
		[]string{"kind"},
	)

	m.promotions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "promotions_total",
		Help:      "Total number of staged photos promoted into a skill entry",
	})

	m.promotionErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "promotion_errors_total",
		Help:      "Total number of failed promotion attempts",
	})

	m.exports = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "exports_total",
		Help:      "Total number of carnet export documents produced",
	})

	m.imports = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "imports_total",
		Help:      "Total number of carnet documents imported",
	})

	m.importsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "imports_rejected_total",
		Help:      "Total number of import documents rejected as malformed",
	})

	m.eventsPublished = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_published_total",
			Help:      "Total number of notifications published by topic",
		},
		[]string{"topic"},
	)

	m.busSubscribers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "bus_subscribers",
		Help:      "Current number of registered bus subscribers",
	})

	m.sweepRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweep_runs_total",
		Help:      "Total number of staged-photo sweep passes",
	})

	m.tempPhotosExpired = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "temp_photos_expired_total",
		Help:      "Total number of staged photos deleted by the age sweep",
	})

	m.duplicatePhotos = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "duplicate_photos_detected_total",
		Help:      "Total number of staged photos also found in a skill entry (interrupted promotions)",
	})

	m.studentsTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "students_total",
		Help:      "Total number of students tracked",
	})

	m.tempPhotosStaged = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "temp_photos_staged",
		Help:      "Current number of photos waiting in the staging area",
	})
}

// Package-level helpers over the global manager.

func UpdateStoreRecords(collection string, count int) {
	globalManager.storeRecords.WithLabelValues(collection).Set(float64(count))
}

func UpdateStoreSchemaVersion(version int) {
	globalManager.storeSchemaVersion.Set(float64(version))
}

func RecordStoreOpLatency(latencyMs float64) {
	globalManager.storeOpLatency.Observe(latencyMs)
}

func RecordStoreError(kind string) {
	globalManager.storeErrors.WithLabelValues(kind).Inc()
}

func RecordPromotion() {
	globalManager.promotions.Inc()
}

func RecordPromotionError() {
	globalManager.promotionErrors.Inc()
}

func RecordExport() {
	globalManager.exports.Inc()
}

func RecordImport() {
	globalManager.imports.Inc()
}

func RecordImportRejected() {
	globalManager.importsRejected.Inc()
}

func RecordEventPublished(topic string) {
	globalManager.eventsPublished.WithLabelValues(topic).Inc()
}

func UpdateBusSubscribers(count int) {
	globalManager.busSubscribers.Set(float64(count))
}

func RecordSweepRun() {
	globalManager.sweepRuns.Inc()
}

func RecordTempPhotoExpired() {
	globalManager.tempPhotosExpired.Inc()
}

func RecordDuplicatePhotoDetected() {
	globalManager.duplicatePhotos.Inc()
}

func UpdateStudentsTotal(count int) {
	globalManager.studentsTotal.Set(float64(count))
}

func UpdateTempPhotosStaged(count int) {
	globalManager.tempPhotosStaged.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
