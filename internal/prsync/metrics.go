package prsync

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simplesurance/prsync/internal/record"
)

const metricNamespace = "prsync"

const (
	pagesMetricName           = "pages_total"
	recordsMetricName         = "records_total"
	noProgressMetricName      = "no_progress_total"
	watermarkMetricName       = "watermark_timestamp_seconds"
	snapshotSizeMetricName    = "snapshot_pull_requests"
	lastDurationMetricName    = "last_run_duration_seconds"
	lastSuccessTimeMetricName = "last_success_timestamp_seconds"
)

const (
	repositoryLabel     = "repository"
	classificationLabel = "classification"
	stateLabel          = "state"
)

// Metrics collects prometheus metrics of synchronization runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pages           *prometheus.CounterVec
	records         *prometheus.CounterVec
	noProgress      *prometheus.CounterVec
	watermark       *prometheus.GaugeVec
	snapshotSize    *prometheus.GaugeVec
	lastDuration    *prometheus.GaugeVec
	lastSuccessTime *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	repoLabels := []string{repositoryLabel}

	return &Metrics{
		registry: reg,
		pages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      pagesMetricName,
				Help:      "count of fetched issue listing pages",
			},
			repoLabels,
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      recordsMetricName,
				Help:      "count of processed issue records by classification",
			},
			[]string{repositoryLabel, classificationLabel},
		),
		noProgress: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      noProgressMetricName,
				Help:      "count of pages that did not advance the watermark",
			},
			repoLabels,
		),
		watermark: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      watermarkMetricName,
				Help:      "watermark of the snapshot as unix timestamp",
			},
			repoLabels,
		),
		snapshotSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      snapshotSizeMetricName,
				Help:      "count of pull requests in the snapshot by state",
			},
			[]string{repositoryLabel, stateLabel},
		),
		lastDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      lastDurationMetricName,
				Help:      "duration of the last synchronization run",
			},
			repoLabels,
		),
		lastSuccessTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      lastSuccessTimeMetricName,
				Help:      "time when the last synchronization run succeeded as unix timestamp",
			},
			repoLabels,
		),
	}
}

// Registry returns the registry that contains all metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToTextfile writes the metrics in the text exposition format to path,
// as expected by the node-exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s failed: %w", path, err)
	}

	return nil
}

func repoLabelVal(owner, repo string) string {
	return fmt.Sprintf("%s/%s", owner, repo)
}

func (m *Metrics) pageFetched(repo string) {
	if m == nil {
		return
	}

	m.pages.WithLabelValues(repo).Inc()
}

func (m *Metrics) recordProcessed(repo string, tag classification) {
	if m == nil {
		return
	}

	m.records.WithLabelValues(repo, string(tag)).Inc()
}

func (m *Metrics) noProgressPage(repo string) {
	if m == nil {
		return
	}

	m.noProgress.WithLabelValues(repo).Inc()
}

func (m *Metrics) runFinished(repo string, res *Result, success bool) {
	if m == nil {
		return
	}

	m.lastDuration.WithLabelValues(repo).Set(res.Stats.EndTime.Sub(res.Stats.StartTime).Seconds())

	sizes := map[record.State]int{record.StateOpen: 0, record.StateClosed: 0}
	res.Snapshot.Foreach(func(pr *record.PullRequest) bool {
		sizes[pr.State]++
		return true
	})
	for state, cnt := range sizes {
		m.snapshotSize.WithLabelValues(repo, string(state)).Set(float64(cnt))
	}

	if !res.Snapshot.Watermark.IsZero() {
		m.watermark.WithLabelValues(repo).Set(float64(res.Snapshot.Watermark.Unix()))
	}

	if success {
		m.lastSuccessTime.WithLabelValues(repo).Set(float64(res.Stats.EndTime.Unix()))
	}
}
