// Package metrics は生成ジョブの Prometheus 指標を収集します。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 指標収集器。nil の Collector は何も記録しません。
type Collector struct {
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	pollsTotal    *prometheus.CounterVec
	submitRetries *prometheus.CounterVec
	unknownStatus *prometheus.CounterVec
	inflightJobs  *prometheus.GaugeVec
}

// NewCollector は reg に指標を登録します。reg が nil なら既定のレジストリを使います。
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of generation jobs by outcome",
			},
			[]string{"family", "model", "outcome"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock duration of a generation job from submission to result",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 450},
			},
			[]string{"family", "model"},
		),
		pollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Total number of status polls by classified result",
			},
			[]string{"family", "result"},
		),
		submitRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submit_retries_total",
				Help:      "Total number of retried job submissions by error kind",
			},
			[]string{"family", "kind"},
		),
		unknownStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_status_total",
				Help:      "Provider status strings that were not recognised",
			},
			[]string{"status"},
		),
		inflightJobs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_jobs",
				Help:      "Number of jobs currently submitted or polling",
			},
			[]string{"family"},
		),
	}
}

// RecordJob は 1 ジョブの結果を記録します。outcome は "success" またはエラー種別です。
func (c *Collector) RecordJob(family, model, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(family, model, outcome).Inc()
	if duration > 0 {
		c.jobDuration.WithLabelValues(family, model).Observe(duration.Seconds())
	}
}

// RecordPoll は 1 回のポーリング結果 (Pending/Ready/... または http_<code>) を数えます。
func (c *Collector) RecordPoll(family, result string) {
	if c == nil {
		return
	}
	c.pollsTotal.WithLabelValues(family, result).Inc()
}

// RecordPollHTTPStatus records a non-200 poll response.
func (c *Collector) RecordPollHTTPStatus(family string, code int) {
	c.RecordPoll(family, "http_"+strconv.Itoa(code))
}

// RecordSubmitRetry counts a submission that will be retried.
func (c *Collector) RecordSubmitRetry(family, kind string) {
	if c == nil {
		return
	}
	c.submitRetries.WithLabelValues(family, kind).Inc()
}

// RecordUnknownStatus counts an unrecognised provider status.
func (c *Collector) RecordUnknownStatus(status string) {
	if c == nil {
		return
	}
	if status == "" {
		status = "(empty)"
	}
	c.unknownStatus.WithLabelValues(status).Inc()
}

// JobStarted increments the in-flight gauge and returns its decrement.
func (c *Collector) JobStarted(family string) func() {
	if c == nil {
		return func() {}
	}
	g := c.inflightJobs.WithLabelValues(family)
	g.Inc()
	return g.Dec
}
