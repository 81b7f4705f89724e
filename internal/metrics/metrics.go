// Package metrics exposes Prometheus instruments for deployments, backups,
// restores, webhooks and the update sweep. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registered collectors.
type Metrics struct {
	Deployments        *prometheus.CounterVec
	Backups            *prometheus.CounterVec
	Restores           *prometheus.CounterVec
	Webhooks           *prometheus.CounterVec
	RateLimitRemaining prometheus.Gauge
	SweepDuration      prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitdeploy_deployments_total",
			Help: "Deployments by artifact kind and result.",
		}, []string{"kind", "result"}),
		Backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitdeploy_backups_total",
			Help: "Backup captures by result.",
		}, []string{"result"}),
		Restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitdeploy_restores_total",
			Help: "Backup restores by result.",
		}, []string{"result"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitdeploy_webhooks_total",
			Help: "Webhook deliveries by event and outcome.",
		}, []string{"event", "status"}),
		RateLimitRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitdeploy_github_ratelimit_remaining",
			Help: "Remaining GitHub API quota from the most recent response.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gitdeploy_sweep_duration_seconds",
			Help:    "Duration of update-check sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Deployments, m.Backups, m.Restores, m.Webhooks, m.RateLimitRemaining, m.SweepDuration)
	}
	return m
}

// ObserveDeployment counts one deployment; err == nil is success.
func (m *Metrics) ObserveDeployment(kind string, err error) {
	if m == nil {
		return
	}
	m.Deployments.WithLabelValues(kind, result(err)).Inc()
}

// ObserveBackup counts one backup capture.
func (m *Metrics) ObserveBackup(err error) {
	if m == nil {
		return
	}
	m.Backups.WithLabelValues(result(err)).Inc()
}

// ObserveRestore counts one restore from a backup.
func (m *Metrics) ObserveRestore(err error) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(result(err)).Inc()
}

// ObserveWebhook counts one webhook delivery.
func (m *Metrics) ObserveWebhook(event, status string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(event, status).Inc()
}

// SetRateLimitRemaining records the latest quota header value.
func (m *Metrics) SetRateLimitRemaining(n int) {
	if m == nil {
		return
	}
	m.RateLimitRemaining.Set(float64(n))
}

// ObserveSweep records how long one sweep took.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
