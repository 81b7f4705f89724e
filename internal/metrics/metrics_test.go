package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDeployment("plugin", nil)
	m.ObserveDeployment("plugin", nil)
	m.ObserveDeployment("theme", errors.New("boom"))
	m.ObserveBackup(nil)
	m.ObserveRestore(errors.New("gone"))
	m.ObserveWebhook("push", "triggered")
	m.SetRateLimitRemaining(7)
	m.ObserveSweep(2 * time.Second)

	if got := testutil.ToFloat64(m.Deployments.WithLabelValues("plugin", "success")); got != 2 {
		t.Errorf("plugin success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Deployments.WithLabelValues("theme", "failure")); got != 1 {
		t.Errorf("theme failure = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Backups.WithLabelValues("success")); got != 1 {
		t.Errorf("backups success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Restores.WithLabelValues("failure")); got != 1 {
		t.Errorf("restores failure = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Webhooks.WithLabelValues("push", "triggered")); got != 1 {
		t.Errorf("webhooks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RateLimitRemaining); got != 7 {
		t.Errorf("rate limit = %v, want 7", got)
	}
	if n := testutil.CollectAndCount(m.SweepDuration); n != 1 {
		t.Errorf("sweep histogram series = %d, want 1", n)
	}
}

func TestNil_NoPanic(t *testing.T) {
	var m *Metrics
	m.ObserveDeployment("plugin", nil)
	m.ObserveBackup(errors.New("x"))
	m.ObserveRestore(nil)
	m.ObserveWebhook("ping", "accepted")
	m.SetRateLimitRemaining(1)
	m.ObserveSweep(time.Second)
}
