// Package observability holds the Prometheus collectors shared by the daemon.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh results.
const (
	ResultSuccess        = "success"
	ResultReauthRequired = "reauth_required"
	ResultFailed         = "failed"
)

var (
	refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procare",
		Subsystem: "coordinator",
		Name:      "refreshes_total",
		Help:      "Activity refreshes by result.",
	}, []string{"result"})

	lastSuccessGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procare",
		Subsystem: "coordinator",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful refresh per kid.",
	}, []string{"kid_id"})

	loginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procare",
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Credential exchanges with the auth endpoint by result.",
	}, []string{"result"})

	droppedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "procare",
		Subsystem: "activity",
		Name:      "dropped_records_total",
		Help:      "Raw activity records skipped because they could not be normalized.",
	})
)

func init() {
	prometheus.MustRegister(refreshTotal, lastSuccessGauge, loginTotal, droppedRecords)
}

// RecordRefresh counts a refresh outcome.
func RecordRefresh(result string) {
	refreshTotal.WithLabelValues(result).Inc()
}

// RecordRefreshSuccess updates the success watermark for a kid.
func RecordRefreshSuccess(kidID string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSuccessGauge.WithLabelValues(kidID).Set(float64(ts.Unix()))
}

// ForgetKid drops the watermark series of an unloaded kid.
func ForgetKid(kidID string) {
	lastSuccessGauge.DeleteLabelValues(kidID)
}

// RecordLogin counts a login attempt.
func RecordLogin(ok bool) {
	if ok {
		loginTotal.WithLabelValues(ResultSuccess).Inc()
		return
	}
	loginTotal.WithLabelValues(ResultFailed).Inc()
}

// RecordDropped counts records dropped during normalization.
func RecordDropped(n int) {
	if n <= 0 {
		return
	}
	droppedRecords.Add(float64(n))
}
