package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace   = "nasgate"
	maxLabelLen = 64

	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// OperationsTotal counts gateway operations by name, transport and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Total gateway operations by operation, transport and outcome.",
	}, []string{"op", "transport", "outcome"})

	// OperationDuration tracks operation latency including the SSH round trip.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Gateway operation duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})

	// PolicyRejections counts exec commands refused by the allow/deny lists.
	PolicyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_rejections_total",
		Help:      "Commands rejected by the exec policy, by program.",
	}, []string{"program"})

	// SSHAuthFallback counts password retries after key authentication failed.
	SSHAuthFallback = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ssh_auth_fallback_total",
		Help:      "Password authentication retries after key auth failure, by outcome.",
	}, []string{"outcome"})

	// ReadFallback counts reads that fell back to ssh cat.
	ReadFallback = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_fallback_total",
		Help:      "Reads served by the ssh cat fallback, by outcome.",
	}, []string{"outcome"})

	// WSConnectionsActive is the number of open WebSocket sessions.
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections_active",
		Help:      "Currently open WebSocket connections.",
	})
)

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

// ObserveOperation records one finished gateway operation.
func ObserveOperation(op, transport string, started time.Time, err error) {
	op = SanitizeLabel(op)
	OperationsTotal.WithLabelValues(op, SanitizeLabel(transport), Outcome(err)).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// SanitizeLabel keeps label values short and free of spaces.
func SanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
