package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupcomm",
			Subsystem: "p2p",
			Name:      "messages_total",
			Help:      "Point-to-point messages by direction.",
		},
		[]string{"rank", "direction", "datatype"},
	)
	messageBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupcomm",
			Subsystem: "p2p",
			Name:      "bytes_total",
			Help:      "Point-to-point payload bytes by direction.",
		},
		[]string{"rank", "direction"},
	)
	collectives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupcomm",
			Subsystem: "collective",
			Name:      "calls_total",
			Help:      "Collective calls by operation and outcome.",
		},
		[]string{"rank", "op", "success"},
	)
	collectiveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groupcomm",
			Subsystem: "collective",
			Name:      "duration_seconds",
			Help:      "Collective call duration in seconds, including time blocked on peers.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rank", "op"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groupcomm",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status server HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groupcomm",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status server HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(messages, messageBytes, collectives, collectiveDuration, httpRequests, httpDuration)
	})
}

func RecordMessage(rank int, direction, datatype string, bytes int) {
	RegisterMetrics()
	rankLabel := strconv.Itoa(rank)
	messages.WithLabelValues(rankLabel, direction, datatype).Inc()
	messageBytes.WithLabelValues(rankLabel, direction).Add(float64(bytes))
}

func RecordCollective(rank int, op string, duration time.Duration, success bool) {
	RegisterMetrics()
	rankLabel := strconv.Itoa(rank)
	collectives.WithLabelValues(rankLabel, op, strconv.FormatBool(success)).Inc()
	collectiveDuration.WithLabelValues(rankLabel, op).Observe(duration.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
