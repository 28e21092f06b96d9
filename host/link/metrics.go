package link

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atcomm",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames written to the port.",
		},
		[]string{"local", "kind"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atcomm",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Complete frames read from the port, by validation result.",
		},
		[]string{"local", "result"},
	)
	bytesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atcomm",
			Subsystem: "link",
			Name:      "discarded_bytes_total",
			Help:      "Bytes skipped while searching for a frame header.",
		},
		[]string{"local"},
	)
	ackWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atcomm",
			Subsystem: "link",
			Name:      "ack_wait_seconds",
			Help:      "Time from sending an ack-requesting frame to its outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"local", "outcome"},
	)
)

// RegisterMetrics registers the link collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesSent, framesReceived, bytesDiscarded, ackWait)
	})
}

func recordFrameSent(local byte, kind string) {
	RegisterMetrics()
	framesSent.WithLabelValues(idLabel(local), kind).Inc()
}

func recordFrameReceived(local byte, result string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(idLabel(local), result).Inc()
}

func recordDiscarded(local byte, n int) {
	RegisterMetrics()
	bytesDiscarded.WithLabelValues(idLabel(local)).Add(float64(n))
}

func recordAckWait(local byte, outcome string, d time.Duration) {
	RegisterMetrics()
	ackWait.WithLabelValues(idLabel(local), outcome).Observe(d.Seconds())
}

func idLabel(id byte) string {
	return strconv.Itoa(int(id))
}
