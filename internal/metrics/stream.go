package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "consumers",
		Help:      "Connected video feed clients",
	})

	streamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "dropped_frames_total",
		Help:      "Frames evicted from a full consumer buffer",
	})

	linkConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "link",
		Name:      "connected",
		Help:      "1 while the serial link is open",
	})

	linkCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "link",
		Name:      "commands_total",
		Help:      "Commands handled, by route and result",
	}, []string{"route", "result"})

	linkWriteSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "link",
		Name:      "write_seconds",
		Help:      "Time spent writing one command line",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by operation and status code",
	}, []string{"operation", "code"})
)

// SetConsumers sets the number of connected stream clients.
func SetConsumers(n int) {
	streamConsumers.Set(float64(n))
}

// IncDroppedFrames counts a frame evicted from a consumer buffer.
func IncDroppedFrames() {
	streamDropped.Inc()
}

// SetLinkConnected records whether the serial link is open.
func SetLinkConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	linkConnected.Set(v)
}

// IncCommands counts a command by route ("joystick", "run", "ws") and
// result ("sent", "unavailable", "malformed").
func IncCommands(route, result string) {
	linkCommands.WithLabelValues(route, result).Inc()
}

// ObserveLinkWrite records the duration of one link write in seconds.
func ObserveLinkWrite(seconds float64) {
	linkWriteSeconds.Observe(seconds)
}

// IncHTTPRequests counts one completed API request.
func IncHTTPRequests(operation string, code int) {
	httpRequests.WithLabelValues(operation, strconv.Itoa(code)).Inc()
}
