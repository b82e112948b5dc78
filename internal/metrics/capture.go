// Package metrics provides Prometheus metrics for the capture pipeline, the
// stream fan-out and the command link.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rovercam"

// CameraStates lists every supervisor state exported by the state gauge.
var CameraStates = []string{"probing", "streaming", "draining", "backoff", "stopped"}

var (
	cameraState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "state",
		Help:      "1 for the current supervisor state, 0 otherwise",
	}, []string{"state"})

	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "frames_total",
		Help:      "Frames read and encoded",
	}, []string{"source"})

	readFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "read_failures_total",
		Help:      "Failed frame reads",
	}, []string{"source"})

	encodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "encode_failures_total",
		Help:      "Frames skipped because they could not be encoded",
	}, []string{"source"})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "reconnects_total",
		Help:      "Sessions torn down and re-probed",
	}, []string{"source"})

	placeholderFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "placeholder_frames_total",
		Help:      "Placeholder frames published while no camera was available",
	})

	// Local cache for the status endpoint.
	sourceCache   = make(map[string]*SourceCounters)
	sourceCacheMu sync.RWMutex
)

// SourceCounters holds the running totals for one camera source.
type SourceCounters struct {
	Frames         uint64 `json:"frames"`
	ReadFailures   uint64 `json:"read_failures"`
	EncodeFailures uint64 `json:"encode_failures"`
	Reconnects     uint64 `json:"reconnects"`
}

// SetCameraState marks state as current.
func SetCameraState(state string) {
	for _, s := range CameraStates {
		v := 0.0
		if s == state {
			v = 1
		}
		cameraState.WithLabelValues(s).Set(v)
	}
}

// IncFrames counts a captured frame for source.
func IncFrames(source string) {
	framesCaptured.WithLabelValues(source).Inc()
	updateCache(source, func(c *SourceCounters) { c.Frames++ })
}

// IncReadFailures counts a failed read for source.
func IncReadFailures(source string) {
	readFailures.WithLabelValues(source).Inc()
	updateCache(source, func(c *SourceCounters) { c.ReadFailures++ })
}

// IncEncodeFailures counts a skipped frame for source.
func IncEncodeFailures(source string) {
	encodeFailures.WithLabelValues(source).Inc()
	updateCache(source, func(c *SourceCounters) { c.EncodeFailures++ })
}

// IncReconnects counts a torn down session for source.
func IncReconnects(source string) {
	reconnects.WithLabelValues(source).Inc()
	updateCache(source, func(c *SourceCounters) { c.Reconnects++ })
}

// IncPlaceholderFrames counts a published placeholder frame.
func IncPlaceholderFrames() {
	placeholderFrames.Inc()
}

// GetSourceCounters returns a copy of the totals for source, or nil.
func GetSourceCounters(source string) *SourceCounters {
	sourceCacheMu.RLock()
	defer sourceCacheMu.RUnlock()
	if c, ok := sourceCache[source]; ok {
		dup := *c
		return &dup
	}
	return nil
}

// GetAllSourceCounters returns a copy of the totals for every source seen.
func GetAllSourceCounters() map[string]SourceCounters {
	sourceCacheMu.RLock()
	defer sourceCacheMu.RUnlock()
	result := make(map[string]SourceCounters, len(sourceCache))
	for source, c := range sourceCache {
		result[source] = *c
	}
	return result
}

// DeleteSource removes all metrics for source.
func DeleteSource(source string) {
	framesCaptured.DeleteLabelValues(source)
	readFailures.DeleteLabelValues(source)
	encodeFailures.DeleteLabelValues(source)
	reconnects.DeleteLabelValues(source)

	sourceCacheMu.Lock()
	delete(sourceCache, source)
	sourceCacheMu.Unlock()
}

func updateCache(source string, update func(*SourceCounters)) {
	sourceCacheMu.Lock()
	defer sourceCacheMu.Unlock()
	c, ok := sourceCache[source]
	if !ok {
		c = &SourceCounters{}
		sourceCache[source] = c
	}
	update(c)
}

// Handler returns the Prometheus exposition handler for all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
