package streaming

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/smazurov/rovercam/internal/capture"
	"github.com/smazurov/rovercam/internal/metrics"
)

// DefaultBufferSize is the per-consumer ring capacity.
const DefaultBufferSize = 2

// ErrConsumerClosed is returned by Next once the consumer is closed.
var ErrConsumerClosed = errors.New("consumer closed")

// Hub fans frames out to consumers. Publish never blocks: each consumer
// has its own ring that drops the oldest frame when full.
type Hub struct {
	bufferSize int
	logger     *slog.Logger

	mu        sync.RWMutex
	consumers map[string]*Consumer
	latest    capture.Frame
	hasLatest bool
	stopped   bool
}

// NewHub creates a hub. bufferSize < 1 uses DefaultBufferSize.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		bufferSize: bufferSize,
		logger:     logger,
		consumers:  make(map[string]*Consumer),
	}
}

// Publish delivers f to every consumer and remembers it as the latest frame.
func (h *Hub) Publish(f capture.Frame) {
	h.mu.Lock()
	h.latest = f
	h.hasLatest = true
	consumers := make([]*Consumer, 0, len(h.consumers))
	for _, c := range h.consumers {
		consumers = append(consumers, c)
	}
	h.mu.Unlock()

	for _, c := range consumers {
		if c.push(f) {
			metrics.IncDroppedFrames()
		}
	}
}

// Subscribe registers a new consumer. It only sees frames published after
// this call. Subscribing to a stopped hub returns a closed consumer.
func (h *Hub) Subscribe() *Consumer {
	c := &Consumer{
		id:     uuid.NewString(),
		hub:    h,
		ring:   make([]capture.Frame, 0, h.bufferSize),
		size:   h.bufferSize,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		c.closeLocal()
		return c
	}
	h.consumers[c.id] = c
	n := len(h.consumers)
	h.mu.Unlock()

	metrics.SetConsumers(n)
	h.logger.Debug("Consumer subscribed", "consumer_id", c.id, "consumers", n)
	return c
}

func (h *Hub) remove(c *Consumer) {
	h.mu.Lock()
	if _, ok := h.consumers[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.consumers, c.id)
	n := len(h.consumers)
	h.mu.Unlock()

	metrics.SetConsumers(n)
	h.logger.Debug("Consumer removed", "consumer_id", c.id, "consumers", n, "dropped", c.Dropped())
}

// Latest returns the most recently published frame, if any.
func (h *Hub) Latest() (capture.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.hasLatest
}

// Count returns the number of active consumers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.consumers)
}

// Stop closes every consumer. Later subscriptions are closed immediately.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	consumers := h.consumers
	h.consumers = make(map[string]*Consumer)
	h.mu.Unlock()

	for _, c := range consumers {
		c.closeLocal()
	}
	metrics.SetConsumers(0)
	h.logger.Info("Stream hub stopped", "consumers", len(consumers))
}

// Consumer is one subscriber's view of the frame sequence.
type Consumer struct {
	id  string
	hub *Hub

	mu      sync.Mutex
	ring    []capture.Frame
	size    int
	dropped uint64
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// ID returns the consumer's unique id.
func (c *Consumer) ID() string { return c.id }

// push appends f, evicting the oldest frame when the ring is full. It
// reports whether a frame was dropped.
func (c *Consumer) push(f capture.Frame) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	dropped := false
	if len(c.ring) == c.size {
		copy(c.ring, c.ring[1:])
		c.ring = c.ring[:len(c.ring)-1]
		c.dropped++
		dropped = true
	}
	c.ring = append(c.ring, f)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Next blocks until a frame is available, ctx ends or the consumer is closed.
// Frames are returned in publish order.
func (c *Consumer) Next(ctx context.Context) (capture.Frame, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return capture.Frame{}, ErrConsumerClosed
		}
		if len(c.ring) > 0 {
			f := c.ring[0]
			copy(c.ring, c.ring[1:])
			c.ring = c.ring[:len(c.ring)-1]
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return capture.Frame{}, ctx.Err()
		case <-c.done:
			return capture.Frame{}, ErrConsumerClosed
		case <-c.notify:
		}
	}
}

// Dropped returns how many frames were evicted from this consumer's ring.
func (c *Consumer) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close unsubscribes the consumer. It is idempotent.
func (c *Consumer) Close() {
	c.hub.remove(c)
	c.closeLocal()
}

func (c *Consumer) closeLocal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.ring = nil
	close(c.done)
}
