package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/rovercam/internal/events"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/metrics"
)

// Defaults for Options.
const (
	DefaultSettle        = 2 * time.Second
	DefaultRetryInterval = 5 * time.Second
)

// Port is an open link. serial.Port satisfies it.
type Port interface {
	io.Writer
	io.Closer
}

// inputResetter is implemented by ports that can discard buffered input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Opener opens a Port.
type Opener interface {
	Open(device string, baud int) (Port, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(device string, baud int) (Port, error)

// Open calls f.
func (f OpenerFunc) Open(device string, baud int) (Port, error) { return f(device, baud) }

// EventPublisher is the subset of the event bus the channel uses.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Options configures a Channel.
type Options struct {
	Device        string
	BaudRate      int
	Settle        time.Duration
	RetryInterval time.Duration
	Opener        Opener
	Events        EventPublisher // optional
}

// Ack confirms that a command line was written. Nothing is read back.
type Ack struct {
	Seq   uint64
	Bytes int
}

// ChannelStatus is a point-in-time view of the link.
type ChannelStatus struct {
	Device    string    `json:"device" example:"/dev/ttyACM0" doc:"Serial device"`
	Connected bool      `json:"connected" doc:"Whether the link is open"`
	Since     time.Time `json:"since" doc:"When the link last opened or closed"`
	LastError string    `json:"last_error,omitempty" doc:"Most recent open or write error"`
	Sent      uint64    `json:"sent" doc:"Commands written since start"`
}

// Channel writes newline-delimited JSON commands to a serial link. All
// writes are serialized by one mutex and each line is one Write call.
type Channel struct {
	device        string
	baud          int
	settle        time.Duration
	retryInterval time.Duration
	opener        Opener
	events        EventPublisher
	logger        *slog.Logger

	nudge     chan struct{}
	connectMu sync.Mutex

	// mu guards the port and serializes writes.
	mu      sync.Mutex
	port    Port
	seq     uint64
	since   time.Time
	lastErr string
	closed  bool
}

// New creates a disconnected channel. Call Connect or Run to open the link.
func New(opts Options) *Channel {
	if opts.Device == "" {
		opts.Device = DefaultDevice()
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Opener == nil {
		opts.Opener = SerialOpener{}
	}
	return &Channel{
		device:        opts.Device,
		baud:          opts.BaudRate,
		settle:        opts.Settle,
		retryInterval: opts.RetryInterval,
		opener:        opts.Opener,
		events:        opts.Events,
		logger:        logging.GetLogger("link"),
		nudge:         make(chan struct{}, 1),
		since:         time.Now(),
	}
}

// Device returns the configured device path.
func (c *Channel) Device() string { return c.device }

// Encode validates that payload is a JSON object and returns it as one
// compact line ending in a single newline.
func Encode(payload []byte) ([]byte, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedCommand)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	if buf.Bytes()[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedCommand)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Send writes payload as one line. route labels metrics and events. With no
// open link the error wraps ErrLinkUnavailable; a failed or short write
// closes the link.
func (c *Channel) Send(route string, payload []byte) (Ack, error) {
	line, err := Encode(payload)
	if err != nil {
		metrics.IncCommands(route, "malformed")
		return Ack{}, err
	}

	c.mu.Lock()
	if c.port == nil {
		c.mu.Unlock()
		metrics.IncCommands(route, "unavailable")
		c.publishCommand(route, 0, len(line), false)
		return Ack{}, fmt.Errorf("%w: %s", ErrLinkUnavailable, c.device)
	}

	c.seq++
	seq := c.seq
	start := time.Now()
	n, err := c.port.Write(line)
	metrics.ObserveLinkWrite(time.Since(start).Seconds())
	if err == nil && n != len(line) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(line))
	}
	if err != nil {
		c.dropLocked(err)
		c.mu.Unlock()
		metrics.IncCommands(route, "unavailable")
		c.publishCommand(route, seq, len(line), false)
		return Ack{Seq: seq}, fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}
	c.mu.Unlock()

	metrics.IncCommands(route, "sent")
	c.publishCommand(route, seq, n, true)
	c.logger.Debug("Command sent", "route", route, "seq", seq, "bytes", n)
	return Ack{Seq: seq, Bytes: n}, nil
}

// Connect makes one attempt to open the link. It is a no-op when the link
// is already open.
func (c *Channel) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.port != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	port, err := c.opener.Open(c.device, c.baud)
	if err != nil {
		c.setLastError(err)
		return fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}

	// The microcontroller resets when the port opens; give it time to boot.
	if c.settle > 0 {
		t := time.NewTimer(c.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = port.Close()
			return ctx.Err()
		case <-t.C:
		}
	}
	if r, ok := port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			c.logger.Debug("Input buffer reset failed", "error", err)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = port.Close()
		return ErrClosed
	}
	c.port = port
	c.since = time.Now()
	c.lastErr = ""
	c.mu.Unlock()

	c.logger.Info("Serial link connected", "device", c.device, "baud", c.baud)
	metrics.SetLinkConnected(true)
	c.publishState(true, "")
	return nil
}

// Run keeps the link open until ctx ends: it retries every retry interval,
// or immediately after Nudge.
func (c *Channel) Run(ctx context.Context) {
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	attempt := func() {
		if c.Connected() {
			return
		}
		if err := c.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			c.logger.Debug("Serial link not available", "device", c.device, "error", err)
		}
	}

	attempt()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attempt()
		case <-c.nudge:
			attempt()
		}
	}
}

// Nudge asks Run to retry now, for example when a tty device appears.
func (c *Channel) Nudge() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Connected reports whether the link is open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Status returns a snapshot for the status endpoint.
func (c *Channel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelStatus{
		Device:    c.device,
		Connected: c.port != nil,
		Since:     c.since,
		LastError: c.lastErr,
		Sent:      c.seq,
	}
}

// Close closes the link. Later Connect calls fail with ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	port := c.port
	c.port = nil
	c.mu.Unlock()

	if port == nil {
		return nil
	}
	metrics.SetLinkConnected(false)
	c.publishState(false, "")
	c.logger.Info("Serial link closed", "device", c.device)
	return port.Close()
}

// dropLocked closes the port after a write error. Caller holds c.mu.
func (c *Channel) dropLocked(err error) {
	_ = c.port.Close()
	c.port = nil
	c.since = time.Now()
	c.lastErr = err.Error()

	c.logger.Warn("Serial link lost", "device", c.device, "error", err)
	metrics.SetLinkConnected(false)
	c.publishState(false, err.Error())
}

func (c *Channel) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *Channel) publishState(connected bool, errText string) {
	if c.events == nil {
		return
	}
	c.events.Publish(events.LinkStateChangedEvent{
		Device:    c.device,
		Connected: connected,
		Error:     errText,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (c *Channel) publishCommand(route string, seq uint64, n int, delivered bool) {
	if c.events == nil {
		return
	}
	c.events.Publish(events.CommandSentEvent{
		Seq:       seq,
		Route:     route,
		Bytes:     n,
		Delivered: delivered,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
