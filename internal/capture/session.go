package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/metrics"
)

// Session end reasons.
const (
	ReasonThreshold    = "failure threshold reached"
	ReasonBackendError = "backend error"
	ReasonStopped      = "stopped"
)

// Tuning holds the timing and threshold parameters of capture.
type Tuning struct {
	FailureThreshold    int           `json:"failure_threshold"`
	WarmupReads         int           `json:"warmup_reads"`
	WarmupDelay         time.Duration `json:"warmup_delay"`
	FramePacing         time.Duration `json:"frame_pacing"`
	SettleDelay         time.Duration `json:"settle_delay"`
	Backoff             time.Duration `json:"backoff"`
	DrainPause          time.Duration `json:"drain_pause"`
	PlaceholderInterval time.Duration `json:"placeholder_interval"`
}

// DefaultTuning returns the stock capture parameters.
func DefaultTuning() Tuning {
	return Tuning{
		FailureThreshold:    5,
		WarmupReads:         5,
		WarmupDelay:         100 * time.Millisecond,
		FramePacing:         20 * time.Millisecond,
		SettleDelay:         200 * time.Millisecond,
		Backoff:             2 * time.Second,
		DrainPause:          time.Second,
		PlaceholderInterval: 500 * time.Millisecond,
	}
}

// normalized replaces values that would stall or spin the supervisor.
func (t Tuning) normalized() Tuning {
	def := DefaultTuning()
	if t.FailureThreshold < 1 {
		t.FailureThreshold = def.FailureThreshold
	}
	if t.WarmupReads < 0 {
		t.WarmupReads = 0
	}
	if t.Backoff <= 0 {
		t.Backoff = def.Backoff
	}
	if t.PlaceholderInterval <= 0 {
		t.PlaceholderInterval = def.PlaceholderInterval
	}
	return t
}

// Outcome describes why a session ended.
type Outcome struct {
	Reason   string
	Err      error
	Frames   uint64
	Failures int
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Reason, o.Err)
	}
	return o.Reason
}

// Session drives one open handle until it is exhausted or ctx ends.
type Session struct {
	handle  Handle
	source  string
	hints   Hints
	tuning  Tuning
	encoder Encoder
	logger  *slog.Logger
}

// NewSession takes ownership of handle. The handle is closed when Run returns.
func NewSession(handle Handle, source string, hints Hints, tuning Tuning, encoder Encoder) *Session {
	return &Session{
		handle:  handle,
		source:  source,
		hints:   hints,
		tuning:  tuning.normalized(),
		encoder: encoder,
		logger:  logging.GetLogger("capture").With("source", source),
	}
}

// Run warms the handle up, then reads, encodes and emits frames. emit is
// called synchronously from the reading goroutine.
func (s *Session) Run(ctx context.Context, emit func(Frame)) Outcome {
	defer s.handle.Close()

	s.configure()

	if err := s.warmUp(ctx); err != nil {
		if ctx.Err() != nil {
			return Outcome{Reason: ReasonStopped}
		}
		return Outcome{Reason: ReasonBackendError, Err: err}
	}

	var frames uint64
	failures := 0

	for {
		if ctx.Err() != nil {
			return Outcome{Reason: ReasonStopped, Frames: frames}
		}

		raw, err := s.handle.Read()
		switch {
		case err == nil:
			failures = 0
			data, encErr := s.encoder.Encode(raw)
			if encErr != nil {
				metrics.IncEncodeFailures(s.source)
				s.logger.Debug("Skipping frame", "error", encErr)
				break
			}
			frames++
			metrics.IncFrames(s.source)
			captured := raw.CapturedAt
			if captured.IsZero() {
				captured = time.Now()
			}
			emit(Frame{JPEG: data, CapturedAt: captured, Source: s.source})

		case errors.Is(err, ErrReadFailure):
			failures++
			metrics.IncReadFailures(s.source)
			s.logger.Debug("Read failed", "consecutive", failures, "error", err)
			if failures >= s.tuning.FailureThreshold {
				s.logger.Warn("Failure threshold reached", "failures", failures)
				return Outcome{Reason: ReasonThreshold, Err: err, Frames: frames, Failures: failures}
			}

		default:
			s.logger.Warn("Backend error", "error", err)
			return Outcome{Reason: ReasonBackendError, Err: err, Frames: frames, Failures: failures}
		}

		if !sleepCtx(ctx, s.tuning.FramePacing) {
			return Outcome{Reason: ReasonStopped, Frames: frames}
		}
	}
}

// configure applies capture hints. Failures are logged only.
func (s *Session) configure() {
	c, ok := s.handle.(Configurer)
	if !ok {
		return
	}
	if err := c.Configure(s.hints); err != nil {
		s.logger.Info("Capture hints not applied", "width", s.hints.Width, "height", s.hints.Height, "fps", s.hints.FPS, "error", err)
	}
}

// warmUp discards the first frames; read misses are not counted.
func (s *Session) warmUp(ctx context.Context) error {
	for i := 0; i < s.tuning.WarmupReads; i++ {
		if _, err := s.handle.Read(); err != nil && !errors.Is(err, ErrReadFailure) {
			return err
		}
		if !sleepCtx(ctx, s.tuning.WarmupDelay) {
			return ctx.Err()
		}
	}
	return nil
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
