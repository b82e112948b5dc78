package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/rovercam/internal/events"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/metrics"
)

// State is a ReconnectSupervisor state.
type State string

// Supervisor states.
const (
	StateProbing   State = "probing"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateBackoff   State = "backoff"
	StateStopped   State = "stopped"
)

// Sink receives every frame the supervisor produces. Publish must not block.
type Sink interface {
	Publish(Frame)
}

// EventPublisher is the subset of the event bus the supervisor uses.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Options configures a Supervisor.
type Options struct {
	Sources []Descriptor
	Backend Backend
	Hints   Hints
	Tuning  Tuning
	Quality int
	Sink    Sink
	Events  EventPublisher // optional
}

// SupervisorStatus is a point-in-time view of the supervisor.
type SupervisorStatus struct {
	State      State     `json:"state" example:"streaming" doc:"Supervisor state"`
	Source     string    `json:"source,omitempty" example:"front" doc:"Active source"`
	Since      time.Time `json:"since" doc:"When the current state was entered"`
	Reconnects int       `json:"reconnects" doc:"Sessions torn down since start"`
	LastError  string    `json:"last_error,omitempty" doc:"Most recent probe or session error"`
	LastSeq    uint64    `json:"last_seq" doc:"Sequence number of the last published frame"`
	Sources    []string  `json:"sources" doc:"Configured sources in priority order"`
	Tuning     Tuning    `json:"tuning" doc:"Tuning in effect for the next probe"`
}

// Supervisor keeps a camera session running: it probes the configured
// sources in order, streams from the first ready one, and tears the session
// down and starts over when it is exhausted.
type Supervisor struct {
	sources []Descriptor
	backend Backend
	hints   Hints
	encoder Encoder
	sink    Sink
	events  EventPublisher
	logger  *slog.Logger

	placeholder []byte
	seq         atomic.Uint64
	nudge       chan struct{}

	mu         sync.RWMutex
	state      State
	source     string
	since      time.Time
	reconnects int
	lastErr    string
	tuning     Tuning
}

// NewSupervisor creates a stopped supervisor. Call Run to start it.
func NewSupervisor(opts Options) *Supervisor {
	logger := logging.GetLogger("capture")

	placeholder, err := RenderPlaceholder(opts.Quality)
	if err != nil {
		logger.Error("Failed to render placeholder frame", "error", err)
	}

	return &Supervisor{
		sources:     opts.Sources,
		backend:     opts.Backend,
		hints:       opts.Hints,
		encoder:     Encoder{Quality: opts.Quality},
		sink:        opts.Sink,
		events:      opts.Events,
		logger:      logger,
		placeholder: placeholder,
		nudge:       make(chan struct{}, 1),
		state:       StateStopped,
		since:       time.Now(),
		tuning:      opts.Tuning.normalized(),
	}
}

// Run drives the state machine until ctx is cancelled. The active handle is
// closed before Run returns.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("Capture supervisor started", "sources", len(s.sources))
	defer s.transition(StateStopped, "", "shutdown")

	reason := "start"
	for ctx.Err() == nil {
		tuning := s.currentTuning()
		s.transition(StateProbing, "", reason)

		handle, desc, err := s.probe(ctx, tuning)
		if ctx.Err() != nil {
			if handle != nil {
				_ = handle.Close()
			}
			return
		}
		if err != nil {
			s.setLastError(err)
			s.transition(StateBackoff, "", err.Error())
			if !s.backoff(ctx, tuning) {
				return
			}
			reason = "backoff elapsed"
			continue
		}

		source := desc.Name()
		s.transition(StateStreaming, source, "")
		outcome := NewSession(handle, source, s.hints, tuning, s.encoder).Run(ctx, s.publish)
		if outcome.Reason == ReasonStopped {
			return
		}

		s.setLastError(errors.New(outcome.String()))
		s.transition(StateDraining, source, outcome.String())
		_ = handle.Close()
		s.recordReconnect(source, outcome.String())

		if !sleepCtx(ctx, tuning.DrainPause) {
			return
		}
		reason = outcome.Reason
	}
}

// probe opens the first source that reports Ready after the settle delay.
func (s *Supervisor) probe(ctx context.Context, tuning Tuning) (Handle, Descriptor, error) {
	var errs []error
	for _, d := range s.sources {
		if ctx.Err() != nil {
			return nil, Descriptor{}, ctx.Err()
		}

		h, err := s.backend.Open(ctx, d, s.hints)
		if err != nil {
			s.logger.Debug("Source did not open", "source", d.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}

		if !sleepCtx(ctx, tuning.SettleDelay) {
			_ = h.Close()
			return nil, Descriptor{}, ctx.Err()
		}
		if !h.Ready() {
			_ = h.Close()
			errs = append(errs, fmt.Errorf("%s: not ready", d.Name()))
			continue
		}

		s.logger.Info("Camera opened", "source", d.Name(), "kind", d.Kind, "target", d.Target)
		return h, d, nil
	}

	if len(errs) == 0 {
		return nil, Descriptor{}, fmt.Errorf("%w: no sources configured", ErrDeviceUnavailable)
	}
	return nil, Descriptor{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, errors.Join(errs...))
}

// backoff publishes placeholder frames until the backoff delay elapses, a
// nudge arrives or ctx ends. It reports false only when ctx ended.
func (s *Supervisor) backoff(ctx context.Context, tuning Tuning) bool {
	deadline := time.NewTimer(tuning.Backoff)
	defer deadline.Stop()
	ticker := time.NewTicker(tuning.PlaceholderInterval)
	defer ticker.Stop()

	s.publishPlaceholder()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-s.nudge:
			s.logger.Info("Backoff cut short by device event")
			return true
		case <-ticker.C:
			s.publishPlaceholder()
		}
	}
}

func (s *Supervisor) publish(f Frame) {
	f.Seq = s.seq.Add(1)
	s.sink.Publish(f)
}

func (s *Supervisor) publishPlaceholder() {
	if s.placeholder == nil {
		return
	}
	metrics.IncPlaceholderFrames()
	s.publish(Frame{JPEG: s.placeholder, CapturedAt: time.Now(), Placeholder: true})
}

func (s *Supervisor) transition(to State, source, reason string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.source = source
	s.since = time.Now()
	s.mu.Unlock()

	s.logger.Info("Camera state changed", "from", from, "to", to, "source", source, "reason", reason)
	metrics.SetCameraState(string(to))
	if s.events != nil {
		s.events.Publish(events.CameraStateChangedEvent{
			State:     string(to),
			Previous:  string(from),
			Source:    source,
			Reason:    reason,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (s *Supervisor) recordReconnect(source, reason string) {
	s.mu.Lock()
	s.reconnects++
	attempt := s.reconnects
	s.mu.Unlock()

	metrics.IncReconnects(source)
	if s.events != nil {
		s.events.Publish(events.CameraReconnectEvent{
			Source:    source,
			Reason:    reason,
			Attempt:   attempt,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) currentTuning() Tuning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tuning
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot for the status endpoint.
func (s *Supervisor) Status() SupervisorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.sources))
	for i, d := range s.sources {
		names[i] = d.String()
	}
	return SupervisorStatus{
		State:      s.state,
		Source:     s.source,
		Since:      s.since,
		Reconnects: s.reconnects,
		LastError:  s.lastErr,
		LastSeq:    s.seq.Load(),
		Sources:    names,
		Tuning:     s.tuning,
	}
}

// Nudge ends a running backoff early, for example when a camera is plugged in.
func (s *Supervisor) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// SetTuning replaces the tuning. It takes effect at the next probe.
func (s *Supervisor) SetTuning(t Tuning) {
	s.mu.Lock()
	s.tuning = t.normalized()
	s.mu.Unlock()
	s.logger.Info("Capture tuning updated", "failure_threshold", t.FailureThreshold, "backoff", t.Backoff)
}

// Tuning returns the tuning that the next probe will use.
func (s *Supervisor) Tuning() Tuning {
	return s.currentTuning()
}
