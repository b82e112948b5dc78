package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/rovercam/internal/events"
)

// Manager drives the status LED from camera state and the link LED from
// serial link state.
type Manager struct {
	controller Controller
	eventBus   *events.Bus
	logger     *slog.Logger

	mu          sync.Mutex
	unsubscribe []func()
	streaming   bool
	linkUp      bool
}

// NewManager creates a manager. Call Start to begin reacting to events.
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Start sets the initial patterns and subscribes to state events.
func (m *Manager) Start() {
	m.mu.Lock()
	m.applyLocked()
	m.mu.Unlock()

	unsubCamera := m.eventBus.Subscribe(func(e events.CameraStateChangedEvent) {
		m.mu.Lock()
		m.streaming = e.IsStreaming()
		m.applyLocked()
		m.mu.Unlock()
	})
	unsubLink := m.eventBus.Subscribe(func(e events.LinkStateChangedEvent) {
		m.mu.Lock()
		m.linkUp = e.Connected
		m.applyLocked()
		m.mu.Unlock()
	})

	m.mu.Lock()
	m.unsubscribe = []func(){unsubCamera, unsubLink}
	m.mu.Unlock()
	m.logger.Info("LED manager started", "roles", m.controller.Available())
}

// Stop unsubscribes from events. It is safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	if unsub != nil {
		m.logger.Info("LED manager stopped")
	}
}

// applyLocked writes both LEDs. Streaming is solid, anything else blinks.
// The link LED is on while the link is open. Caller holds m.mu.
func (m *Manager) applyLocked() {
	pattern := PatternBlink
	if m.streaming {
		pattern = PatternSolid
	}
	if err := m.controller.Set(RoleStatus, true, pattern); err != nil {
		m.logger.Debug("Failed to set status LED", "pattern", pattern, "error", err)
	}
	if err := m.controller.Set(RoleLink, m.linkUp, PatternSolid); err != nil {
		m.logger.Debug("Failed to set link LED", "on", m.linkUp, "error", err)
	}
}

// Controller returns the underlying LED controller.
func (m *Manager) Controller() Controller {
	return m.controller
}
