package led

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/rovercam/internal/events"
)

type setCall struct {
	role    string
	enabled bool
	pattern string
}

type mockController struct {
	mu       sync.Mutex
	setCalls []setCall
}

func (m *mockController) Set(role string, enabled bool, pattern string) error {
	m.mu.Lock()
	m.setCalls = append(m.setCalls, setCall{role, enabled, pattern})
	m.mu.Unlock()
	return nil
}

func (m *mockController) Available() []string { return []string{RoleLink, RoleStatus} }

func (m *mockController) Patterns() []string { return []string{PatternSolid, PatternBlink} }

func (m *mockController) last(role string) (setCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.setCalls) - 1; i >= 0; i-- {
		if m.setCalls[i].role == role {
			return m.setCalls[i], true
		}
	}
	return setCall{}, false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestManager_InitialBlink(t *testing.T) {
	ctrl := &mockController{}
	mgr := NewManager(ctrl, events.New(), discardLogger())
	mgr.Start()
	defer mgr.Stop()

	call, ok := ctrl.last(RoleStatus)
	if !ok || call.pattern != PatternBlink {
		t.Errorf("initial status LED = %+v", call)
	}
	if call, _ := ctrl.last(RoleLink); call.enabled {
		t.Error("link LED should start off")
	}
}

func TestManager_FollowsCameraState(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, discardLogger())
	mgr.Start()
	defer mgr.Stop()

	bus.Publish(events.CameraStateChangedEvent{State: "streaming", Previous: "probing"})
	eventually(t, func() bool {
		call, _ := ctrl.last(RoleStatus)
		return call.pattern == PatternSolid
	})

	bus.Publish(events.CameraStateChangedEvent{State: "backoff", Previous: "streaming"})
	eventually(t, func() bool {
		call, _ := ctrl.last(RoleStatus)
		return call.pattern == PatternBlink
	})
}

func TestManager_FollowsLinkState(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, discardLogger())
	mgr.Start()
	defer mgr.Stop()

	bus.Publish(events.LinkStateChangedEvent{Device: "/dev/ttyACM0", Connected: true})
	eventually(t, func() bool {
		call, _ := ctrl.last(RoleLink)
		return call.enabled
	})
}

func TestManager_StopIsIdempotent(t *testing.T) {
	mgr := NewManager(&mockController{}, events.New(), discardLogger())
	mgr.Start()
	mgr.Stop()
	mgr.Stop()
}

func TestManager_Controller(t *testing.T) {
	ctrl := &mockController{}
	mgr := NewManager(ctrl, events.New(), discardLogger())
	if mgr.Controller() != Controller(ctrl) {
		t.Error("Controller() did not return the original controller")
	}
}
