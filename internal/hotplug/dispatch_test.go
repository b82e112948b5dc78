package hotplug

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/smazurov/rovercam/internal/events"
)

type sliceSource []Event

func (s sliceSource) Run(_ context.Context, out chan<- Event) error {
	defer close(out)
	for _, ev := range s {
		out <- ev
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func TestDispatcher(t *testing.T) {
	var cameras, serials int
	bus := &recorder{}
	d := &Dispatcher{
		OnCamera: func() { cameras++ },
		OnSerial: func() { serials++ },
		Events:   bus,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	src := sliceSource{
		{Action: ActionAdd, Subsystem: SubsystemVideo4Linux, DevName: "video0"},
		{Action: ActionRemove, Subsystem: SubsystemVideo4Linux, DevName: "video0"},
		{Action: ActionAdd, Subsystem: SubsystemTTY, DevName: "ttyACM0"},
		{Action: ActionAdd, Subsystem: SubsystemTTY, DevName: "tty5"},
		{Action: ActionAdd, Subsystem: "usb"},
		{Action: ActionAdd, Subsystem: SubsystemTTY, DevName: "/dev/ttyUSB1"},
	}
	if err := d.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if cameras != 1 {
		t.Errorf("camera nudges = %d, want 1", cameras)
	}
	if serials != 2 {
		t.Errorf("serial nudges = %d, want 2", serials)
	}
	if len(bus.events) != 4 {
		t.Errorf("published %d events, want 4", len(bus.events))
	}
	if ev, ok := bus.events[1].(events.DeviceHotplugEvent); !ok || ev.Action != ActionRemove {
		t.Errorf("second event = %+v", bus.events[1])
	}
}
