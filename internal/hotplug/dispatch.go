package hotplug

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/smazurov/rovercam/internal/events"
)

// Source produces uevents. *Monitor implements it.
type Source interface {
	Run(ctx context.Context, out chan<- Event) error
}

// EventPublisher is the subset of the event bus the dispatcher uses.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Dispatcher turns uevents into nudges: a new camera ends the capture
// backoff, a new serial adapter triggers a link retry.
type Dispatcher struct {
	OnCamera func()
	OnSerial func()
	Events   EventPublisher // optional
	Logger   *slog.Logger
}

// Run consumes events from src until it stops.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	ch := make(chan Event, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx, ch) }()

	for ev := range ch {
		d.Handle(ev)
	}
	return <-errCh
}

// Handle processes one event.
func (d *Dispatcher) Handle(ev Event) {
	switch {
	case ev.Subsystem == SubsystemVideo4Linux:
	case ev.Subsystem == SubsystemTTY && isSerialAdapter(ev.DevName):
	default:
		return
	}

	d.Logger.Info("Device event", "subsystem", ev.Subsystem, "action", ev.Action, "dev_name", ev.DevName)
	if d.Events != nil {
		d.Events.Publish(events.DeviceHotplugEvent{
			Subsystem: ev.Subsystem,
			Action:    ev.Action,
			DevPath:   ev.DevPath,
			DevName:   ev.DevName,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}

	if ev.Action != ActionAdd {
		return
	}
	if ev.Subsystem == SubsystemVideo4Linux && d.OnCamera != nil {
		d.OnCamera()
	}
	if ev.Subsystem == SubsystemTTY && d.OnSerial != nil {
		d.OnSerial()
	}
}

// isSerialAdapter matches USB CDC and USB-serial tty nodes.
func isSerialAdapter(devName string) bool {
	name := strings.TrimPrefix(devName, "/dev/")
	return strings.HasPrefix(name, "ttyACM") || strings.HasPrefix(name, "ttyUSB")
}
