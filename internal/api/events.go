package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/rovercam/internal/events"
)

// registerSSERoutes registers the bus event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Camera state changes, reconnects, link state, forwarded commands and device hotplug",
		Tags:        []string{"events"},
	}, map[string]any{
		"camera-state":     events.CameraStateChangedEvent{},
		"camera-reconnect": events.CameraReconnectEvent{},
		"command-sent":     events.CommandSentEvent{},
		"link-state":       events.LinkStateChangedEvent{},
		"device-hotplug":   events.DeviceHotplugEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CameraStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CameraReconnectEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CommandSentEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.LinkStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceHotplugEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Start every stream with the current camera state so clients do
		// not have to wait for the next transition.
		st := s.options.Camera.Status()
		if err := send.Data(events.CameraStateChangedEvent{
			State:     string(st.State),
			Source:    st.Source,
			Reason:    "connected",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
