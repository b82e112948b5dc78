package events

// Event type constants for kelindar/event.
const (
	TypeCameraStateChanged uint32 = iota + 1
	TypeCameraReconnect
	TypeCommandSent
	TypeLinkStateChanged
	TypeDeviceHotplug
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraStateChangedEvent is published on every supervisor state transition.
type CameraStateChangedEvent struct {
	State     string `json:"state" example:"streaming" doc:"New supervisor state"`
	Previous  string `json:"previous" example:"probing" doc:"Previous supervisor state"`
	Source    string `json:"source,omitempty" example:"front" doc:"Label of the active source, if any"`
	Reason    string `json:"reason,omitempty" doc:"Why the transition happened"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStateChangedEvent.
func (e CameraStateChangedEvent) Type() uint32 { return TypeCameraStateChanged }

// IsStreaming reports whether live frames are flowing. Used by the LED manager.
func (e CameraStateChangedEvent) IsStreaming() bool {
	return e.State == "streaming"
}

// CameraReconnectEvent is published when a session ends and the supervisor
// goes back to probing.
type CameraReconnectEvent struct {
	Source    string `json:"source" example:"front" doc:"Label of the source that was torn down"`
	Reason    string `json:"reason" example:"failure threshold reached" doc:"Why the session ended"`
	Attempt   int    `json:"attempt" example:"3" doc:"Reconnects since start"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraReconnectEvent.
func (e CameraReconnectEvent) Type() uint32 { return TypeCameraReconnect }

// CommandSentEvent is published for every command accepted by the HTTP layer.
type CommandSentEvent struct {
	Seq       uint64 `json:"seq" example:"12" doc:"Link sequence number, 0 when not written"`
	Route     string `json:"route" example:"joystick" doc:"Entry point that produced the command"`
	Bytes     int    `json:"bytes" example:"14" doc:"Encoded line length including the newline"`
	Delivered bool   `json:"delivered" doc:"Whether the line was written to the link"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CommandSentEvent.
func (e CommandSentEvent) Type() uint32 { return TypeCommandSent }

// LinkStateChangedEvent is published when the serial link opens or closes.
type LinkStateChangedEvent struct {
	Device    string `json:"device" example:"/dev/ttyACM0" doc:"Serial device"`
	Connected bool   `json:"connected" doc:"Whether the link is open"`
	Error     string `json:"error,omitempty" doc:"Error that closed the link"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for LinkStateChangedEvent.
func (e LinkStateChangedEvent) Type() uint32 { return TypeLinkStateChanged }

// DeviceHotplugEvent represents a kernel uevent for a camera or serial device.
type DeviceHotplugEvent struct {
	Subsystem string `json:"subsystem" example:"video4linux" doc:"Kernel subsystem"`
	Action    string `json:"action" example:"add" doc:"add, remove or change"`
	DevPath   string `json:"dev_path" doc:"Sysfs device path"`
	DevName   string `json:"dev_name,omitempty" example:"video0" doc:"Device node name"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceHotplugEvent.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"capture" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
