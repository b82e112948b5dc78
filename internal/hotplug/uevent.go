// Package hotplug watches kernel uevents for cameras and serial adapters.
//
// The Linux monitor reads NETLINK_KOBJECT_UEVENT directly, so no cgo or
// libudev is needed.
package hotplug

import (
	"bytes"
	"strings"
)

// Actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// Subsystems rovercam reacts to.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemTTY         = "tty"
)

// Event is one kernel uevent.
type Event struct {
	Action    string
	KObj      string
	Subsystem string
	DevType   string
	DevName   string
	DevPath   string
	Env       map[string]string
}

// udevPrefix marks messages relayed by udevd rather than the kernel.
var udevPrefix = []byte("libudev")

// ParseUEvent parses "ACTION@KOBJ\0KEY=VALUE\0...". It returns nil when
// the header is missing or malformed.
func ParseUEvent(data []byte) *Event {
	if bytes.HasPrefix(data, udevPrefix) {
		data = skipUdevHeader(data)
	}

	header, rest, _ := bytes.Cut(data, []byte{0})
	action, kobj, ok := strings.Cut(string(header), "@")
	if !ok || action == "" {
		return nil
	}

	ev := &Event{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, field := range bytes.Split(rest, []byte{0}) {
		key, value, ok := strings.Cut(string(field), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVTYPE":
			ev.DevType = value
		case "DEVNAME":
			ev.DevName = value
		case "DEVPATH":
			ev.DevPath = value
		}
	}
	return ev
}

// skipUdevHeader drops the binary libudev header, which ends right before
// the first NUL-separated field that looks like ACTION@KOBJ.
func skipUdevHeader(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0 {
			continue
		}
		rest := data[i+1:]
		if at := bytes.IndexByte(rest, '@'); at > 0 && at < 20 && isAction(rest[:at]) {
			return rest
		}
	}
	return data
}

func isAction(b []byte) bool {
	for _, c := range b {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
