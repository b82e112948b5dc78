package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// New returns a controller for the detected board, or a no-op controller
// when the board has no known LEDs.
func New(logger *slog.Logger) Controller {
	model := detectBoard(deviceTreeModelPath)
	leds := boardLEDs(model)
	if leds == nil {
		logger.Info("No LED support detected, using no-op controller", "board_model", model)
		return newNoop(logger)
	}
	logger.Info("Using sysfs LED controller", "board_model", model)
	return newSysfs(leds)
}

// boardLEDs maps roles to sysfs LED names for known boards.
func boardLEDs(model string) map[string]string {
	switch {
	case strings.Contains(model, "Raspberry Pi"):
		return map[string]string{RoleStatus: "ACT", RoleLink: "PWR"}
	case strings.Contains(model, "NanoPC-T6"):
		return map[string]string{RoleStatus: "sys_led", RoleLink: "usr_led"}
	case strings.Contains(model, "Orange Pi"):
		return map[string]string{RoleStatus: "green_led", RoleLink: "blue_led"}
	default:
		return nil
	}
}

// detectBoard reads the device tree model. The file is NUL terminated.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}
