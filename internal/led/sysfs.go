package led

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs drives LEDs through /sys/class/leds/<name>/{trigger,brightness}.
type sysfs struct {
	root string
	leds map[string]string // role -> sysfs name
}

func newSysfs(leds map[string]string) *sysfs {
	return &sysfs{root: sysfsLEDPath, leds: leds}
}

func (s *sysfs) Set(role string, enabled bool, pattern string) error {
	name, ok := s.leds[role]
	if !ok {
		return fmt.Errorf("LED role %q not supported on this board", role)
	}

	ledPath := filepath.Join(s.root, name)
	if _, err := os.Stat(ledPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("LED %q not found at %s", role, ledPath)
	}

	if pattern != "" {
		if err := s.writeTrigger(ledPath, pattern); err != nil {
			return err
		}
	}

	brightness := "0"
	if enabled {
		brightness = "1"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("set LED brightness: %w", err)
	}
	return nil
}

// writeTrigger maps a pattern to a kernel trigger. Solid uses the "none"
// trigger so that brightness stays under manual control.
func (s *sysfs) writeTrigger(ledPath, pattern string) error {
	trigger := pattern
	switch pattern {
	case PatternSolid:
		trigger = "none"
	case PatternBlink:
		trigger = "heartbeat"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("set LED trigger: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	roles := make([]string, 0, len(s.leds))
	for role := range s.leds {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func (s *sysfs) Patterns() []string {
	return []string{PatternSolid, PatternBlink, "heartbeat"}
}
