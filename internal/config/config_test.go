package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/smazurov/rovercam/internal/capture"
	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	Port          string   `toml:"server.port" env:"SERVER_PORT"`
	CameraSources string   `toml:"camera.sources" env:"CAMERA_SOURCES"`
	LinkEnabled   bool     `toml:"link.enabled" env:"LINK_ENABLED"`
	LinkBaudRate  int      `toml:"link.baud_rate" env:"LINK_BAUD_RATE"`
	Tags          []string `toml:"misc.tags" env:"MISC_TAGS"`
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTempConfig(t, `
[server]
port = ":8080"

[camera]
sources = ["v4l2:/dev/video2", "pattern:bars"]

[link]
enabled = true
baud_rate = 115200

[misc]
tags = ["a", "b"]
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != ":8080" {
		t.Errorf("Port = %q, want :8080", opts.Port)
	}
	if opts.CameraSources != "v4l2:/dev/video2,pattern:bars" {
		t.Errorf("CameraSources = %q", opts.CameraSources)
	}
	if !opts.LinkEnabled {
		t.Error("LinkEnabled should be true")
	}
	if opts.LinkBaudRate != 115200 {
		t.Errorf("LinkBaudRate = %d, want 115200", opts.LinkBaudRate)
	}
	if !reflect.DeepEqual(opts.Tags, []string{"a", "b"}) {
		t.Errorf("Tags = %v", opts.Tags)
	}
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Port: ":5000"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Port != ":5000" {
		t.Errorf("Port = %q, want default :5000", opts.Port)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "[server\nport = ")
	if err := LoadConfig(&testOptions{Config: path}, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeTempConfig(t, "[server]\nport = \":8080\"\n[link]\nbaud_rate = 9600\n")
	t.Setenv("ROVERCAM_SERVER_PORT", ":9000")
	t.Setenv("ROVERCAM_LINK_ENABLED", "true")
	t.Setenv("ROVERCAM_MISC_TAGS", "x, y ,z")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != ":9000" {
		t.Errorf("Port = %q, want env override :9000", opts.Port)
	}
	if opts.LinkBaudRate != 9600 {
		t.Errorf("LinkBaudRate = %d, want 9600 from file", opts.LinkBaudRate)
	}
	if !opts.LinkEnabled {
		t.Error("LinkEnabled should come from env")
	}
	if !reflect.DeepEqual(opts.Tags, []string{"x", "y", "z"}) {
		t.Errorf("Tags = %v", opts.Tags)
	}
}

func TestLoadConfigChangedFlagWins(t *testing.T) {
	path := writeTempConfig(t, "[server]\nport = \":8080\"\n")
	t.Setenv("ROVERCAM_SERVER_PORT", ":9000")

	var port string
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&port, "port", ":5000", "")
	if err := cmd.Flags().Set("port", ":7777"); err != nil {
		t.Fatal(err)
	}

	opts := &testOptions{Config: path, Port: port}
	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Port != ":7777" {
		t.Errorf("Port = %q, want CLI value :7777", opts.Port)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(testOptions{}, nil); err == nil {
		t.Fatal("expected error for non-pointer options")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":             "port",
		"LinkBaudRate":     "link-baud-rate",
		"CaptureBackoff":   "capture-backoff",
		"FeaturesHotplug":  "features-hotplug",
		"StreamBufferSize": "stream-buffer-size",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"capture": map[string]any{"backoff": "2s"},
		"flat":    "value",
	}
	if got := getNestedValue(data, "capture.backoff"); got != "2s" {
		t.Errorf("capture.backoff = %v", got)
	}
	if got := getNestedValue(data, "flat"); got != "value" {
		t.Errorf("flat = %v", got)
	}
	if got := getNestedValue(data, "flat.missing"); got != nil {
		t.Errorf("flat.missing = %v, want nil", got)
	}
}

func TestLoadRuntime(t *testing.T) {
	path := writeTempConfig(t, `
[logging]
level = "warn"
format = "json"
capture = "debug"

[capture]
failure_threshold = 8
backoff = "3s"
`)

	rt, err := LoadRuntime(path)
	if err != nil {
		t.Fatalf("LoadRuntime failed: %v", err)
	}
	if rt.Logging.Level != "warn" || rt.Logging.Format != "json" {
		t.Errorf("logging = %+v", rt.Logging)
	}
	if rt.Logging.Modules["capture"] != "debug" {
		t.Errorf("capture module level = %q", rt.Logging.Modules["capture"])
	}
	if rt.Capture.FailureThreshold != 8 || rt.Capture.Backoff != "3s" {
		t.Errorf("capture = %+v", rt.Capture)
	}
	if rt.Capture.DrainPause != "" {
		t.Errorf("unset drain_pause should stay empty, got %q", rt.Capture.DrainPause)
	}
}

func TestCaptureSectionApplyTo(t *testing.T) {
	base := capture.DefaultTuning()

	got, err := CaptureSection{FailureThreshold: 3, Backoff: "250ms"}.ApplyTo(base)
	if err != nil {
		t.Fatal(err)
	}
	if got.FailureThreshold != 3 || got.Backoff != 250*time.Millisecond {
		t.Errorf("got %+v", got)
	}
	if got.WarmupReads != base.WarmupReads || got.DrainPause != base.DrainPause {
		t.Errorf("empty fields changed: %+v", got)
	}

	if _, err := (CaptureSection{DrainPause: "soon"}).ApplyTo(base); err == nil {
		t.Error("expected error for bad duration")
	}
}
