package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/rovercam/internal/capture"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every `env` tag when reading the environment.
const EnvPrefix = "ROVERCAM_"

// LoadConfig fills the flat options struct pointed to by opts.
// Precedence: CLI flags explicitly set on cmd > environment > TOML file > defaults.
// The file path is read from a string field named Config.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: expected pointer to struct, got %T", opts)
	}
	v = v.Elem()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changed[f.Name] = true
			}
		})
	}

	if path := v.FieldByName("Config"); path.IsValid() && path.Kind() == reflect.String && path.String() != "" {
		if err := applyFile(v, path.String(), changed); err != nil {
			return err
		}
	}

	applyEnv(v, changed)
	return nil
}

// applyFile copies values from the TOML file at path into fields tagged `toml`.
// A missing file is not an error.
func applyFile(v reflect.Value, path string, changed map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if changed[fieldNameToFlag(field.Name)] {
			continue
		}
		if key := field.Tag.Get("toml"); key != "" {
			if value := getNestedValue(doc, key); value != nil {
				setFieldValue(v.Field(i), value)
			}
		}
	}
	return nil
}

// applyEnv overrides fields tagged `env` from ROVERCAM_-prefixed variables.
func applyEnv(v reflect.Value, changed map[string]bool) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if changed[fieldNameToFlag(field.Name)] {
			continue
		}
		key := field.Tag.Get("env")
		if key == "" {
			continue
		}
		if value, ok := os.LookupEnv(EnvPrefix + key); ok && value != "" {
			setFieldValueFromString(v.Field(i), value)
		}
	}
}

// fieldNameToFlag converts a field name to the flag humacli derives from it.
// Example: "LinkBaudRate" -> "link-baud-rate".
func fieldNameToFlag(fieldName string) string {
	var out []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			out = append(out, '-')
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// getNestedValue looks up a dotted path such as "capture.backoff".
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// setFieldValue assigns a decoded TOML value to field when the kinds match.
func setFieldValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		switch s := value.(type) {
		case string:
			field.SetString(s)
		case []any:
			// Arrays are accepted for comma-separated list options.
			parts := make([]string, 0, len(s))
			for _, item := range s {
				if str, ok := item.(string); ok {
					parts = append(parts, str)
				}
			}
			field.SetString(strings.Join(parts, ","))
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		if arr, ok := value.([]any); ok {
			out := make([]string, 0, len(arr))
			for _, item := range arr {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
}

// setFieldValueFromString assigns an environment value to field.
func setFieldValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}

// CaptureSection is the reloadable subset of the [capture] table.
// Empty or zero values mean "keep the current setting".
type CaptureSection struct {
	FailureThreshold    int    `toml:"failure_threshold"`
	WarmupReads         int    `toml:"warmup_reads"`
	WarmupDelay         string `toml:"warmup_delay"`
	FramePacing         string `toml:"frame_pacing"`
	SettleDelay         string `toml:"settle_delay"`
	Backoff             string `toml:"backoff"`
	DrainPause          string `toml:"drain_pause"`
	PlaceholderInterval string `toml:"placeholder_interval"`
}

// Runtime holds the settings that can change without a restart.
type Runtime struct {
	Logging logging.Config
	Capture CaptureSection
}

// LoadRuntime reads the reloadable settings from the TOML file at path.
func LoadRuntime(path string) (Runtime, error) {
	rt := Runtime{
		Logging: logging.Config{Level: "info", Format: "text", Modules: make(map[string]string)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rt, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw struct {
		Logging map[string]string `toml:"logging"`
		Capture CaptureSection    `toml:"capture"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return rt, fmt.Errorf("parse config %s: %w", path, err)
	}

	for key, value := range raw.Logging {
		switch key {
		case "level":
			rt.Logging.Level = value
		case "format":
			rt.Logging.Format = value
		default:
			rt.Logging.Modules[key] = value
		}
	}
	rt.Capture = raw.Capture
	return rt, nil
}

// ApplyTo overlays the non-empty fields of s onto t.
func (s CaptureSection) ApplyTo(t capture.Tuning) (capture.Tuning, error) {
	if s.FailureThreshold > 0 {
		t.FailureThreshold = s.FailureThreshold
	}
	if s.WarmupReads > 0 {
		t.WarmupReads = s.WarmupReads
	}
	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"warmup_delay", s.WarmupDelay, &t.WarmupDelay},
		{"frame_pacing", s.FramePacing, &t.FramePacing},
		{"settle_delay", s.SettleDelay, &t.SettleDelay},
		{"backoff", s.Backoff, &t.Backoff},
		{"drain_pause", s.DrainPause, &t.DrainPause},
		{"placeholder_interval", s.PlaceholderInterval, &t.PlaceholderInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return t, fmt.Errorf("capture.%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return t, nil
}
