package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type testConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadTestConfig(path string) (testConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testConfig{}, err
	}
	var cfg testConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startWatcher writes initial to a fresh config file and starts watching it.
func startWatcher[T any](t *testing.T, initial string, loader func(string) (T, error), opts ...WatcherOption[T]) (*Watcher[T], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rovercam.toml")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewConfigWatcher(path, loader, newTestLogger(), opts...)
	return w, path
}

func run[T any](t *testing.T, w *Watcher[T]) {
	t.Helper()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	time.Sleep(100 * time.Millisecond)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigWatcher_BasicReload(t *testing.T) {
	w, path := startWatcher(t, "name = \"initial\"\nvalue = 1\n", loadTestConfig, WithDebounce[testConfig](50*time.Millisecond))

	received := make(chan testConfig, 1)
	w.OnReload(func(cfg testConfig) { received <- cfg })
	run(t, w)

	writeFile(t, path, "name = \"updated\"\nvalue = 42\n")

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v, want name=updated, value=42", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_IgnoresSiblingFiles(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n", loadTestConfig, WithDebounce[testConfig](50*time.Millisecond))

	var count atomic.Int32
	w.OnReload(func(testConfig) { count.Add(1) })
	run(t, w)

	writeFile(t, filepath.Join(filepath.Dir(path), "other.toml"), "value = 3\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("sibling write triggered %d reloads", got)
	}
}

func TestConfigWatcher_MultipleHandlers(t *testing.T) {
	w, path := startWatcher(t, "name = \"test\"\nvalue = 1\n", loadTestConfig, WithDebounce[testConfig](50*time.Millisecond))

	var mu sync.Mutex
	var configs []testConfig
	for range 3 {
		w.OnReload(func(cfg testConfig) {
			mu.Lock()
			configs = append(configs, cfg)
			mu.Unlock()
		})
	}
	run(t, w)

	writeFile(t, path, "name = \"new\"\nvalue = 2\n")
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(configs) != 3 {
		t.Fatalf("expected 3 handler calls, got %d", len(configs))
	}
	for i, cfg := range configs {
		if cfg.Name != "new" || cfg.Value != 2 {
			t.Errorf("handler %d got wrong config: %+v", i, cfg)
		}
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n", loadTestConfig, WithDebounce[testConfig](50*time.Millisecond))

	var count1, count2 atomic.Int32
	w.OnReload(func(testConfig) { count1.Add(1) })
	unsub := w.OnReload(func(testConfig) { count2.Add(1) })
	run(t, w)

	writeFile(t, path, "value = 10\n")
	time.Sleep(250 * time.Millisecond)
	unsub()

	writeFile(t, path, "value = 20\n")
	time.Sleep(250 * time.Millisecond)

	if got := count1.Load(); got != 2 {
		t.Errorf("handler1: expected 2 calls, got %d", got)
	}
	if got := count2.Load(); got != 1 {
		t.Errorf("handler2: expected 1 call, got %d", got)
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	errs := make(chan error, 1)
	w, path := startWatcher(t, "value = 1\n", loadTestConfig,
		WithDebounce[testConfig](50*time.Millisecond),
		WithErrorHandler[testConfig](func(err error) { errs <- err }),
	)

	configs := make(chan testConfig, 1)
	w.OnReload(func(cfg testConfig) { configs <- cfg })
	run(t, w)

	writeFile(t, path, "invalid toml [[[")

	select {
	case <-errs:
	case <-configs:
		t.Fatal("reload handler should not run when loading fails")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	w, path := startWatcher(t, "value = 0\n", loadTestConfig, WithDebounce[testConfig](200*time.Millisecond))

	var count, last atomic.Int32
	w.OnReload(func(cfg testConfig) {
		count.Add(1)
		last.Store(int32(cfg.Value))
	})
	run(t, w)

	for i := 1; i <= 5; i++ {
		writeFile(t, path, fmt.Sprintf("value = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("expected final value 5, got %d", got)
	}
}

func TestConfigWatcher_StopIsIdempotent(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n", loadTestConfig, WithDebounce[testConfig](50*time.Millisecond))

	var count atomic.Int32
	w.OnReload(func(testConfig) { count.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop returned %v", err)
	}

	writeFile(t, path, "value = 99\n")
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after stop, got %d", got)
	}
}

func TestConfigWatcher_RuntimeReload(t *testing.T) {
	w, path := startWatcher(t, "[logging]\nlevel = \"info\"\n", LoadRuntime, WithDebounce[Runtime](50*time.Millisecond))

	received := make(chan Runtime, 1)
	w.OnReload(func(rt Runtime) { received <- rt })
	run(t, w)

	writeFile(t, path, "[logging]\nlevel = \"debug\"\nlink = \"warn\"\n\n[capture]\nbackoff = \"5s\"\n")

	select {
	case rt := <-received:
		if rt.Logging.Level != "debug" || rt.Logging.Modules["link"] != "warn" {
			t.Errorf("logging = %+v", rt.Logging)
		}
		if rt.Capture.Backoff != "5s" {
			t.Errorf("backoff = %q, want 5s", rt.Capture.Backoff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for runtime reload")
	}
}
