package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/rovercam/cmd"
	"github.com/smazurov/rovercam/internal/api"
	"github.com/smazurov/rovercam/internal/capture"
	"github.com/smazurov/rovercam/internal/config"
	"github.com/smazurov/rovercam/internal/events"
	"github.com/smazurov/rovercam/internal/hotplug"
	"github.com/smazurov/rovercam/internal/led"
	"github.com/smazurov/rovercam/internal/link"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/metrics"
	"github.com/smazurov/rovercam/internal/streaming"
	"github.com/smazurov/rovercam/internal/updater"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":5000" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	CameraSources     string `help:"Camera sources in priority order (kind:target[#label], comma separated; a label has no spaces)" default:"v4l2:/dev/video0,index:0" toml:"camera.sources" env:"CAMERA_SOURCES"`
	CameraWidth       int    `help:"Requested frame width" default:"640" toml:"camera.width" env:"CAMERA_WIDTH"`
	CameraHeight      int    `help:"Requested frame height" default:"480" toml:"camera.height" env:"CAMERA_HEIGHT"`
	CameraFPS         int    `help:"Requested frame rate" default:"30" toml:"camera.fps" env:"CAMERA_FPS"`
	CameraJPEGQuality int    `help:"JPEG quality for decoded frames (1-100)" default:"80" toml:"camera.jpeg_quality" env:"CAMERA_JPEG_QUALITY"`

	// Capture tuning
	CaptureFailureThreshold    int    `help:"Consecutive read failures before reconnecting" default:"5" toml:"capture.failure_threshold" env:"CAPTURE_FAILURE_THRESHOLD"`
	CaptureWarmupReads         int    `help:"Frames discarded after opening a camera" default:"5" toml:"capture.warmup_reads" env:"CAPTURE_WARMUP_READS"`
	CaptureWarmupDelay         string `help:"Pause between warmup reads" default:"100ms" toml:"capture.warmup_delay" env:"CAPTURE_WARMUP_DELAY"`
	CaptureFramePacing         string `help:"Pause between frames" default:"20ms" toml:"capture.frame_pacing" env:"CAPTURE_FRAME_PACING"`
	CaptureSettleDelay         string `help:"Wait after opening before the first read" default:"200ms" toml:"capture.settle_delay" env:"CAPTURE_SETTLE_DELAY"`
	CaptureBackoff             string `help:"Wait before re-probing when no camera opens" default:"2s" toml:"capture.backoff" env:"CAPTURE_BACKOFF"`
	CaptureDrainPause          string `help:"Pause after tearing down a failed session" default:"1s" toml:"capture.drain_pause" env:"CAPTURE_DRAIN_PAUSE"`
	CapturePlaceholderInterval string `help:"Placeholder frame interval while no camera is available" default:"500ms" toml:"capture.placeholder_interval" env:"CAPTURE_PLACEHOLDER_INTERVAL"`
	CaptureReadTimeout         string `help:"Per-read timeout for device and pipeline sources" default:"2s" toml:"capture.read_timeout" env:"CAPTURE_READ_TIMEOUT"`

	// Stream settings
	StreamBufferSize int `help:"Frames buffered per video client" default:"2" toml:"stream.buffer_size" env:"STREAM_BUFFER_SIZE"`

	// Link settings
	LinkDevice        string `help:"Serial device (empty: /dev/ttyACM0, COM1 on Windows)" default:"" toml:"link.device" env:"LINK_DEVICE"`
	LinkBaudRate      int    `help:"Serial baud rate" default:"9600" toml:"link.baud_rate" env:"LINK_BAUD_RATE"`
	LinkSettle        string `help:"Wait after opening the link before writing" default:"2s" toml:"link.settle" env:"LINK_SETTLE"`
	LinkRetryInterval string `help:"Interval between link open attempts" default:"5s" toml:"link.retry_interval" env:"LINK_RETRY_INTERVAL"`
	LinkEnabled       bool   `help:"Open the serial link" default:"true" toml:"link.enabled" env:"LINK_ENABLED"`

	// Update settings
	UpdateRepository string `help:"GitHub repository for releases" default:"smazurov/rovercam" toml:"update.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Offer prereleases" default:"false" toml:"update.prerelease" env:"UPDATE_PRERELEASE"`

	// Features settings
	FeaturesLEDControl bool `help:"Enable LED control" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	FeaturesHotplug    bool `help:"React to camera and serial hotplug events" default:"true" toml:"features.hotplug_enabled" env:"FEATURES_HOTPLUG"`
	FeaturesPrometheus bool `help:"Expose /metrics" default:"true" toml:"features.prometheus_enabled" env:"FEATURES_PROMETHEUS"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture   string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingStreaming string `help:"Video fan-out logging level" default:"info" toml:"logging.streaming" env:"LOGGING_STREAMING"`
	LoggingLink      string `help:"Serial link logging level" default:"info" toml:"logging.link" env:"LOGGING_LINK"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP      string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingHotplug   string `help:"Hotplug logging level" default:"info" toml:"logging.hotplug" env:"LOGGING_HOTPLUG"`
	LoggingPipeline  string `help:"Pipeline subprocess logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"capture":   o.LoggingCapture,
			"streaming": o.LoggingStreaming,
			"link":      o.LoggingLink,
			"api":       o.LoggingAPI,
			"http":      o.LoggingHTTP,
			"hotplug":   o.LoggingHotplug,
			"pipeline":  o.LoggingPipeline,
		},
	}
}

// tuning builds capture tuning from the options. Unparsable durations keep
// the default and are logged.
func (o *Options) tuning(logger *slog.Logger) capture.Tuning {
	section := config.CaptureSection{
		FailureThreshold:    o.CaptureFailureThreshold,
		WarmupReads:         o.CaptureWarmupReads,
		WarmupDelay:         o.CaptureWarmupDelay,
		FramePacing:         o.CaptureFramePacing,
		SettleDelay:         o.CaptureSettleDelay,
		Backoff:             o.CaptureBackoff,
		DrainPause:          o.CaptureDrainPause,
		PlaceholderInterval: o.CapturePlaceholderInterval,
	}
	t, err := section.ApplyTo(capture.DefaultTuning())
	if err != nil {
		logger.Warn("Invalid capture tuning, using defaults", "error", err)
		return capture.DefaultTuning()
	}
	return t
}

func parseDuration(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Mirror log records onto the bus for /api/logs/stream.
		var logSeq atomic.Uint64
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEvent(logSeq.Add(1), entry))
		})

		sources, err := capture.ParseDescriptors(opts.CameraSources)
		if err != nil {
			logger.Warn("Invalid camera sources, falling back to test pattern", "sources", opts.CameraSources, "error", err)
			sources = []capture.Descriptor{{Kind: capture.KindPattern, Target: "bars"}}
		}

		hub := streaming.NewHub(opts.StreamBufferSize, logging.GetLogger("streaming"))
		baseTuning := opts.tuning(logger)
		supervisor := capture.NewSupervisor(capture.Options{
			Sources: sources,
			Backend: capture.NewDefaultRegistry(),
			Hints: capture.Hints{
				Width:       opts.CameraWidth,
				Height:      opts.CameraHeight,
				FPS:         opts.CameraFPS,
				ReadTimeout: parseDuration(logger, "capture.read_timeout", opts.CaptureReadTimeout, 2*time.Second),
			},
			Tuning:  baseTuning,
			Quality: opts.CameraJPEGQuality,
			Sink:    hub,
			Events:  eventBus,
		})

		channel := link.New(link.Options{
			Device:        opts.LinkDevice,
			BaudRate:      opts.LinkBaudRate,
			Settle:        parseDuration(logger, "link.settle", opts.LinkSettle, link.DefaultSettle),
			RetryInterval: parseDuration(logger, "link.retry_interval", opts.LinkRetryInterval, link.DefaultRetryInterval),
			Events:        eventBus,
		})

		// Initialize LED control if enabled
		var ledManager *led.Manager
		var ledController led.Controller
		if opts.FeaturesLEDControl {
			logger.Info("LED control enabled, initializing")
			ledController = led.New(logging.GetLogger("led"))
			ledManager = led.NewManager(ledController, eventBus, logging.GetLogger("led"))
		}

		updateService, err := updater.NewService(updater.Options{
			Repository: opts.UpdateRepository,
			Prerelease: opts.UpdatePrerelease,
		})
		if err != nil {
			logger.Warn("Self-update unavailable", "error", err)
			updateService = nil
		}

		apiOpts := &api.Options{
			Camera:        supervisor,
			Feed:          hub,
			Link:          channel,
			EventBus:      eventBus,
			UpdateService: updateService,
		}
		if ledController != nil {
			apiOpts.LEDController = ledController
		}
		if opts.FeaturesPrometheus {
			apiOpts.PrometheusHandler = metrics.Handler()
		}
		server := api.NewServer(apiOpts)

		// Logging levels and capture tuning follow the config file.
		watcher := config.NewConfigWatcher(opts.Config, config.LoadRuntime, logging.GetLogger("config"))
		watcher.OnReload(func(rt config.Runtime) {
			logging.SetLevels(rt.Logging)
			t, applyErr := rt.Capture.ApplyTo(baseTuning)
			if applyErr != nil {
				logger.Warn("Ignoring capture tuning from config", "error", applyErr)
				return
			}
			supervisor.SetTuning(t)
			logger.Info("Runtime settings reloaded", "config", opts.Config)
		})

		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup

		hooks.OnStart(func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				supervisor.Run(ctx)
			}()

			if opts.LinkEnabled {
				wg.Add(1)
				go func() {
					defer wg.Done()
					channel.Run(ctx)
				}()
			} else {
				logger.Info("Serial link disabled; commands will be acknowledged but not delivered")
			}

			if opts.FeaturesHotplug {
				startHotplug(ctx, &wg, supervisor, channel, eventBus)
			}

			if ledManager != nil {
				ledManager.Start()
			}

			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("systemd notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "sources", len(sources))
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Cancelling the context closes the active camera handle.
			cancel()
			wg.Wait()

			hub.Stop()
			if closeErr := channel.Close(); closeErr != nil {
				logger.Warn("Error closing serial link", "error", closeErr)
			}
			_ = watcher.Stop()
			if ledManager != nil {
				ledManager.Stop()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateLinkCmd())
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	// Run the CLI
	cli.Run()
}

// startHotplug nudges the supervisor when a camera appears and the link
// when a serial adapter appears. Platforms without netlink skip it.
func startHotplug(ctx context.Context, wg *sync.WaitGroup, sup *capture.Supervisor, ch *link.Channel, bus *events.Bus) {
	hlog := logging.GetLogger("hotplug")

	monitor, err := hotplug.NewMonitor()
	if err != nil {
		hlog.Info("Hotplug monitoring unavailable", "error", err)
		return
	}
	monitor.AddSubsystemFilter("video4linux")
	monitor.AddSubsystemFilter("tty")

	dispatcher := &hotplug.Dispatcher{
		OnCamera: sup.Nudge,
		OnSerial: ch.Nudge,
		Events:   bus,
		Logger:   hlog,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { _ = monitor.Close() }()
		if runErr := dispatcher.Run(ctx, monitor); runErr != nil && ctx.Err() == nil {
			hlog.Warn("Hotplug monitor stopped", "error", runErr)
		}
	}()
}
