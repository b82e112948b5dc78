// Package logging provides structured logging with per-module levels.
//
// Each module gets its own *slog.Logger tagged with a "module" attribute and
// backed by its own slog.LevelVar, so levels can change while the process runs:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"capture": "debug",
//			"link":    "warn",
//		},
//	})
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Camera opened", "source", "v4l2:/dev/video0")
//
// Records go to stdout when it is attached to something other than /dev/null,
// to the systemd journal when journald is reachable, and always to an
// in-memory history used by the log streaming endpoint.
//
// # Viewing Logs
//
//	journalctl -t rovercam -f
//	journalctl -t rovercam -p warning
package logging
