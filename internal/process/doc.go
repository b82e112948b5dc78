// Package process runs a single long-lived subprocess whose stdout carries
// data and whose stderr carries diagnostics.
//
// Process wraps os/exec:
//   - stdout is handed to the caller as a stream
//   - stderr is split into lines and logged, with a pluggable LogParser
//     deciding the level of each line
//   - Stop sends SIGINT, waits a grace period, then kills
//
// Example:
//
//	p := process.NewProcess("pipeline", "ffmpeg -f v4l2 -i /dev/video0 -f mjpeg -", logger)
//	p.SetLogParser(logging.GetLogger("pipeline"), process.ParseFFmpegLevel)
//	stdout, err := p.Start()
//	if err != nil {
//	    return err
//	}
//	defer p.Stop()
package process
