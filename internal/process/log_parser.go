package process

import "strings"

// ParseFFmpegLevel extracts the log level from ffmpeg output.
// With -loglevel level+info ffmpeg prints "[info] message" or
// "[component @ 0x...] [level] message" for component-specific logs.
// The level is stripped from the message; the component is kept.
func ParseFFmpegLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]
	if isLogLevel(bracket) {
		return bracket, line[end+2:]
	}

	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			if next := rest[1:nextEnd]; isLogLevel(next) {
				return next, component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

// ParseLibcameraLevel maps libcamera's "[0:00:01.234] [123]  WARN Camera ..." lines.
func ParseLibcameraLevel(line string) (level, msg string) {
	for _, tag := range []struct{ word, level string }{
		{" ERROR ", "error"},
		{" FATAL ", "fatal"},
		{" WARN ", "warning"},
		{" DEBUG ", "debug"},
		{" INFO ", "info"},
	} {
		if i := strings.Index(line, tag.word); i != -1 {
			return tag.level, strings.TrimSpace(line[i+len(tag.word):])
		}
	}
	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
