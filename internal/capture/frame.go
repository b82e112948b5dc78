package capture

import "time"

// Frame is one encoded JPEG ready for delivery.
type Frame struct {
	Seq         uint64
	JPEG        []byte
	CapturedAt  time.Time
	Source      string
	Placeholder bool
}
