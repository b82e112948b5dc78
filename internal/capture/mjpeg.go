package capture

import (
	"bufio"
	"bytes"
	"io"
)

// maxJPEGSize bounds a single frame read from an MJPEG byte stream.
const maxJPEGSize = 8 << 20

// SplitJPEG is a bufio.SplitFunc that yields complete JPEG images from a
// concatenated MJPEG stream. Bytes before a start-of-image marker are dropped.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF in case it is the first half of a marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// NewJPEGScanner returns a scanner over r that yields one JPEG per Scan.
func NewJPEGScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256<<10), maxJPEGSize)
	sc.Split(SplitJPEG)
	return sc
}
