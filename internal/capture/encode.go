package capture

import (
	"bytes"
	"fmt"
	"image/jpeg"
)

// DefaultJPEGQuality is used when the configured quality is out of range.
const DefaultJPEGQuality = 80

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Encoder turns raw frames into JPEG bytes.
type Encoder struct {
	Quality int
}

// Encode returns JPEG bytes for raw. Frames that already carry JPEG data are
// validated and passed through; decoded images are compressed at e.Quality.
// Every failure wraps ErrEncodeFailure.
func (e Encoder) Encode(raw RawFrame) ([]byte, error) {
	switch {
	case raw.JPEG != nil:
		data, err := trimJPEG(raw.JPEG)
		if err != nil {
			return nil, err
		}
		return data, nil

	case raw.Image != nil:
		quality := e.Quality
		if quality < 1 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, raw.Image, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeFailure, err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: empty frame", ErrEncodeFailure)
	}
}

// trimJPEG checks the SOI and EOI markers. Trailing padding after EOI,
// which some V4L2 drivers leave in the buffer, is cut off.
func trimJPEG(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, jpegSOI) {
		return nil, fmt.Errorf("%w: missing SOI marker", ErrEncodeFailure)
	}
	end := bytes.LastIndex(data, jpegEOI)
	if end < len(jpegSOI) {
		return nil, fmt.Errorf("%w: missing EOI marker", ErrEncodeFailure)
	}
	return data[:end+len(jpegEOI)], nil
}
