//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

const pixfmtMJPEG = webcam.PixelFormat(uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24)

// v4l2BufferCount is the number of mmap buffers queued with the driver.
const v4l2BufferCount = 4

type v4l2Backend struct{}

func newV4L2Backend() Backend { return v4l2Backend{} }

// Open opens a V4L2 device path in MJPEG mode and starts streaming.
func (v4l2Backend) Open(_ context.Context, d Descriptor, h Hints) (Handle, error) {
	cam, err := webcam.Open(d.Target)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Target, err)
	}

	if _, ok := cam.GetSupportedFormats()[pixfmtMJPEG]; !ok {
		cam.Close()
		return nil, fmt.Errorf("%s does not offer MJPEG", d.Target)
	}

	width, height := uint32(h.Width), uint32(h.Height)
	if width == 0 || height == 0 {
		width, height = PlaceholderWidth, PlaceholderHeight
	}
	if _, _, _, err := cam.SetImageFormat(pixfmtMJPEG, width, height); err != nil {
		cam.Close()
		return nil, fmt.Errorf("set MJPEG %dx%d on %s: %w", width, height, d.Target, err)
	}
	if err := cam.SetBufferCount(v4l2BufferCount); err != nil {
		cam.Close()
		return nil, fmt.Errorf("set buffer count on %s: %w", d.Target, err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("start streaming on %s: %w", d.Target, err)
	}

	timeout := h.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	return &v4l2Handle{
		cam:         cam,
		path:        d.Target,
		timeoutSecs: max(uint32(timeout.Seconds()), 1),
	}, nil
}

type v4l2Handle struct {
	cam         *webcam.Webcam
	path        string
	timeoutSecs uint32

	mu     sync.Mutex
	closed bool
}

func (v *v4l2Handle) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed
}

// Configure applies the frame rate. The resolution was fixed at open.
func (v *v4l2Handle) Configure(h Hints) error {
	if h.FPS <= 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrHandleClosed
	}
	return v.cam.SetFramerate(float32(h.FPS))
}

func (v *v4l2Handle) Read() (RawFrame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return RawFrame{}, ErrHandleClosed
	}

	if err := v.cam.WaitForFrame(v.timeoutSecs); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return RawFrame{}, fmt.Errorf("%w: %s timed out", ErrReadFailure, v.path)
		}
		return RawFrame{}, fmt.Errorf("wait for frame on %s: %w", v.path, err)
	}

	buf, idx, err := v.cam.GetFrame()
	if err != nil {
		return RawFrame{}, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}
	// buf aliases an mmap buffer that is handed back to the driver below.
	frame := make([]byte, len(buf))
	copy(frame, buf)
	if err := v.cam.ReleaseFrame(idx); err != nil {
		return RawFrame{}, fmt.Errorf("release buffer on %s: %w", v.path, err)
	}
	if len(frame) == 0 {
		return RawFrame{}, fmt.Errorf("%w: empty buffer", ErrReadFailure)
	}
	return RawFrame{JPEG: frame, CapturedAt: time.Now()}, nil
}

func (v *v4l2Handle) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	_ = v.cam.StopStreaming()
	_ = v.cam.Close()
	return nil
}
