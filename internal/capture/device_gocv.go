//go:build gocv

package capture

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

type indexBackend struct{}

func newIndexBackend() Backend { return indexBackend{} }

// Open opens a capture device by index through OpenCV.
func (indexBackend) Open(_ context.Context, d Descriptor, _ Hints) (Handle, error) {
	idx, err := strconv.Atoi(d.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an index", ErrInvalidDescriptor, d.Target)
	}

	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", idx, err)
	}
	return &indexHandle{vc: vc, mat: gocv.NewMat(), index: idx}, nil
}

type indexHandle struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	index int

	mu     sync.Mutex
	closed bool
}

func (c *indexHandle) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.vc.IsOpened()
}

// Configure requests resolution and frame rate and reports what the driver refused.
func (c *indexHandle) Configure(h Hints) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrHandleClosed
	}

	if h.Width > 0 && h.Height > 0 {
		c.vc.Set(gocv.VideoCaptureFrameWidth, float64(h.Width))
		c.vc.Set(gocv.VideoCaptureFrameHeight, float64(h.Height))
	}
	if h.FPS > 0 {
		c.vc.Set(gocv.VideoCaptureFPS, float64(h.FPS))
	}

	if h.Width > 0 && h.Height > 0 {
		w := int(c.vc.Get(gocv.VideoCaptureFrameWidth))
		ht := int(c.vc.Get(gocv.VideoCaptureFrameHeight))
		if w != h.Width || ht != h.Height {
			return fmt.Errorf("camera %d kept %dx%d instead of %dx%d", c.index, w, ht, h.Width, h.Height)
		}
	}
	return nil
}

func (c *indexHandle) Read() (RawFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return RawFrame{}, ErrHandleClosed
	}

	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return RawFrame{}, fmt.Errorf("%w: camera %d returned no frame", ErrReadFailure, c.index)
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return RawFrame{}, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}
	return RawFrame{Image: img, CapturedAt: time.Now()}, nil
}

func (c *indexHandle) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.mat.Close()
	_ = c.vc.Close()
	return nil
}
