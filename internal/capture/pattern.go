package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"
)

var barColors = []color.RGBA{
	{0xc0, 0xc0, 0xc0, 0xff},
	{0xc0, 0xc0, 0x00, 0xff},
	{0x00, 0xc0, 0xc0, 0xff},
	{0x00, 0xc0, 0x00, 0xff},
	{0xc0, 0x00, 0xc0, 0xff},
	{0xc0, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xc0, 0xff},
}

type patternBackend struct{}

func newPatternBackend() Backend { return patternBackend{} }

// Open returns a synthetic source. Known names: bars, gradient, black.
func (patternBackend) Open(_ context.Context, d Descriptor, h Hints) (Handle, error) {
	switch d.Target {
	case "bars", "gradient", "black":
	default:
		return nil, fmt.Errorf("unknown pattern %q", d.Target)
	}

	w, ht := h.Width, h.Height
	if w <= 0 || ht <= 0 {
		w, ht = PlaceholderWidth, PlaceholderHeight
	}
	return &patternHandle{name: d.Target, width: w, height: ht}, nil
}

type patternHandle struct {
	name          string
	width, height int

	mu     sync.Mutex
	tick   int
	closed bool
}

func (p *patternHandle) Ready() bool { return true }

func (p *patternHandle) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *patternHandle) Read() (RawFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return RawFrame{}, ErrHandleClosed
	}
	p.tick++

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	switch p.name {
	case "bars":
		p.drawBars(img)
	case "gradient":
		p.drawGradient(img)
	}

	now := time.Now()
	stamp := renderText(now.Format("15:04:05.000"), color.White, color.Black)
	draw.Draw(img, stamp.Bounds().Add(image.Pt(8, 8)), stamp, image.Point{}, draw.Src)

	return RawFrame{Image: img, CapturedAt: now}, nil
}

func (p *patternHandle) drawBars(img *image.RGBA) {
	barWidth := max(p.width/len(barColors), 1)
	for i, c := range barColors {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, p.height)
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}

	// A sweeping line makes motion visible in the stream.
	x := (p.tick * 4) % p.width
	draw.Draw(img, image.Rect(x, 0, x+4, p.height), image.NewUniform(color.White), image.Point{}, draw.Src)
}

func (p *patternHandle) drawGradient(img *image.RGBA) {
	shift := p.tick * 2
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			v := uint8(((x + shift) % p.width) * 255 / p.width)
			img.SetRGBA(x, y, color.RGBA{v, uint8(y * 255 / p.height), 255 - v, 0xff})
		}
	}
}
