package capture

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Placeholder frame geometry.
const (
	PlaceholderWidth  = 640
	PlaceholderHeight = 480
)

const (
	placeholderText  = "CAMERA UNAVAILABLE"
	placeholderScale = 3
)

var (
	placeholderBackground = color.RGBA{0x1e, 0x1e, 0x1e, 0xff}
	placeholderForeground = color.RGBA{0xe8, 0xe8, 0xe8, 0xff}
)

// PlaceholderImage renders the "camera unavailable" frame: a solid
// background with the message centered.
func PlaceholderImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, PlaceholderWidth, PlaceholderHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderBackground), image.Point{}, draw.Src)

	label := renderText(placeholderText, placeholderForeground, placeholderBackground)
	stampScaled(img, label, image.Pt(PlaceholderWidth/2, PlaceholderHeight/2), placeholderScale)
	return img
}

// RenderPlaceholder returns the placeholder frame as JPEG.
func RenderPlaceholder(quality int) ([]byte, error) {
	return Encoder{Quality: quality}.Encode(RawFrame{Image: PlaceholderImage()})
}

// renderText draws s onto a tight canvas using the 7x13 bitmap font.
func renderText(s string, fg, bg color.Color) *image.RGBA {
	face := basicfont.Face7x13
	metrics := face.Metrics()

	d := &font.Drawer{Face: face}
	width := d.MeasureString(s).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	d.Dst = img
	d.Src = image.NewUniform(fg)
	d.Dot = fixed.P(0, metrics.Ascent.Ceil())
	d.DrawString(s)
	return img
}

// stampScaled enlarges src by scale and draws it centered on center.
func stampScaled(dst draw.Image, src image.Image, center image.Point, scale int) {
	sb := src.Bounds()
	w, h := sb.Dx()*scale, sb.Dy()*scale
	r := image.Rect(center.X-w/2, center.Y-h/2, center.X-w/2+w, center.Y-h/2+h)
	xdraw.NearestNeighbor.Scale(dst, r, src, sb, xdraw.Src, nil)
}
