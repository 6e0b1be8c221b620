package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

//---------------- Fonts ----------------

// FontConfig holds parameters for one face.
type FontConfig struct {
	Bold     bool
	FontSize float64
}

var fonts = map[string]FontConfig{
	"small": {Bold: false, FontSize: 12},
	"reg":   {Bold: false, FontSize: 16},
	"bold":  {Bold: true, FontSize: 16},
	"big":   {Bold: true, FontSize: 24},
	"huge":  {Bold: true, FontSize: 36},
}

var faceCache = make(map[string]font.Face)

// getFontFace returns a cached face for one of the named sizes. The Go
// fonts ship embedded, so no asset files are needed on the device.
func getFontFace(fontName string) (font.Face, int, error) {
	if face, ok := faceCache[fontName]; ok {
		m := face.Metrics()
		return face, m.Ascent.Round() + m.Descent.Round(), nil
	}
	cfg, ok := fonts[fontName]
	if !ok {
		return nil, 0, fmt.Errorf("font %s not found in mapping", fontName)
	}
	src := goregular.TTF
	if cfg.Bold {
		src = gobold.TTF
	}
	ttf, err := opentype.Parse(src)
	if err != nil {
		return nil, 0, fmt.Errorf("error parsing font: %v", err)
	}
	face, err := opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    cfg.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, 0, err
	}
	faceCache[fontName] = face
	metrics := face.Metrics()
	return face, metrics.Ascent.Round() + metrics.Descent.Round(), nil
}

//---------------- Drawing Functions ----------------

// drawText draws a string onto img at (x,y) top-left, optionally centered
// on x. Returns the finishing coordinates.
func drawText(img *image.RGBA, text string, posX, posY int, face font.Face, clr color.Color, center bool) (finishX, finishY int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
	}

	metrics := face.Metrics()

	x := posX
	if center {
		textWidth := d.MeasureString(text).Round()
		x = posX - textWidth/2
	}
	y := posY + metrics.Ascent.Round()

	d.Dot = fixed.P(x, y)
	d.DrawString(text)

	textWidth := d.MeasureString(text).Round()
	textHeight := metrics.Ascent.Round() + metrics.Descent.Round()
	return x + textWidth, posY + textHeight
}

// measureText returns the pixel width of text in the given face.
func measureText(text string, face font.Face) int {
	d := &font.Drawer{Face: face}
	return d.MeasureString(text).Round()
}

func drawRect(img *image.RGBA, x0, y0, width, height int, c color.Color) {
	r, g, b, a := c.RGBA()
	col := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
	for x := x0; x < x0+width; x++ {
		for y := y0; y < y0+height; y++ {
			img.SetRGBA(x, y, col)
		}
	}
}

// drawRectOutline draws a 1px border.
func drawRectOutline(img *image.RGBA, x0, y0, width, height int, c color.Color) {
	drawRect(img, x0, y0, width, 1, c)
	drawRect(img, x0, y0+height-1, width, 1, c)
	drawRect(img, x0, y0, 1, height, c)
	drawRect(img, x0+width-1, y0, 1, height, c)
}

// drawRoundedRectOutline strokes a rounded rectangle via draw2d. Used
// for selection cursors, where the rounded corners survive 1-bit
// thresholding well.
func drawRoundedRectOutline(img *image.RGBA, x, y, w, h, radius float64, c color.Color) {
	gc := draw2dimg.NewGraphicContext(img)
	gc.SetStrokeColor(c)
	gc.SetLineWidth(2)
	gc.MoveTo(x+radius, y)
	gc.LineTo(x+w-radius, y)
	gc.ArcTo(x+w-radius, y+radius, radius, radius, -90*deg2rad, 90*deg2rad)
	gc.LineTo(x+w, y+h-radius)
	gc.ArcTo(x+w-radius, y+h-radius, radius, radius, 0, 90*deg2rad)
	gc.LineTo(x+radius, y+h)
	gc.ArcTo(x+radius, y+h-radius, radius, radius, 90*deg2rad, 90*deg2rad)
	gc.LineTo(x, y+radius)
	gc.ArcTo(x+radius, y+radius, radius, radius, 180*deg2rad, 90*deg2rad)
	gc.Close()
	gc.Stroke()
}

const deg2rad = 3.14159265358979 / 180

//---------------- SVG Icons ----------------

var svgCache = make(map[string]*image.RGBA)

// drawSVG rasterizes an SVG file at the target size and blits it at
// (x0,y0). Rendered icons are cached by path and size.
func drawSVG(frame *image.RGBA, svgPath string, x0, y0, targetWidth, targetHeight int) error {
	cacheKey := fmt.Sprintf("%s_%d_%d", svgPath, targetWidth, targetHeight)
	if cachedImg, ok := svgCache[cacheKey]; ok {
		copyImageToImageAt(frame, cachedImg, x0, y0)
		return nil
	}

	svgData, err := os.ReadFile(svgPath)
	if err != nil {
		return err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return err
	}
	if targetWidth == 0 {
		targetWidth = int(icon.ViewBox.W)
	}
	if targetHeight == 0 {
		targetHeight = int(icon.ViewBox.H)
	}
	icon.SetTarget(0, 0, float64(targetWidth), float64(targetHeight))

	img := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	scanner := rasterx.NewScannerGV(targetWidth, targetHeight, img, img.Bounds())
	dasher := rasterx.NewDasher(targetWidth, targetHeight, scanner)
	icon.Draw(dasher, 1.0)

	svgCache[cacheKey] = img
	copyImageToImageAt(frame, img, x0, y0)
	return nil
}

// copyImageToImageAt alpha-blends img into frame at (x0,y0).
func copyImageToImageAt(frame *image.RGBA, img *image.RGBA, x0, y0 int) error {
	if frame == nil || img == nil {
		return fmt.Errorf("nil image provided")
	}
	if x0 < 0 || y0 < 0 {
		return fmt.Errorf("x, y is negative: %d,%d", x0, y0)
	}
	b := img.Bounds()
	draw.Draw(frame, image.Rect(x0, y0, x0+b.Dx(), y0+b.Dy()), img, b.Min, draw.Over)
	return nil
}
