package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelforge/internal/transform"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	watermarkInk    = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	watermarkShadow = color.NRGBA{R: 0, G: 0, B: 0, A: 160}
)

// drawWatermark renders text with its top-left corner at the watermark
// position. It reports whether the bitmap fallback face was used.
func (e *Engine) drawWatermark(src image.Image, wm transform.Watermark) (image.Image, bool) {
	face, fallback := e.face()
	defer face.Close()

	dst := imaging.Clone(src)
	ascent := face.Metrics().Ascent.Ceil()
	x := dst.Bounds().Min.X + wm.X
	baseline := dst.Bounds().Min.Y + wm.Y + ascent

	drawer := &font.Drawer{Dst: dst, Face: face}

	drawer.Src = image.NewUniform(watermarkShadow)
	drawer.Dot = fixed.P(x+1, baseline+1)
	drawer.DrawString(wm.Text)

	drawer.Src = image.NewUniform(watermarkInk)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(wm.Text)

	return dst, fallback
}

// face returns a fresh face per call; opentype faces are not safe for
// concurrent use.
func (e *Engine) face() (font.Face, bool) {
	if e.font == nil {
		return basicfont.Face7x13, true
	}
	face, err := opentype.NewFace(e.font, &opentype.FaceOptions{
		Size:    e.fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13, true
	}
	return face, false
}

func (e *Engine) fallbackWarning() Warning {
	detail := "no watermark font configured, using built-in bitmap face"
	if e.fontErr != nil {
		detail = fmt.Sprintf("watermark font unavailable (%v), using built-in bitmap face", e.fontErr)
	}
	return Warning{Code: WarningFontFallback, Detail: detail}
}
