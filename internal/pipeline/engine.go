package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelforge/internal/apperr"
	"github.com/dunamismax/pixelforge/internal/transform"
	"golang.org/x/image/font/opentype"
)

const (
	WarningCropSkipped  = "crop_skipped"
	WarningFontFallback = "font_fallback"
)

// Warning is a non-fatal condition met while executing a spec.
type Warning struct {
	Code   string
	Detail string
}

type Result struct {
	Data     []byte
	Format   transform.Format
	Width    int
	Height   int
	Warnings []Warning
}

// ErrTooLarge reports a source or intermediate raster above the engine's
// pixel limit.
var ErrTooLarge = errors.New("image exceeds pixel limit")

type Options struct {
	// FontPath points at a TrueType/OpenType font used for watermarks. When it
	// is empty or cannot be loaded the built-in bitmap face is used.
	FontPath string
	FontSize float64
	// MaxPixels bounds decoded sources and every raster produced while
	// executing. Zero means transform.MaxPixels.
	MaxPixels int64
}

// Engine executes transform specs against encoded images. It is safe for
// concurrent use; each Execute call is single-threaded apart from the
// row-parallel loops inside imaging.
type Engine struct {
	decoder  decoder
	font     *opentype.Font
	fontSize float64
	fontErr  error

	maxPixels int64
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		decoder:   newDecoder(),
		fontSize:  opts.FontSize,
		maxPixels: opts.MaxPixels,
	}
	if e.maxPixels <= 0 {
		e.maxPixels = transform.MaxPixels
	}
	if e.fontSize <= 0 {
		e.fontSize = 24
	}
	if opts.FontPath != "" {
		e.font, e.fontErr = loadFont(opts.FontPath)
	}
	return e
}

func loadFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return opentype.Parse(data)
}

// Execute runs the fixed operation order: decode, resize, crop, rotate, flip,
// mirror, watermark, filters, encode.
func (e *Engine) Execute(ctx context.Context, source []byte, spec transform.Spec) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Headers are checked before any pixel buffer is allocated. Formats the
	// standard decoders cannot read are left to the decoder.
	if _, w, h, err := Probe(source); err == nil {
		if err := e.checkSize("source", w, h); err != nil {
			return Result{}, apperr.Wrap(apperr.KindDecode, "source exceeds the pixel limit", err)
		}
	}

	img, detected, err := e.decoder.Decode(source)
	if err != nil {
		return Result{}, apperr.Decode(err)
	}
	if err := e.checkSize("source", img.Bounds().Dx(), img.Bounds().Dy()); err != nil {
		return Result{}, apperr.Wrap(apperr.KindDecode, "source exceeds the pixel limit", err)
	}

	var warnings []Warning

	if spec.HasResize() {
		if err := e.checkSize("resize", spec.Resize.Width, spec.Resize.Height); err != nil {
			return Result{}, apperr.Processing("resize", err)
		}
		img = imaging.Resize(img, spec.Resize.Width, spec.Resize.Height, imaging.Lanczos)
	}

	if spec.HasCrop() {
		region, ok := clampCrop(img.Bounds(), spec.Crop)
		if ok {
			img = imaging.Crop(img, region)
		} else {
			warnings = append(warnings, Warning{
				Code:   WarningCropSkipped,
				Detail: "crop region lies outside the image after clamping",
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// The canvas always grows to fit the rotated image.
	if spec.HasRotate() {
		w, h := rotatedSize(img.Bounds(), spec.Rotate)
		if err := e.checkSize("rotate", w, h); err != nil {
			return Result{}, apperr.Processing("rotate", err)
		}
		img = imaging.Rotate(img, float64(spec.Rotate), color.Transparent)
	}
	if spec.Flip {
		img = imaging.FlipV(img)
	}
	if spec.Mirror {
		img = imaging.FlipH(img)
	}

	if spec.HasWatermark() {
		var fallback bool
		img, fallback = e.drawWatermark(img, spec.Watermark)
		if fallback {
			warnings = append(warnings, e.fallbackWarning())
		}
	}

	for _, f := range spec.Filters.Filters() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		img = applyFilter(img, f)
	}

	format := resolveFormat(spec.Format, detected)
	quality := transform.DefaultQuality
	if spec.HasQuality() {
		quality = spec.Quality
	}

	data, err := encodeImage(img, format, quality)
	if err != nil {
		return Result{}, apperr.Processing("encode "+string(format), err)
	}

	bounds := img.Bounds()
	return Result{
		Data:     data,
		Format:   format,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Warnings: warnings,
	}, nil
}

func (e *Engine) checkSize(stage string, width, height int) error {
	if transform.Pixels(width, height) > e.maxPixels {
		return fmt.Errorf("%w: %s is %dx%d, limit is %d pixels", ErrTooLarge, stage, width, height, e.maxPixels)
	}
	return nil
}

// rotatedSize is the bounding box of bounds rotated by degrees.
func rotatedSize(bounds image.Rectangle, degrees int) (int, int) {
	rad := float64(degrees) * math.Pi / 180
	sin, cos := math.Abs(math.Sin(rad)), math.Abs(math.Cos(rad))
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	return int(math.Ceil(w*cos + h*sin)), int(math.Ceil(w*sin + h*cos))
}

// clampCrop clamps the (x, y, x+w, y+h) box into the raster. A degenerate
// box after clamping is reported as not ok.
func clampCrop(bounds image.Rectangle, r transform.Rect) (image.Rectangle, bool) {
	w, h := bounds.Dx(), bounds.Dy()

	left := clamp(r.X, 0, w)
	top := clamp(r.Y, 0, h)
	right := clamp(r.X+r.Width, 0, w)
	bottom := clamp(r.Y+r.Height, 0, h)
	if right <= left || bottom <= top {
		return image.Rectangle{}, false
	}
	return image.Rect(left, top, right, bottom).Add(bounds.Min), true
}

// resolveFormat applies spec format > detected source format > jpeg.
func resolveFormat(requested transform.Format, detected string) transform.Format {
	if f, ok := transform.ParseFormat(string(requested)); ok {
		return f
	}
	if f, ok := transform.ParseFormat(detected); ok {
		return f
	}
	return transform.FormatJPEG
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
