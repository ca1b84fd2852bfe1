// Package transform holds the validated, canonical description of a requested
// image transformation.
package transform

import "strings"

const (
	DefaultQuality    = 85
	DefaultWatermarkX = 10
	DefaultWatermarkY = 10

	// MaxPixels bounds the area of a requested resize. Engines may enforce a
	// lower limit on decoded sources and intermediate rasters.
	MaxPixels int64 = 100_000_000
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatGIF  Format = "gif"
)

// ParseFormat normalizes a format name. The empty string is not a format.
func ParseFormat(in string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "bmp":
		return FormatBMP, true
	case "gif":
		return FormatGIF, true
	default:
		return "", false
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatBMP:
		return "image/bmp"
	case FormatGIF:
		return "image/gif"
	default:
		return "image/png"
	}
}

func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

type Size struct {
	Width  int
	Height int
}

// Rect is a crop region. It is not clamped here; the pipeline clamps it
// against the raster it is applied to.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

type Watermark struct {
	Text string
	X    int
	Y    int
}

// Spec is a validated transformation. The zero value is the identity
// transform. Spec is comparable and copied by value.
type Spec struct {
	Resize    Size
	Crop      Rect
	Rotate    int
	Flip      bool
	Mirror    bool
	Watermark Watermark
	Filters   FilterSet
	Format    Format
	Quality   int
}

func (s Spec) HasResize() bool    { return s.Resize.Width > 0 && s.Resize.Height > 0 }
func (s Spec) HasCrop() bool      { return s.Crop.Width > 0 && s.Crop.Height > 0 }
func (s Spec) HasRotate() bool    { return s.Rotate != 0 }
func (s Spec) HasWatermark() bool { return s.Watermark.Text != "" }
func (s Spec) HasQuality() bool   { return s.Quality > 0 }

func (s Spec) IsIdentity() bool { return s == Spec{} }

// Pixels is the area of a width x height raster, computed without overflow.
func Pixels(width, height int) int64 {
	return int64(width) * int64(height)
}
