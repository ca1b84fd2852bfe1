package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/dunamismax/pixelforge/internal/transform"
	"golang.org/x/image/bmp"
)

func encodeImage(img image.Image, format transform.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case transform.FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = transform.DefaultQuality
		}
		if err := jpeg.Encode(&buf, jpegCompatible(img), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case transform.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case transform.FormatGIF:
		if err := gif.Encode(&buf, img, &gif.Options{NumColors: 256, Drawer: draw.FloydSteinberg}); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case transform.FormatBMP:
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode bmp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}

// jpegCompatible returns img unchanged when it is already grayscale or
// YCbCr, and otherwise flattens it over white into an opaque RGB raster.
func jpegCompatible(img image.Image) image.Image {
	switch img.(type) {
	case *image.Gray, *image.YCbCr:
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
