//go:build govips && cgo

package pipeline

import (
	"fmt"
	"image"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newDecoder() decoder {
	return govipsDecoder{fallback: stdlibDecoder{}}
}

// govipsDecoder loads sources through libvips and hands the raster to the
// pure-Go operations as a lossless PNG round trip. Formats libvips does not
// know fall back to the standard decoders.
type govipsDecoder struct {
	fallback decoder
}

func (d govipsDecoder) Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errEmptySource
	}

	format := formatFromVips(vips.DetermineImageType(data))
	if format == "" {
		return d.fallback.Decode(data)
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("vips load %s: %w", format, err)
	}
	defer ref.Close()

	img, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("vips export raster: %w", err)
	}
	return img, format, nil
}

func formatFromVips(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypePNG:
		return "png"
	case vips.ImageTypeGIF:
		return "gif"
	case vips.ImageTypeWEBP:
		return "webp"
	default:
		return ""
	}
}
