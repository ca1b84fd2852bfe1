package pipeline

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var errEmptySource = errors.New("source image is empty")

type decoder interface {
	Decode(data []byte) (img image.Image, format string, err error)
}

type stdlibDecoder struct{}

func (stdlibDecoder) Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errEmptySource
	}
	return image.Decode(bytes.NewReader(data))
}

// Probe reads the format and dimensions without decoding pixel data.
func Probe(data []byte) (format string, width, height int, err error) {
	if len(data) == 0 {
		return "", 0, 0, errEmptySource
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, err
	}
	return format, cfg.Width, cfg.Height, nil
}
