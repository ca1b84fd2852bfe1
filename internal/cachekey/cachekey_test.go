package cachekey

import (
	"testing"

	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const source = "https://images.example.com/pixelforge/sources/abc.png"

func TestFingerprintIgnoresPayloadFieldOrder(t *testing.T) {
	a, err := transform.Parse([]byte(`{"resize":{"width":200,"height":100},"filters":{"SMOOTH":true,"SHARPEN":true},"format":"jpg","rotate":90}`))
	require.NoError(t, err)
	b, err := transform.Parse([]byte(`{"rotate":90,"format":"JPEG","filters":{"SHARPEN":true,"SMOOTH":true,"BLUR":false},"resize":{"height":100,"width":200}}`))
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(source, a), Fingerprint(source, b))
	assert.Len(t, Fingerprint(source, a), 64)
}

func TestFingerprintNormalizesAbsentFields(t *testing.T) {
	identity, err := transform.Parse([]byte(`{}`))
	require.NoError(t, err)
	explicit, err := transform.Parse([]byte(`{"flip":false,"mirror":false,"watermark":{"text":""},"filters":{}}`))
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(source, identity), Fingerprint(source, explicit))
}

func TestFingerprintDefaultWatermarkPosition(t *testing.T) {
	implicit, err := transform.Parse([]byte(`{"watermark":{"text":"hi"}}`))
	require.NoError(t, err)
	explicit, err := transform.Parse([]byte(`{"watermark":{"text":"hi","position":{"x":10,"y":10}}}`))
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(source, implicit), Fingerprint(source, explicit))
}

func TestFingerprintChangesWithAnySingleField(t *testing.T) {
	base := transform.Spec{
		Resize:    transform.Size{Width: 200, Height: 100},
		Crop:      transform.Rect{X: 1, Y: 2, Width: 30, Height: 40},
		Rotate:    15,
		Watermark: transform.Watermark{Text: "wm", X: 10, Y: 10},
		Filters:   transform.NewFilterSet(transform.FilterSharpen),
		Format:    transform.FormatPNG,
		Quality:   80,
	}

	perturb := map[string]func(s *transform.Spec){
		"resize width":  func(s *transform.Spec) { s.Resize.Width++ },
		"resize height": func(s *transform.Spec) { s.Resize.Height++ },
		"resize absent": func(s *transform.Spec) { s.Resize = transform.Size{} },
		"crop x":        func(s *transform.Spec) { s.Crop.X++ },
		"crop y":        func(s *transform.Spec) { s.Crop.Y-- },
		"crop width":    func(s *transform.Spec) { s.Crop.Width++ },
		"crop height":   func(s *transform.Spec) { s.Crop.Height++ },
		"rotate":        func(s *transform.Spec) { s.Rotate = -15 },
		"rotate absent": func(s *transform.Spec) { s.Rotate = 0 },
		"flip":          func(s *transform.Spec) { s.Flip = true },
		"mirror":        func(s *transform.Spec) { s.Mirror = true },
		"watermark":     func(s *transform.Spec) { s.Watermark.Text = "wm2" },
		"watermark x":   func(s *transform.Spec) { s.Watermark.X = 11 },
		"watermark y":   func(s *transform.Spec) { s.Watermark.Y = 9 },
		"filters":       func(s *transform.Spec) { s.Filters = s.Filters.With(transform.FilterSmooth) },
		"filters none":  func(s *transform.Spec) { s.Filters = 0 },
		"format":        func(s *transform.Spec) { s.Format = transform.FormatGIF },
		"format absent": func(s *transform.Spec) { s.Format = "" },
		"quality":       func(s *transform.Spec) { s.Quality = 81 },
		"quality unset": func(s *transform.Spec) { s.Quality = 0 },
	}

	want := Fingerprint(source, base)
	seen := map[string]string{want: "base"}
	for name, mutate := range perturb {
		spec := base
		mutate(&spec)
		got := Fingerprint(source, spec)
		assert.NotEqual(t, want, got, name)
		if prev, dup := seen[got]; dup {
			t.Errorf("%s collides with %s", name, prev)
		}
		seen[got] = name
	}

	assert.NotEqual(t, want, Fingerprint(source+"?v=2", base))
}

func TestCanonicalStringsCannotBleedIntoNextField(t *testing.T) {
	a := transform.Spec{Watermark: transform.Watermark{Text: "a\nposition=1,1", X: 10, Y: 10}}
	b := transform.Spec{Watermark: transform.Watermark{Text: "a", X: 1, Y: 1}}

	assert.NotEqual(t, Canonical(a), Canonical(b))
}
