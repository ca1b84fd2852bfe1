package pipeline

import (
	"context"
	"testing"

	"github.com/dunamismax/pixelforge/internal/transform"
)

func BenchmarkEngineResizeJPEG(b *testing.B) {
	source := buildTestPNG(b, 1920, 1080)
	engine := NewEngine(Options{})
	spec := transform.Spec{
		Resize:  transform.Size{Width: 640, Height: 360},
		Format:  transform.FormatJPEG,
		Quality: 82,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Execute(context.Background(), source, spec); err != nil {
			b.Fatalf("execute: %v", err)
		}
	}
}

func BenchmarkEngineWatermarkFilters(b *testing.B) {
	source := buildTestPNG(b, 1920, 1080)
	engine := NewEngine(Options{})
	spec := transform.Spec{
		Watermark: transform.Watermark{Text: "pixelforge", X: 10, Y: 10},
		Filters:   transform.NewFilterSet(transform.FilterSharpen, transform.FilterSmooth),
		Format:    transform.FormatPNG,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Execute(context.Background(), source, spec); err != nil {
			b.Fatalf("execute: %v", err)
		}
	}
}
