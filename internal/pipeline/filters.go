package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// kernel is a convolution matrix with a divisor and an offset added after
// division: out = sum(k*p)/scale + offset.
type kernel struct {
	size    int
	weights []float64
	scale   float64
	offset  int
}

var kernels = map[transform.Filter]kernel{
	transform.FilterBlur: {size: 5, scale: 16, weights: []float64{
		1, 1, 1, 1, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 1, 1, 1, 1,
	}},
	transform.FilterContour: {size: 3, scale: 1, offset: 255, weights: []float64{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	}},
	transform.FilterDetail: {size: 3, scale: 6, weights: []float64{
		0, -1, 0,
		-1, 10, -1,
		0, -1, 0,
	}},
	transform.FilterEdgeEnhance: {size: 3, scale: 2, weights: []float64{
		-1, -1, -1,
		-1, 10, -1,
		-1, -1, -1,
	}},
	transform.FilterEdgeEnhanceMore: {size: 3, scale: 1, weights: []float64{
		-1, -1, -1,
		-1, 9, -1,
		-1, -1, -1,
	}},
	transform.FilterFindEdges: {size: 3, scale: 1, weights: []float64{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	}},
	transform.FilterSharpen: {size: 3, scale: 16, weights: []float64{
		-2, -2, -2,
		-2, 32, -2,
		-2, -2, -2,
	}},
	transform.FilterSmooth: {size: 3, scale: 13, weights: []float64{
		1, 1, 1,
		1, 5, 1,
		1, 1, 1,
	}},
	transform.FilterSmoothMore: {size: 5, scale: 100, weights: []float64{
		1, 1, 1, 1, 1,
		1, 5, 5, 5, 1,
		1, 5, 44, 5, 1,
		1, 5, 5, 5, 1,
		1, 1, 1, 1, 1,
	}},
}

func applyFilter(img image.Image, f transform.Filter) image.Image {
	k, ok := kernels[f]
	if !ok {
		return img
	}

	opts := &imaging.ConvolveOptions{Bias: k.offset}
	switch k.size {
	case 3:
		var m [9]float64
		for i, w := range k.weights {
			m[i] = w / k.scale
		}
		return imaging.Convolve3x3(img, m, opts)
	case 5:
		var m [25]float64
		for i, w := range k.weights {
			m[i] = w / k.scale
		}
		return imaging.Convolve5x5(img, m, opts)
	default:
		return img
	}
}
