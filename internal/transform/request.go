package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelforge/internal/apperr"
	"github.com/go-playground/validator/v10"
)

// Request is the wire form of a transform as submitted by clients.
type Request struct {
	Resize    *SizeRequest      `json:"resize,omitempty"`
	Crop      *CropRequest      `json:"crop,omitempty"`
	Rotate    json.Number       `json:"rotate,omitempty"`
	Flip      bool              `json:"flip,omitempty"`
	Mirror    bool              `json:"mirror,omitempty"`
	Watermark *WatermarkRequest `json:"watermark,omitempty"`
	Filters   map[string]bool   `json:"filters,omitempty"`
	Format    string            `json:"format,omitempty" validate:"omitempty,oneof=jpeg jpg png bmp gif"`
	Compress  *CompressRequest  `json:"compress,omitempty"`
}

type SizeRequest struct {
	Width  int `json:"width" validate:"gt=0"`
	Height int `json:"height" validate:"gt=0"`
}

type CropRequest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width" validate:"gt=0"`
	Height int `json:"height" validate:"gt=0"`
}

type WatermarkRequest struct {
	Text     string           `json:"text"`
	Position *PositionRequest `json:"position,omitempty"`
}

type PositionRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type CompressRequest struct {
	Quality *int `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Parse decodes and validates a JSON transform payload.
func Parse(data []byte) (Spec, error) {
	var req Request
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return Spec{}, apperr.Validation("invalid transform payload: %v", err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return Spec{}, apperr.Validation("invalid transform payload: multiple JSON values are not allowed")
		}
	}
	return FromRequest(req)
}

// FromRequest validates req and builds the canonical Spec. Crop geometry is
// only checked for positive size; bounds are resolved when the crop runs.
func FromRequest(req Request) (Spec, error) {
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if err := validate.Struct(req); err != nil {
		return Spec{}, translateValidation(err)
	}

	var spec Spec
	if req.Resize != nil {
		if Pixels(req.Resize.Width, req.Resize.Height) > MaxPixels {
			return Spec{}, apperr.Validation("resize of %dx%d exceeds the %d pixel limit",
				req.Resize.Width, req.Resize.Height, MaxPixels)
		}
		spec.Resize = Size{Width: req.Resize.Width, Height: req.Resize.Height}
	}
	if req.Crop != nil {
		spec.Crop = Rect{X: req.Crop.X, Y: req.Crop.Y, Width: req.Crop.Width, Height: req.Crop.Height}
	}
	if req.Rotate != "" {
		degrees, err := strconv.Atoi(req.Rotate.String())
		if err != nil {
			return Spec{}, apperr.Validation("rotate must be an integer number of degrees, got %s", req.Rotate)
		}
		spec.Rotate = degrees
	}
	spec.Flip = req.Flip
	spec.Mirror = req.Mirror

	if req.Watermark != nil && req.Watermark.Text != "" {
		spec.Watermark = Watermark{Text: req.Watermark.Text, X: DefaultWatermarkX, Y: DefaultWatermarkY}
		if p := req.Watermark.Position; p != nil {
			spec.Watermark.X, spec.Watermark.Y = p.X, p.Y
		}
	}

	for name, enabled := range req.Filters {
		f, ok := ParseFilter(name)
		if !ok {
			return Spec{}, apperr.Validation("unknown filter %q", name)
		}
		if enabled {
			spec.Filters = spec.Filters.With(f)
		}
	}

	if req.Format != "" {
		format, ok := ParseFormat(req.Format)
		if !ok {
			return Spec{}, apperr.Validation("unsupported format %q", req.Format)
		}
		spec.Format = format
	}

	if req.Compress != nil {
		spec.Quality = DefaultQuality
		if req.Compress.Quality != nil {
			spec.Quality = *req.Compress.Quality
		}
	}

	return spec, nil
}

// Request renders s back into its wire form.
func (s Spec) Request() Request {
	var req Request
	if s.HasResize() {
		req.Resize = &SizeRequest{Width: s.Resize.Width, Height: s.Resize.Height}
	}
	if s.HasCrop() {
		req.Crop = &CropRequest{X: s.Crop.X, Y: s.Crop.Y, Width: s.Crop.Width, Height: s.Crop.Height}
	}
	if s.HasRotate() {
		req.Rotate = json.Number(strconv.Itoa(s.Rotate))
	}
	req.Flip = s.Flip
	req.Mirror = s.Mirror
	if s.HasWatermark() {
		req.Watermark = &WatermarkRequest{
			Text:     s.Watermark.Text,
			Position: &PositionRequest{X: s.Watermark.X, Y: s.Watermark.Y},
		}
	}
	if !s.Filters.Empty() {
		req.Filters = make(map[string]bool)
		for _, f := range s.Filters.Filters() {
			req.Filters[f.String()] = true
		}
	}
	req.Format = string(s.Format)
	if s.HasQuality() {
		q := s.Quality
		req.Compress = &CompressRequest{Quality: &q}
	}
	return req
}

func translateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("invalid transform: %v", err)
	}

	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "gt":
		return apperr.Validation("%s must be greater than %s", field, fe.Param())
	case "min", "max":
		return apperr.Validation("%s must be between 1 and 100", field)
	case "oneof":
		return apperr.Validation("%s must be one of: %s", field, fe.Param())
	default:
		return apperr.Validation("%s failed %s validation", field, fe.Tag())
	}
}

func (s Spec) String() string {
	var parts []string
	if s.HasResize() {
		parts = append(parts, fmt.Sprintf("resize=%dx%d", s.Resize.Width, s.Resize.Height))
	}
	if s.HasCrop() {
		parts = append(parts, fmt.Sprintf("crop=%d,%d,%dx%d", s.Crop.X, s.Crop.Y, s.Crop.Width, s.Crop.Height))
	}
	if s.HasRotate() {
		parts = append(parts, fmt.Sprintf("rotate=%d", s.Rotate))
	}
	if s.Flip {
		parts = append(parts, "flip")
	}
	if s.Mirror {
		parts = append(parts, "mirror")
	}
	if s.HasWatermark() {
		parts = append(parts, fmt.Sprintf("watermark@%d,%d", s.Watermark.X, s.Watermark.Y))
	}
	if !s.Filters.Empty() {
		parts = append(parts, "filters="+s.Filters.String())
	}
	if s.Format != "" {
		parts = append(parts, "format="+string(s.Format))
	}
	if s.HasQuality() {
		parts = append(parts, fmt.Sprintf("quality=%d", s.Quality))
	}
	if len(parts) == 0 {
		return "identity"
	}
	return strings.Join(parts, " ")
}
