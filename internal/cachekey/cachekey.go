// Package cachekey derives derivative fingerprints from a source reference and
// a transform spec.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelforge/internal/transform"
)

const (
	version  = "v1"
	sentinel = "-"
)

// Fingerprint returns the hex SHA-256 of the source reference and the
// canonical form of spec.
func Fingerprint(sourceRef string, spec transform.Spec) string {
	var b strings.Builder
	b.WriteString(version)
	b.WriteByte('\n')
	writeString(&b, "src", strings.TrimSpace(sourceRef))
	b.WriteString(Canonical(spec))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Canonical renders spec with a fixed field order. Absent optional fields are
// written as "-" and strings are length-prefixed so no two specs share a form.
func Canonical(spec transform.Spec) string {
	var b strings.Builder

	if spec.HasResize() {
		writeField(&b, "resize", itoa(spec.Resize.Width)+"x"+itoa(spec.Resize.Height))
	} else {
		writeField(&b, "resize", sentinel)
	}

	if spec.HasCrop() {
		writeField(&b, "crop", strings.Join([]string{
			itoa(spec.Crop.X), itoa(spec.Crop.Y), itoa(spec.Crop.Width), itoa(spec.Crop.Height),
		}, ","))
	} else {
		writeField(&b, "crop", sentinel)
	}

	if spec.HasRotate() {
		writeField(&b, "rotate", itoa(spec.Rotate))
	} else {
		writeField(&b, "rotate", sentinel)
	}

	writeField(&b, "flip", strconv.FormatBool(spec.Flip))
	writeField(&b, "mirror", strconv.FormatBool(spec.Mirror))

	if spec.HasWatermark() {
		writeString(&b, "watermark", spec.Watermark.Text)
		writeField(&b, "position", itoa(spec.Watermark.X)+","+itoa(spec.Watermark.Y))
	} else {
		writeField(&b, "watermark", sentinel)
		writeField(&b, "position", sentinel)
	}

	if spec.Filters.Empty() {
		writeField(&b, "filters", sentinel)
	} else {
		writeField(&b, "filters", spec.Filters.String())
	}

	format := sentinel
	if f, ok := transform.ParseFormat(string(spec.Format)); ok {
		format = string(f)
	}
	writeField(&b, "format", format)

	if spec.HasQuality() {
		writeField(&b, "quality", itoa(spec.Quality))
	} else {
		writeField(&b, "quality", sentinel)
	}

	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('\n')
}

func writeString(b *strings.Builder, name, value string) {
	writeField(b, name, itoa(len(value))+":"+value)
}

func itoa(v int) string { return strconv.Itoa(v) }
