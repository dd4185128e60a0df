// Package encode writes normalized DICOM pixel data to common image,
// document and video formats.
package encode

import (
	"fmt"
	"strings"

	"dicomconv/internal/apperr"
)

// Format is an output (or, for synthesis, input) file format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
	FormatPDF  Format = "pdf"
	FormatMP4  Format = "mp4"
)

// Formats lists every supported format.
var Formats = []Format{FormatJPEG, FormatPNG, FormatTIFF, FormatPDF, FormatMP4}

// ParseFormat maps a format tag to a Format. Tags are case-insensitive.
func ParseFormat(tag string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(tag))); f {
	case FormatJPEG, FormatPNG, FormatTIFF, FormatPDF, FormatMP4:
		return f, nil
	}
	return "", &apperr.Error{
		Kind:   apperr.UnsupportedFormat,
		Format: tag,
		Err:    fmt.Errorf("unsupported format %q", tag),
	}
}

// Ext returns the file extension, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) String() string { return string(f) }

const (
	DefaultQuality = 95
	minQuality     = 1
	maxQuality     = 100
)

// ClampQuality limits a JPEG quality to 1..100.
func ClampQuality(q int) int {
	return max(minQuality, min(maxQuality, q))
}
