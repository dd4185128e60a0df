package encode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/media"
	"dicomconv/internal/pixel"
)

// Source is one decoded container ready for encoding.
type Source struct {
	// Name labels errors and logs, usually the uploaded filename.
	Name string
	// Volume is the raw pixel volume; TIFF output uses it to keep 16-bit
	// samples. May be nil.
	Volume *dcm.Volume
	Frames pixel.Frames

	PatientName string
	StudyDate   string
}

// Encoder writes Sources to files.
type Encoder struct {
	Tools  *media.Tools
	Logger hclog.Logger

	// assemblePDF lays out the PDF page. Tests replace it to fail midway.
	assemblePDF func(doc pdfDocument, raster string) error
}

// New returns an Encoder using tools for video output.
func New(tools *media.Tools, logger hclog.Logger) *Encoder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Encoder{Tools: tools, Logger: logger}
}

// Encode writes src to dest in the given format and returns dest. Quality
// applies to JPEG output only. Every error is an *apperr.Error naming the
// source and format.
func (e *Encoder) Encode(ctx context.Context, src Source, format Format, quality int, dest string) (string, error) {
	if len(src.Frames) == 0 {
		return "", apperr.Wrap(apperr.DecodeFailure, src.Name, format.String(), fmt.Errorf("no frames to encode"))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", apperr.Wrap(apperr.ConversionFailure, src.Name, format.String(), fmt.Errorf("could not create output directory: %w", err))
	}

	var err error
	switch format {
	case FormatJPEG:
		err = writeRaster(dest, src.Frames[0], imaging.JPEG, imaging.JPEGQuality(ClampQuality(quality)))
	case FormatPNG:
		err = writeRaster(dest, src.Frames[0], imaging.PNG)
	case FormatTIFF:
		err = writeTIFF(dest, src)
	case FormatPDF:
		err = e.writePDF(dest, src)
	case FormatMP4:
		err = e.writeMP4(ctx, dest, src.Frames)
	default:
		err = apperr.New(apperr.UnsupportedFormat, "unsupported format %q", format)
	}
	if err != nil {
		e.Logger.Error("encode failed", "file", src.Name, "format", format, "error", err)
		return "", apperr.Wrap(apperr.ConversionFailure, src.Name, format.String(), err)
	}

	e.Logger.Debug("encoded", "file", src.Name, "format", format, "frames", len(src.Frames), "dest", dest)
	return dest, nil
}
