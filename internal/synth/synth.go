// Package synth builds DICOM secondary capture containers from ordinary
// images, PDF documents and videos.
package synth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/image/tiff"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/encode"
	"dicomconv/internal/media"
)

// Defaults for missing patient identifiers.
const (
	DefaultPatientName = "Anonymous"
	DefaultPatientID   = "000000"
)

// Synthesizer converts non-DICOM sources to DICOM files.
type Synthesizer struct {
	Tools  *media.Tools
	Logger hclog.Logger
	Now    func() time.Time
}

// New returns a Synthesizer that uses tools for PDF and video input.
func New(tools *media.Tools, logger hclog.Logger) *Synthesizer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Synthesizer{Tools: tools, Logger: logger, Now: time.Now}
}

// raster is an 8-bit grayscale image flattened row by row.
type raster struct {
	rows, cols int
	pix        []byte
}

// Synthesize reads src as inputFormat and writes a DICOM file to dest.
// Images and PDFs (first page only) become single-frame containers, videos
// become multi-frame containers. Empty identifiers fall back to
// DefaultPatientName and DefaultPatientID.
func (s *Synthesizer) Synthesize(ctx context.Context, src string, inputFormat encode.Format, patientName, patientID, dest string) (string, error) {
	name := filepath.Base(src)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperr.Wrap(apperr.NotFound, name, inputFormat.String(), fmt.Errorf("source file not found"))
		}
		return "", apperr.Wrap(apperr.ConversionFailure, name, inputFormat.String(), err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", apperr.Wrap(apperr.ConversionFailure, name, inputFormat.String(), fmt.Errorf("could not create output directory: %w", err))
	}
	if patientName == "" {
		patientName = DefaultPatientName
	}
	if patientID == "" {
		patientID = DefaultPatientID
	}

	var (
		frames     []raster
		multiframe bool
		err        error
	)
	switch inputFormat {
	case encode.FormatJPEG, encode.FormatPNG, encode.FormatTIFF:
		var r raster
		r, err = loadImage(src, inputFormat)
		frames = []raster{r}
	case encode.FormatPDF:
		var r raster
		r, err = s.loadPDF(ctx, src, filepath.Dir(dest))
		frames = []raster{r}
	case encode.FormatMP4:
		frames, err = s.loadVideo(ctx, src, filepath.Dir(dest))
		multiframe = true
	default:
		err = apperr.New(apperr.UnsupportedFormat, "unsupported input format %q", inputFormat)
	}
	if err != nil {
		s.Logger.Error("synthesis failed", "file", name, "format", inputFormat, "error", err)
		return "", apperr.Wrap(apperr.ConversionFailure, name, inputFormat.String(), err)
	}

	capture := dcm.Capture{
		Rows:        frames[0].rows,
		Cols:        frames[0].cols,
		Frames:      make([][]byte, len(frames)),
		Multiframe:  multiframe,
		PatientName: patientName,
		PatientID:   patientID,
		Created:     s.now(),
	}
	for i, f := range frames {
		if f.rows != capture.Rows || f.cols != capture.Cols {
			return "", apperr.Wrap(apperr.ConversionFailure, name, inputFormat.String(),
				fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, f.cols, f.rows, capture.Cols, capture.Rows))
		}
		capture.Frames[i] = f.pix
	}

	ds, err := dcm.NewSecondaryCapture(capture)
	if err != nil {
		return "", apperr.Wrap(apperr.ConversionFailure, name, inputFormat.String(), err)
	}
	if err := ds.Save(dest); err != nil {
		return "", apperr.Wrap(apperr.ConversionFailure, name, inputFormat.String(), err)
	}

	s.Logger.Debug("synthesized", "file", name, "format", inputFormat, "frames", len(frames), "dest", dest)
	return dest, nil
}

func (s *Synthesizer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func loadImage(path string, format encode.Format) (raster, error) {
	var (
		img image.Image
		err error
	)
	if format == encode.FormatTIFF {
		img, err = decodeTIFF(path)
	} else {
		img, err = imaging.Open(path)
	}
	if err != nil {
		return raster{}, &apperr.Error{Kind: apperr.DecodeFailure, Err: fmt.Errorf("could not decode %s: %w", format, err)}
	}
	return toGray(img), nil
}

func decodeTIFF(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tiff.Decode(f)
}

// toGray converts img to 8-bit luma.
func toGray(img image.Image) raster {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	r := raster{rows: b.Dy(), cols: b.Dx(), pix: make([]byte, b.Dx()*b.Dy())}
	for i := range r.pix {
		r.pix[i] = g.Pix[i*4]
	}
	return r
}

func (s *Synthesizer) loadPDF(ctx context.Context, src, workDir string) (raster, error) {
	if s.Tools == nil {
		return raster{}, fmt.Errorf("PDF rendering is not configured")
	}
	pages, err := s.Tools.PageCount(ctx, src)
	if err != nil {
		return raster{}, &apperr.Error{Kind: apperr.DecodeFailure, Err: err}
	}
	if pages == 0 {
		return raster{}, fmt.Errorf("no pages found")
	}

	tmp, err := os.MkdirTemp(workDir, ".pdf-*")
	if err != nil {
		return raster{}, fmt.Errorf("could not create render directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	png, err := s.Tools.RenderFirstPage(ctx, src, filepath.Join(tmp, "page"))
	if err != nil {
		return raster{}, err
	}
	return loadImage(png, encode.FormatPNG)
}

func (s *Synthesizer) loadVideo(ctx context.Context, src, workDir string) ([]raster, error) {
	if s.Tools == nil {
		return nil, fmt.Errorf("video decoding is not configured")
	}
	tmp, err := os.MkdirTemp(workDir, ".frames-*")
	if err != nil {
		return nil, fmt.Errorf("could not create frame directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	paths, err := s.Tools.DecodeVideo(ctx, src, tmp)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.DecodeFailure, Err: err}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames extracted")
	}

	frames := make([]raster, len(paths))
	for i, p := range paths {
		if frames[i], err = loadImage(p, encode.FormatPNG); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return frames, nil
}
