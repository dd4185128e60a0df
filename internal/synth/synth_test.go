package synth

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/tiff"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/encode"
	"dicomconv/internal/media"
)

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 10)})
		}
	}
	return img
}

// fakeTools answers pdfinfo with a fixed page count and emulates ffmpeg
// frame extraction by writing n PNG frames.
type fakeTools struct {
	pages  int
	frames int
	w, h   int
}

func (f *fakeTools) Run(_ context.Context, _ io.Reader, name string, args ...string) ([]byte, error) {
	switch name {
	case "pdfinfo":
		return []byte(fmt.Sprintf("Producer: test\nPages: %d\n", f.pages)), nil
	case "pdftoppm":
		prefix := args[len(args)-1]
		return nil, imaging.Save(gradient(f.w, f.h), prefix+".png")
	case "ffmpeg":
		pattern := args[len(args)-1]
		for i := 1; i <= f.frames; i++ {
			if err := imaging.Save(gradient(f.w, f.h), fmt.Sprintf(pattern, i)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected tool %s", name)
}

func newTestSynth(ft *fakeTools) *Synthesizer {
	s := New(&media.Tools{FFmpeg: "ffmpeg", PDFInfo: "pdfinfo", PDFToPPM: "pdftoppm", Runner: ft}, nil)
	s.Now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func writeSource(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if strings.HasSuffix(name, ".tiff") {
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, tiff.Encode(f, img, nil))
		require.NoError(t, f.Close())
		return path
	}
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestSynthesizeImages(t *testing.T) {
	dir := t.TempDir()
	s := newTestSynth(&fakeTools{})

	for _, tc := range []struct {
		file   string
		format encode.Format
	}{
		{"in.png", encode.FormatPNG},
		{"in.jpg", encode.FormatJPEG},
		{"in.tiff", encode.FormatTIFF},
	} {
		t.Run(string(tc.format), func(t *testing.T) {
			src := writeSource(t, dir, tc.file, gradient(20, 12))
			dest := filepath.Join(dir, "out", tc.file+".dcm")

			got, err := s.Synthesize(context.Background(), src, tc.format, "", "", dest)
			require.NoError(t, err)
			assert.Equal(t, dest, got)

			ds, err := dcm.ReadDicom(dest)
			require.NoError(t, err)
			assert.Equal(t, DefaultPatientName, ds.GetString(tag.PatientName))
			assert.Equal(t, DefaultPatientID, ds.GetString(tag.PatientID))
			assert.Equal(t, "20250102", ds.GetString(tag.StudyDate))
			assert.Equal(t, dcm.ExplicitVRLittleEndian, ds.GetTransferSyntax())
			assert.Equal(t, dcm.PhotometricMonochrome2, ds.GetPhotometricInterpretation())

			vol, err := ds.PixelVolume()
			require.NoError(t, err)
			assert.Equal(t, 1, vol.Frames)
			assert.Equal(t, 12, vol.Rows)
			assert.Equal(t, 20, vol.Cols)
			assert.Equal(t, 8, vol.BitsAllocated)
		})
	}
}

func TestSynthesizeKeepsPixelsForLosslessInput(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "in.png", gradient(5, 2))
	dest := filepath.Join(dir, "out.dcm")

	_, err := newTestSynth(&fakeTools{}).Synthesize(context.Background(), src, encode.FormatPNG, "Doe^John", "P-1", dest)
	require.NoError(t, err)

	ds, err := dcm.ReadDicom(dest)
	require.NoError(t, err)
	assert.Equal(t, "Doe^John", ds.GetString(tag.PatientName))
	assert.Equal(t, "P-1", ds.GetString(tag.PatientID))

	vol, err := ds.PixelVolume()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 20, 30, 40, 0, 10, 20, 30, 40}, vol.Data)
}

func TestSynthesizeFreshUIDs(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "in.png", gradient(4, 4))
	s := newTestSynth(&fakeTools{})

	a := filepath.Join(dir, "a.dcm")
	b := filepath.Join(dir, "b.dcm")
	_, err := s.Synthesize(context.Background(), src, encode.FormatPNG, "", "", a)
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), src, encode.FormatPNG, "", "", b)
	require.NoError(t, err)

	da, err := dcm.ReadDicom(a)
	require.NoError(t, err)
	db, err := dcm.ReadDicom(b)
	require.NoError(t, err)
	for _, tg := range []tag.Tag{tag.SOPInstanceUID, tag.StudyInstanceUID, tag.SeriesInstanceUID} {
		assert.NotEqual(t, da.GetString(tg), db.GetString(tg))
	}
}

func TestSynthesizePDF(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0644))
	dest := filepath.Join(dir, "doc.dcm")

	_, err := newTestSynth(&fakeTools{pages: 3, w: 30, h: 40}).Synthesize(context.Background(), src, encode.FormatPDF, "", "", dest)
	require.NoError(t, err)

	ds, err := dcm.ReadDicom(dest)
	require.NoError(t, err)
	vol, err := ds.PixelVolume()
	require.NoError(t, err)
	assert.Equal(t, 1, vol.Frames)
	assert.Equal(t, 40, vol.Rows)
	assert.Equal(t, 30, vol.Cols)

	// Render scratch space is gone.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSynthesizePDFWithoutPages(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0644))

	_, err := newTestSynth(&fakeTools{pages: 0}).Synthesize(context.Background(), src, encode.FormatPDF, "", "", filepath.Join(dir, "x.dcm"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ConversionFailure)
	assert.Contains(t, err.Error(), "no pages found")
	assert.Contains(t, err.Error(), "empty.pdf")
}

func TestSynthesizeVideo(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("not really a video"), 0644))
	dest := filepath.Join(dir, "clip.dcm")

	_, err := newTestSynth(&fakeTools{frames: 4, w: 8, h: 6}).Synthesize(context.Background(), src, encode.FormatMP4, "", "", dest)
	require.NoError(t, err)

	ds, err := dcm.ReadDicom(dest)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.GetNumberOfFrames())
	assert.Equal(t, dcm.MultiFrameGrayscaleByteSecondaryCapture, ds.GetString(tag.SOPClassUID))

	vol, err := ds.PixelVolume()
	require.NoError(t, err)
	assert.Equal(t, 4, vol.Frames)
	assert.Equal(t, 6, vol.Rows)
	assert.Equal(t, 8, vol.Cols)
}

func TestSynthesizeVideoWithoutFrames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	_, err := newTestSynth(&fakeTools{frames: 0}).Synthesize(context.Background(), src, encode.FormatMP4, "", "", filepath.Join(dir, "x.dcm"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ConversionFailure)
	assert.Contains(t, err.Error(), "no frames extracted")
}

func TestSynthesizeErrors(t *testing.T) {
	dir := t.TempDir()
	s := newTestSynth(&fakeTools{})

	_, err := s.Synthesize(context.Background(), filepath.Join(dir, "missing.png"), encode.FormatPNG, "", "", filepath.Join(dir, "x.dcm"))
	assert.ErrorIs(t, err, apperr.NotFound)

	src := writeSource(t, dir, "in.png", gradient(2, 2))
	_, err = s.Synthesize(context.Background(), src, encode.Format("bmp"), "", "", filepath.Join(dir, "x.dcm"))
	assert.ErrorIs(t, err, apperr.UnsupportedFormat)

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0644))
	_, err = s.Synthesize(context.Background(), bad, encode.FormatPNG, "", "", filepath.Join(dir, "x.dcm"))
	assert.ErrorIs(t, err, apperr.DecodeFailure)
}
