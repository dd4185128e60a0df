package encode

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/jung-kurt/gofpdf"
)

// Page layout in points on A4 portrait, measured from the top-left corner.
const (
	pdfMarginX   = 50
	pdfTextY     = 42
	pdfLineGap   = 16
	pdfImageY    = 242
	pdfImageSize = 500
)

// pdfDocument is the subset of *gofpdf.Fpdf the page layout uses.
type pdfDocument interface {
	AddPage()
	SetFont(familyStr, styleStr string, size float64)
	Text(x, y float64, txtStr string)
	ImageOptions(imageNameStr string, x, y, w, h float64, flow bool, options gofpdf.ImageOptions, link int, linkStr string)
	Error() error
}

// writePDF renders the first frame on a single page below two lines of
// patient text. The frame is embedded from a temporary JPEG in the
// destination directory; it is removed when writePDF returns.
func (e *Encoder) writePDF(dest string, src Source) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".raster-*.jpg")
	if err != nil {
		return fmt.Errorf("could not create temporary raster: %w", err)
	}
	raster := tmp.Name()
	tmp.Close()
	defer os.Remove(raster)

	if err := writeRaster(raster, src.Frames[0], imaging.JPEG, imaging.JPEGQuality(DefaultQuality)); err != nil {
		return err
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetTitle(src.Name, true)

	assemble := e.assemblePDF
	if assemble == nil {
		assemble = func(doc pdfDocument, raster string) error {
			return layoutPage(doc, raster, src.PatientName, src.StudyDate)
		}
	}
	if err := assemble(pdf, raster); err != nil {
		return fmt.Errorf("could not assemble PDF page: %w", err)
	}

	if err := pdf.OutputFileAndClose(dest); err != nil {
		os.Remove(dest)
		return fmt.Errorf("could not write PDF: %w", err)
	}
	return nil
}

func layoutPage(doc pdfDocument, raster, patientName, studyDate string) error {
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Text(pdfMarginX, pdfTextY, "Patient Name: "+patientName)
	doc.Text(pdfMarginX, pdfTextY+pdfLineGap, "Study Date: "+studyDate)
	doc.ImageOptions(raster, pdfMarginX, pdfImageY, pdfImageSize, pdfImageSize, false,
		gofpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	return doc.Error()
}
