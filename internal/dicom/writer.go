package dicom

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Well-known UIDs used for synthesized containers.
const (
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	SecondaryCaptureImageStorage           = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameGrayscaleByteSecondaryCapture = "1.2.840.10008.5.1.4.1.1.7.2"

	ImplementationVersionName = "DICOMCONV_1"
)

// ImplementationClassUID identifies this converter as the writer of a file.
var ImplementationClassUID = "2.25.184932177253860290436133547127905834817"

// Capture describes the pixel payload and identity of a synthesized
// container. Frames are 8-bit grayscale, row-major, Rows*Cols bytes each.
type Capture struct {
	Rows        int
	Cols        int
	Frames      [][]byte
	Multiframe  bool
	PatientName string
	PatientID   string
	Created     time.Time
}

// NewSecondaryCapture builds a minimal MONOCHROME2 secondary capture dataset
// in Explicit VR Little Endian. Every call mints fresh instance, study and
// series UIDs.
func NewSecondaryCapture(c Capture) (*Dataset, error) {
	if c.Rows <= 0 || c.Cols <= 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", c.Cols, c.Rows)
	}
	if len(c.Frames) == 0 {
		return nil, fmt.Errorf("no frames to encode")
	}

	frames := make([]*frame.Frame, len(c.Frames))
	for i, raw := range c.Frames {
		if len(raw) != c.Rows*c.Cols {
			return nil, fmt.Errorf("frame %d has %d bytes, expected %d", i, len(raw), c.Rows*c.Cols)
		}
		pixels := make([][]int, len(raw))
		for p, v := range raw {
			pixels[p] = []int{int(v)}
		}
		frames[i] = &frame.Frame{
			NativeData: frame.NativeFrame{
				Data:          pixels,
				Rows:          c.Rows,
				Cols:          c.Cols,
				BitsPerSample: 8,
			},
		}
	}

	sopClass := SecondaryCaptureImageStorage
	if c.Multiframe {
		sopClass = MultiFrameGrayscaleByteSecondaryCapture
	}
	created := c.Created
	if created.IsZero() {
		created = time.Now()
	}
	instanceUID := NewUID()

	b := &elementBuilder{}
	b.add(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	b.add(tag.MediaStorageSOPClassUID, []string{sopClass})
	b.add(tag.MediaStorageSOPInstanceUID, []string{instanceUID})
	b.add(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian})
	b.add(tag.ImplementationClassUID, []string{ImplementationClassUID})
	b.add(tag.ImplementationVersionName, []string{ImplementationVersionName})
	b.add(tag.SOPClassUID, []string{sopClass})
	b.add(tag.SOPInstanceUID, []string{instanceUID})
	b.add(tag.StudyDate, []string{created.Format("20060102")})
	b.add(tag.ContentDate, []string{created.Format("20060102")})
	b.add(tag.StudyTime, []string{created.Format("150405")})
	b.add(tag.Modality, []string{"OT"})
	b.add(tag.ConversionType, []string{"WSD"})
	b.add(tag.PatientName, []string{c.PatientName})
	b.add(tag.PatientID, []string{c.PatientID})
	b.add(tag.StudyInstanceUID, []string{NewUID()})
	b.add(tag.SeriesInstanceUID, []string{NewUID()})
	b.add(tag.InstanceNumber, []string{"1"})
	b.add(tag.SamplesPerPixel, []int{1})
	b.add(tag.PhotometricInterpretation, []string{PhotometricMonochrome2})
	if c.Multiframe {
		b.add(tag.NumberOfFrames, []string{strconv.Itoa(len(frames))})
	}
	b.add(tag.Rows, []int{c.Rows})
	b.add(tag.Columns, []int{c.Cols})
	b.add(tag.BitsAllocated, []int{8})
	b.add(tag.BitsStored, []int{8})
	b.add(tag.HighBit, []int{7})
	b.add(tag.PixelRepresentation, []int{0})
	b.add(tag.PixelData, dicom.PixelDataInfo{Frames: frames})
	if b.err != nil {
		return nil, b.err
	}

	return &Dataset{Data: dicom.Dataset{Elements: b.elems}}, nil
}

type elementBuilder struct {
	elems []*dicom.Element
	err   error
}

func (b *elementBuilder) add(t tag.Tag, value any) {
	if b.err != nil {
		return
	}
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		b.err = fmt.Errorf("could not create element %s: %w", t, err)
		return
	}
	b.elems = append(b.elems, elem)
}

// Save writes the DICOM dataset to a file.
func (d *Dataset) Save(outputPath string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}

	if err := d.Write(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	d.FilePath = outputPath
	return nil
}

// Write encodes the dataset to w.
func (d *Dataset) Write(w io.Writer) error {
	// Relaxed verification: values built from decoded images are typed by
	// NewElement already, and parsed datasets often bend VR rules.
	if err := dicom.Write(w, d.Data,
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
		dicom.DefaultMissingTransferSyntax(),
	); err != nil {
		return fmt.Errorf("could not write DICOM: %w", err)
	}
	return nil
}
