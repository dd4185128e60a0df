package dicom

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Dataset wraps a DICOM dataset for easier access
type Dataset struct {
	Data     dicom.Dataset
	FilePath string

	// raw is the encoded container, kept for elements the parser cannot
	// return byte-exact.
	raw []byte
}

// ReadDicom reads a DICOM file and returns the dataset.
func ReadDicom(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}

	ds, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}
	ds.FilePath = path
	return ds, nil
}

// ParseBytes parses an in-memory DICOM container.
func ParseBytes(data []byte, opts ...dicom.ParseOption) (*Dataset, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}
	return &Dataset{Data: ds, raw: data}, nil
}

// ParseMetadataBytes parses an in-memory container without its pixel data.
func ParseMetadataBytes(data []byte) (*Dataset, error) {
	return ParseBytes(data, dicom.SkipPixelData())
}

// Lookup returns the first string value for a tag and whether the tag is
// present in the dataset at all.
func (d *Dataset) Lookup(t tag.Tag) (string, bool) {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return "", false
	}

	raw := elem.Value.GetValue()
	if raw == nil {
		return "", true
	}

	switch v := raw.(type) {
	case []string:
		if len(v) > 0 {
			return strings.TrimRight(v[0], " \x00"), true
		}
		return "", true
	case string:
		return strings.TrimRight(v, " \x00"), true
	case []int:
		if len(v) > 0 {
			return strconv.Itoa(v[0]), true
		}
		return "", true
	case []float64:
		if len(v) > 0 {
			return strconv.FormatFloat(v[0], 'f', -1, 64), true
		}
		return "", true
	}

	return fmt.Sprintf("%v", raw), true
}

// GetString returns a string value for a tag, or empty string if not found.
func (d *Dataset) GetString(t tag.Tag) string {
	s, _ := d.Lookup(t)
	return s
}

// GetInt returns an integer value for a tag, or def if the tag is missing or
// not numeric. Integer strings (IS) are parsed.
func (d *Dataset) GetInt(t tag.Tag, def int) int {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil {
		return def
	}
	if v, ok := intValue(elem); ok {
		return v
	}
	return def
}

// GetFloats returns all numeric values of a multi-valued decimal string tag.
func (d *Dataset) GetFloats(t tag.Tag) []float64 {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return nil
	}

	switch v := elem.Value.GetValue().(type) {
	case []float64:
		return v
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
		return out
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out
	}
	return nil
}

// GetTransferSyntax returns the transfer syntax UID.
func (d *Dataset) GetTransferSyntax() string {
	return d.GetString(tag.TransferSyntaxUID)
}

// GetPhotometricInterpretation returns the photometric interpretation,
// defaulting to MONOCHROME2 when the tag is absent.
func (d *Dataset) GetPhotometricInterpretation() string {
	pi := strings.ToUpper(strings.TrimSpace(d.GetString(tag.PhotometricInterpretation)))
	if pi == "" {
		return PhotometricMonochrome2
	}
	return pi
}

// GetNumberOfFrames returns the frame count, 1 when the tag is absent.
func (d *Dataset) GetNumberOfFrames() int {
	n := d.GetInt(tag.NumberOfFrames, 1)
	if n < 1 {
		return 1
	}
	return n
}

// intValue extracts an integer value from a DICOM element.
func intValue(elem *dicom.Element) (int, bool) {
	if elem == nil || elem.Value == nil {
		return 0, false
	}

	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case int:
		return v, true
	case []uint16:
		if len(v) > 0 {
			return int(v[0]), true
		}
	case uint16:
		return int(v), true
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err == nil {
				return n, true
			}
		}
	}

	return 0, false
}
