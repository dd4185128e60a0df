package dicom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Photometric interpretations the converter knows by name.
const (
	PhotometricMonochrome1 = "MONOCHROME1"
	PhotometricMonochrome2 = "MONOCHROME2"
	PhotometricRGB         = "RGB"
	PhotometricYBRFull     = "YBR_FULL"
	PhotometricYBRFull422  = "YBR_FULL_422"
)

// floatPixelElements are Float Pixel Data (7FE0,0008) and Double Float Pixel
// Data (7FE0,0009).
var floatPixelElements = []struct {
	tag  tag.Tag
	vr   string
	size int
}{
	{tag.Tag{Group: 0x7FE0, Element: 0x0008}, "OF", 4},
	{tag.Tag{Group: 0x7FE0, Element: 0x0009}, "OD", 8},
}

// ErrNoPixelData is returned when a dataset carries no decodable pixel data.
var ErrNoPixelData = errors.New("no pixel data found")

// Volume is the decoded pixel array of a container: Frames x Rows x Cols
// samples, each pixel holding Samples interleaved values.
type Volume struct {
	Frames        int
	Rows          int
	Cols          int
	Samples       int
	BitsAllocated int
	Float         bool
	Photometric   string
	Data          []float64

	// Modality LUT; identity when Slope is 1 and Intercept is 0.
	Slope     float64
	Intercept float64
	// VOI window, nil when the dataset declares none.
	Window *Window
}

// Window is a linear VOI LUT.
type Window struct {
	Center float64
	Width  float64
}

// Apply runs the linear VOI function of PS3.3 C.11.2.1.2 with an output
// range of 0..255.
func (w Window) Apply(x float64) float64 {
	c, width := w.Center-0.5, w.Width-1
	switch {
	case x <= c-width/2:
		return 0
	case x > c+width/2:
		return 255
	}
	return ((x-c)/width + 0.5) * 255
}

// FrameLen is the number of values in one frame.
func (v *Volume) FrameLen() int {
	return v.Rows * v.Cols * v.Samples
}

// Frame returns the values of frame i.
func (v *Volume) Frame(i int) []float64 {
	n := v.FrameLen()
	return v.Data[i*n : (i+1)*n]
}

// Validate checks that the declared shape matches the data.
func (v *Volume) Validate() error {
	if v.Rows <= 0 || v.Cols <= 0 || v.Samples <= 0 || v.Frames <= 0 {
		return fmt.Errorf("invalid volume shape %dx%dx%dx%d", v.Frames, v.Rows, v.Cols, v.Samples)
	}
	if len(v.Data) != v.Frames*v.FrameLen() {
		return fmt.Errorf("volume has %d values, expected %d", len(v.Data), v.Frames*v.FrameLen())
	}
	return nil
}

// PixelVolume decodes the pixel data of the dataset into a Volume.
// Encapsulated frames are decoded with the frame's own image decoder; frames
// that need a codec the decoder does not have fail here.
func (d *Dataset) PixelVolume() (*Volume, error) {
	rows, cols, err := d.getImageDimensions()
	if err != nil {
		return nil, err
	}

	vol := &Volume{
		Rows:          rows,
		Cols:          cols,
		Samples:       d.getSamplesPerPixel(),
		BitsAllocated: d.getBitsAllocated(),
		Photometric:   d.GetPhotometricInterpretation(),
		Slope:         1,
	}
	if slope := d.GetFloats(tag.RescaleSlope); len(slope) > 0 && slope[0] != 0 {
		vol.Slope = slope[0]
	}
	if intercept := d.GetFloats(tag.RescaleIntercept); len(intercept) > 0 {
		vol.Intercept = intercept[0]
	}
	center, width := d.GetFloats(tag.WindowCenter), d.GetFloats(tag.WindowWidth)
	if len(center) > 0 && len(width) > 0 && width[0] >= 1 {
		vol.Window = &Window{Center: center[0], Width: width[0]}
	}

	floats, ok, err := d.floatPixelData(d.GetNumberOfFrames() * vol.FrameLen())
	if err != nil {
		return nil, err
	}
	if ok {
		vol.Float = true
		vol.Data = floats
		vol.Frames = len(floats) / max(vol.FrameLen(), 1)
		if err := vol.Validate(); err != nil {
			return nil, fmt.Errorf("float pixel data: %w", err)
		}
		return vol, nil
	}

	pixelElem, err := d.Data.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}

	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unsupported pixel data type: %T", pixelElem.Value.GetValue())
	}
	if info.IntentionallySkipped || len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}

	signed := d.GetInt(tag.PixelRepresentation, 0) == 1
	for i, fr := range info.Frames {
		if fr.Encapsulated {
			if err := vol.appendEncapsulated(fr, i); err != nil {
				return nil, err
			}
			continue
		}
		if err := vol.appendNative(fr, signed); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	vol.Frames = len(info.Frames)

	if err := vol.Validate(); err != nil {
		return nil, err
	}
	return vol, nil
}

// floatPixelData decodes OF or OD pixel data holding count values. The
// parser returns these VRs as backslash-split strings trimmed of spaces and
// NULs, so the bytes are taken from the container when the parsed value does
// not have the expected length.
func (d *Dataset) floatPixelData(count int) ([]float64, bool, error) {
	for _, fe := range floatPixelElements {
		elem, err := d.Data.FindElementByTag(fe.tag)
		if err != nil || elem.Value == nil {
			continue
		}

		var raw []byte
		switch v := elem.Value.GetValue().(type) {
		case []float64:
			if len(v) == count {
				return v, true, nil
			}
		case []byte:
			raw = v
		case []string:
			raw = []byte(strings.Join(v, "\\"))
		}

		want := count * fe.size
		if len(raw) != want {
			var found bool
			if raw, found = d.rawElementValue(fe.tag, fe.vr, want); !found {
				return nil, false, fmt.Errorf("%s pixel data is not %d bytes long", fe.vr, want)
			}
		}
		return decodeFloats(raw, fe.size), true, nil
	}
	return nil, false, nil
}

// rawElementValue finds the little-endian element t with a value of length n
// in the encoded container, in explicit or implicit VR form.
func (d *Dataset) rawElementValue(t tag.Tag, vr string, n int) ([]byte, bool) {
	if len(d.raw) == 0 || n <= 0 {
		return nil, false
	}
	le := binary.LittleEndian
	head := le.AppendUint16(le.AppendUint16(nil, t.Group), t.Element)

	explicit := append(append(bytes.Clone(head), vr...), 0, 0)
	explicit = le.AppendUint32(explicit, uint32(n))
	implicit := le.AppendUint32(bytes.Clone(head), uint32(n))

	for _, h := range [][]byte{explicit, implicit} {
		if i := bytes.LastIndex(d.raw, h); i >= 0 && i+len(h)+n <= len(d.raw) {
			start := i + len(h)
			return d.raw[start : start+n], true
		}
	}
	return nil, false
}

func decodeFloats(raw []byte, size int) []float64 {
	le := binary.LittleEndian
	out := make([]float64, len(raw)/size)
	for i := range out {
		if size == 4 {
			out[i] = float64(math.Float32frombits(le.Uint32(raw[i*4:])))
		} else {
			out[i] = math.Float64frombits(le.Uint64(raw[i*8:]))
		}
	}
	return out
}

func (v *Volume) appendNative(fr *frame.Frame, signed bool) error {
	native := fr.NativeData
	if native.Data == nil {
		return fmt.Errorf("native frame data is nil")
	}
	if len(native.Data) != v.Rows*v.Cols {
		return fmt.Errorf("native frame has %d pixels, expected %d", len(native.Data), v.Rows*v.Cols)
	}

	limit := 1 << (v.BitsAllocated - 1)
	for _, pixel := range native.Data {
		for s := 0; s < v.Samples; s++ {
			sample := 0
			if s < len(pixel) {
				sample = pixel[s]
			}
			if signed && v.BitsAllocated < 32 && sample >= limit {
				sample -= limit << 1
			}
			v.Data = append(v.Data, float64(sample))
		}
	}
	return nil
}

func (v *Volume) appendEncapsulated(fr *frame.Frame, index int) error {
	img, err := fr.GetImage()
	if err != nil {
		return fmt.Errorf("could not decode compressed frame %d: %w", index, err)
	}

	b := img.Bounds()
	if b.Dx() != v.Cols || b.Dy() != v.Rows {
		return fmt.Errorf("compressed frame %d is %dx%d, expected %dx%d", index, b.Dx(), b.Dy(), v.Cols, v.Rows)
	}

	gray := isGrayImage(img)
	if index == 0 {
		// The decoder has already turned any luma/chroma encoding into RGB.
		v.BitsAllocated = 8
		if gray {
			v.Samples = 1
			v.Photometric = PhotometricMonochrome2
		} else {
			v.Samples = 3
			v.Photometric = PhotometricRGB
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if v.Samples == 1 {
				g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				v.Data = append(v.Data, float64(g.Y))
				continue
			}
			r, g, bl, _ := img.At(x, y).RGBA()
			v.Data = append(v.Data, float64(r>>8), float64(g>>8), float64(bl>>8))
		}
	}
	return nil
}

func isGrayImage(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

// getImageDimensions returns the rows and columns of the image.
func (d *Dataset) getImageDimensions() (rows, cols int, err error) {
	rows = d.GetInt(tag.Rows, 0)
	cols = d.GetInt(tag.Columns, 0)
	if rows == 0 || cols == 0 {
		return 0, 0, fmt.Errorf("invalid image dimensions: %dx%d", cols, rows)
	}
	return rows, cols, nil
}

// getSamplesPerPixel returns the number of samples per pixel (1 for grayscale, 3 for RGB).
func (d *Dataset) getSamplesPerPixel() int {
	val := d.GetInt(tag.SamplesPerPixel, 1)
	if val <= 0 {
		return 1
	}
	return val
}

// getBitsAllocated returns the bits allocated per sample.
func (d *Dataset) getBitsAllocated() int {
	val := d.GetInt(tag.BitsAllocated, 8)
	if val <= 0 {
		return 8
	}
	return val
}
