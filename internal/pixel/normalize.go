// Package pixel turns decoded DICOM pixel volumes into 8-bit display rasters.
package pixel

import (
	"image"
	"image/color"
	"math"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
)

// Frames is an ordered sequence of same-sized rasters, each *image.Gray or
// *image.RGBA.
type Frames []image.Image

// Bounds returns the bounds shared by every frame.
func (f Frames) Bounds() image.Rectangle {
	if len(f) == 0 {
		return image.Rectangle{}
	}
	return f[0].Bounds()
}

// Mode is the colour layout of normalized output.
type Mode int

const (
	ModeGray Mode = iota
	ModeRGB
)

// ModeOf reports how a volume will be normalized. YBR_FULL and YBR_FULL_422
// with three samples are converted to RGB, RGB passes through, and any other
// photometric interpretation keeps only the first sample as grayscale.
func ModeOf(vol *dcm.Volume) (Mode, bool) {
	if vol.Samples != 3 {
		return ModeGray, false
	}
	switch vol.Photometric {
	case dcm.PhotometricYBRFull, dcm.PhotometricYBRFull422:
		return ModeRGB, true
	case dcm.PhotometricRGB:
		return ModeRGB, false
	}
	return ModeGray, false
}

// Normalize maps vol to 8-bit frames.
//
// Float data, and integer data wider than 8 bits, is stretched linearly so the
// minimum over the whole volume maps to 0 and the maximum to 255, then
// truncated. The minimum and maximum are taken across all frames, not per
// frame. A constant volume maps to 0. 8-bit integer data passes through.
//
// TODO: offer a per-frame range; one bright frame currently darkens every
// other frame of a cine stack.
//
// For grayscale output the rescale slope/intercept and the VOI window are
// applied first; either one makes the data float.
func Normalize(vol *dcm.Volume) (Frames, error) {
	if vol == nil || len(vol.Data) == 0 {
		return nil, apperr.New(apperr.DecodeFailure, "empty pixel array")
	}
	if err := vol.Validate(); err != nil {
		return nil, &apperr.Error{Kind: apperr.DecodeFailure, Err: err}
	}

	mode, ycbcr := ModeOf(vol)
	channels := 1
	if mode == ModeRGB {
		channels = 3
	}

	values := make([]float64, 0, vol.Frames*vol.Rows*vol.Cols*channels)
	stretch := vol.Float || vol.BitsAllocated > 8
	switch {
	case ycbcr:
		for i := 0; i < len(vol.Data); i += 3 {
			r, g, b := color.YCbCrToRGB(clamp8(vol.Data[i]), clamp8(vol.Data[i+1]), clamp8(vol.Data[i+2]))
			values = append(values, float64(r), float64(g), float64(b))
		}
		// Samples have been reduced to 8 bits by the conversion.
		stretch = vol.Float
	case mode == ModeRGB:
		values = append(values, vol.Data...)
	default:
		identity := vol.Slope == 1 && vol.Intercept == 0
		if !identity || vol.Window != nil {
			stretch = true
		}
		for i := 0; i < len(vol.Data); i += vol.Samples {
			v := vol.Data[i]
			if !identity {
				v = v*vol.Slope + vol.Intercept
			}
			if vol.Window != nil {
				v = vol.Window.Apply(v)
			}
			values = append(values, v)
		}
	}

	var out []uint8
	if stretch {
		out = Stretch(values)
	} else {
		out = make([]uint8, len(values))
		for i, v := range values {
			out[i] = clamp8(v)
		}
	}

	return split(out, vol.Frames, vol.Rows, vol.Cols, mode), nil
}

// Stretch maps values linearly onto 0..255 using their own minimum and
// maximum, truncating toward zero. When every value is equal the result is
// all zeros.
func Stretch(values []float64) []uint8 {
	out := make([]uint8, len(values))
	if len(values) == 0 {
		return out
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !(hi > lo) {
		return out
	}

	span := hi - lo
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		out[i] = uint8(math.Min(255, math.Max(0, (v-lo)*255/span)))
	}
	return out
}

func split(data []uint8, frames, rows, cols int, mode Mode) Frames {
	rect := image.Rect(0, 0, cols, rows)
	out := make(Frames, frames)

	if mode == ModeGray {
		n := rows * cols
		for f := 0; f < frames; f++ {
			img := image.NewGray(rect)
			copy(img.Pix, data[f*n:(f+1)*n])
			out[f] = img
		}
		return out
	}

	n := rows * cols * 3
	for f := 0; f < frames; f++ {
		img := image.NewRGBA(rect)
		src := data[f*n : (f+1)*n]
		for p := 0; p < rows*cols; p++ {
			img.Pix[p*4] = src[p*3]
			img.Pix[p*4+1] = src[p*3+1]
			img.Pix[p*4+2] = src[p*3+2]
			img.Pix[p*4+3] = 0xff
		}
		out[f] = img
	}
	return out
}

func clamp8(v float64) uint8 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}
