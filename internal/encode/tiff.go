package encode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"

	"golang.org/x/image/tiff"

	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/pixel"
)

const tagStripOffsets = 273

// Byte sizes of the TIFF field types x/image/tiff writes, indexed by type.
var tiffTypeSize = [...]int{1: 1, 2: 1, 3: 2, 4: 4, 5: 8}

// writeTIFF writes every frame of src as one page of a multi-page TIFF.
// Grayscale integer volumes of 16 bits keep their depth when no modality or
// VOI transform applies and all samples fit an unsigned 16-bit value.
func writeTIFF(dest string, src Source) error {
	pages := deepPages(src.Volume)
	if pages == nil {
		pages = src.Frames
	}

	data, err := encodeTIFF(pages)
	if err != nil {
		return fmt.Errorf("could not encode TIFF: %w", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		os.Remove(dest)
		return fmt.Errorf("could not write output file: %w", err)
	}
	return nil
}

func deepPages(vol *dcm.Volume) []image.Image {
	if vol == nil || vol.Float || vol.BitsAllocated != 16 || vol.Window != nil ||
		vol.Slope != 1 || vol.Intercept != 0 {
		return nil
	}
	if mode, _ := pixel.ModeOf(vol); mode != pixel.ModeGray {
		return nil
	}
	for i := 0; i < len(vol.Data); i += vol.Samples {
		if v := vol.Data[i]; v < 0 || v > math.MaxUint16 {
			return nil
		}
	}

	pages := make([]image.Image, vol.Frames)
	for f := range pages {
		frame := vol.Frame(f)
		img := image.NewGray16(image.Rect(0, 0, vol.Cols, vol.Rows))
		for p := 0; p < vol.Rows*vol.Cols; p++ {
			binary.BigEndian.PutUint16(img.Pix[p*2:], uint16(frame[p*vol.Samples]))
		}
		pages[f] = img
	}
	return pages
}

// encodeTIFF encodes each page with x/image/tiff and chains the resulting
// image file directories into one little-endian file. Every page body is
// moved to its place in the output and its offsets are shifted to match.
func encodeTIFF(pages []image.Image) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages")
	}

	le := binary.LittleEndian
	var out []byte
	nextPtr := -1

	for i, img := range pages {
		var buf bytes.Buffer
		if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		page := buf.Bytes()

		if i == 0 {
			out = append(out, page...)
			nextPtr = ifdNextPointer(page, int(le.Uint32(page[4:])))
			continue
		}

		if len(out)%2 == 1 {
			out = append(out, 0)
		}
		delta := len(out) - 8
		out = append(out, page[8:]...)
		if uint64(len(out)) > math.MaxUint32 {
			return nil, fmt.Errorf("TIFF exceeds 4 GiB")
		}

		ifd := int(le.Uint32(page[4:])) + delta
		if err := relocateIFD(out, ifd, uint32(delta)); err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		le.PutUint32(out[nextPtr:], uint32(ifd))
		nextPtr = ifdNextPointer(out, ifd)
	}
	return out, nil
}

// relocateIFD adds delta to every offset stored in the IFD at off: the strip
// offset and the pointers of values too large to sit inline.
func relocateIFD(data []byte, off int, delta uint32) error {
	le := binary.LittleEndian
	n := int(le.Uint16(data[off:]))
	for e := 0; e < n; e++ {
		entry := data[off+2+e*12:]
		tag, typ, count := le.Uint16(entry), le.Uint16(entry[2:]), le.Uint32(entry[4:])
		if int(typ) >= len(tiffTypeSize) || tiffTypeSize[typ] == 0 {
			return fmt.Errorf("unexpected field type %d for tag %d", typ, tag)
		}
		if tag == tagStripOffsets || int(count)*tiffTypeSize[typ] > 4 {
			le.PutUint32(entry[8:], le.Uint32(entry[8:])+delta)
		}
	}
	return nil
}

func ifdNextPointer(data []byte, off int) int {
	return off + 2 + int(binary.LittleEndian.Uint16(data[off:]))*12
}
