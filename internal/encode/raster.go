package encode

import (
	"bufio"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
)

func writeRaster(dest string, img image.Image, f imaging.Format, opts ...imaging.EncodeOption) error {
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := imaging.Encode(w, img, f, opts...); err != nil {
		file.Close()
		os.Remove(dest)
		return fmt.Errorf("could not encode %s: %w", f, err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(dest)
		return fmt.Errorf("could not write output file: %w", err)
	}
	return file.Close()
}

// rgb24 packs img as RGB triplets, expanding grayscale to three equal
// channels.
func rgb24(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)

	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
			for _, v := range row {
				out = append(out, v, v, v)
			}
		}
		return out
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return out
}
