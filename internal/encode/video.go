package encode

import (
	"context"
	"fmt"

	"dicomconv/internal/apperr"
	"dicomconv/internal/pixel"
)

func (e *Encoder) writeMP4(ctx context.Context, dest string, frames pixel.Frames) error {
	if len(frames) < 2 {
		return apperr.New(apperr.UnsupportedFormat, "mp4 requires multi-frame input")
	}
	if e.Tools == nil {
		return fmt.Errorf("video encoding is not configured")
	}

	b := frames.Bounds()
	if b.Dx()%2 == 1 || b.Dy()%2 == 1 {
		// yuv420p cannot hold odd sizes and padding would change them.
		return apperr.New(apperr.ConversionFailure, "mp4 requires even frame dimensions, got %dx%d", b.Dx(), b.Dy())
	}
	packed := make([][]byte, len(frames))
	for i, f := range frames {
		if f.Bounds().Size() != b.Size() {
			return fmt.Errorf("frame %d is %v, expected %v", i, f.Bounds().Size(), b.Size())
		}
		packed[i] = rgb24(f)
	}
	return e.Tools.EncodeVideo(ctx, dest, b.Dx(), b.Dy(), packed)
}
