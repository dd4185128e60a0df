package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// VideoFPS is the frame rate of exported videos.
const VideoFPS = 10

// EncodeVideo writes frames as an MPEG-4 video at dest. Each frame is packed
// RGB24, width*height*3 bytes. ffmpeg has exited, and the file is complete,
// when EncodeVideo returns.
func (t *Tools) EncodeVideo(ctx context.Context, dest string, width, height int, frames [][]byte) error {
	size := width * height * 3
	var raw bytes.Buffer
	raw.Grow(size * len(frames))
	for i, f := range frames {
		if len(f) != size {
			return fmt.Errorf("frame %d has %d bytes, expected %d", i, len(f), size)
		}
		raw.Write(f)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(VideoFPS),
		"-i", "-",
		"-c:v", "mpeg4",
		"-q:v", "2",
		"-pix_fmt", "yuv420p",
		dest,
	}
	if _, err := t.run(ctx, &raw, t.FFmpeg, "ffmpeg", args...); err != nil {
		os.Remove(dest)
		return fmt.Errorf("could not encode video: %w", err)
	}
	return nil
}

// DecodeVideo extracts every frame of src as a PNG file in outDir and returns
// their paths in presentation order.
func (t *Tools) DecodeVideo(ctx context.Context, src, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create frame directory: %w", err)
	}

	pattern := filepath.Join(outDir, "frame_%06d.png")
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vsync", "0",
		pattern,
	}
	if _, err := t.run(ctx, nil, t.FFmpeg, "ffmpeg", args...); err != nil {
		return nil, fmt.Errorf("could not decode video: %w", err)
	}

	frames, err := filepath.Glob(filepath.Join(outDir, "frame_*.png"))
	if err != nil {
		return nil, fmt.Errorf("could not list frames: %w", err)
	}
	sort.Strings(frames)
	return frames, nil
}
