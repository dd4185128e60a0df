// Package media drives the external programs used for video and PDF
// rasterisation: ffmpeg for mp4 in both directions and poppler's pdfinfo and
// pdftoppm for PDF input.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// CommandRunner executes an external program. Tests replace it to inject
// failures without the real binaries.
type CommandRunner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts name, feeds stdin if non-nil and waits for it to exit. The
// returned bytes are stdout; stderr is folded into the error.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
			msg = msg[i+1:]
		}
		if msg == "" {
			return nil, fmt.Errorf("%s failed: %w", name, err)
		}
		return nil, fmt.Errorf("%s failed: %s: %w", name, msg, err)
	}
	return stdout.Bytes(), nil
}

// Tools locates and runs the external programs. Empty paths are looked up on
// PATH by their usual names.
type Tools struct {
	FFmpeg   string
	PDFInfo  string
	PDFToPPM string

	Runner CommandRunner
	Logger hclog.Logger
}

func (t *Tools) runner() CommandRunner {
	if t.Runner == nil {
		return ExecRunner{}
	}
	return t.Runner
}

func (t *Tools) logger() hclog.Logger {
	if t.Logger == nil {
		return hclog.NewNullLogger()
	}
	return t.Logger
}

func resolve(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not installed", name)
	}
	return path, nil
}

func (t *Tools) run(ctx context.Context, stdin io.Reader, configured, name string, args ...string) ([]byte, error) {
	bin, err := resolve(configured, name)
	if err != nil {
		return nil, err
	}
	t.logger().Debug("running external tool", "tool", name, "args", strings.Join(args, " "))
	return t.runner().Run(ctx, stdin, bin, args...)
}

// Missing returns the names of the programs that cannot be found.
func (t *Tools) Missing() []string {
	var missing []string
	for _, p := range []struct{ configured, name string }{
		{t.FFmpeg, "ffmpeg"},
		{t.PDFInfo, "pdfinfo"},
		{t.PDFToPPM, "pdftoppm"},
	} {
		if p.configured != "" {
			if _, err := exec.LookPath(p.configured); err != nil {
				missing = append(missing, p.name)
			}
			continue
		}
		if _, err := exec.LookPath(p.name); err != nil {
			missing = append(missing, p.name)
		}
	}
	return missing
}
