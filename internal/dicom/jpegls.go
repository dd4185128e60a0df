package dicom

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// JPEG-LS Transfer Syntax UIDs
const (
	JPEGLSLossless  = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossy = "1.2.840.10008.1.2.4.81"
)

// IsJPEGLSCompressed checks if a dataset uses JPEG-LS compression.
func (d *Dataset) IsJPEGLSCompressed() bool {
	ts := d.GetTransferSyntax()
	return strings.Contains(ts, JPEGLSLossless) || strings.Contains(ts, JPEGLSNearLossy)
}

// Dcmtk runs the dcmtk JPEG-LS decompressor. The frame decoders of the DICOM
// library cannot read JPEG-LS, so such files are decompressed before parsing.
type Dcmtk struct {
	// Path to dcmdjpls; looked up on PATH when empty.
	Path string
}

func (t Dcmtk) binary() (string, error) {
	if t.Path != "" {
		return t.Path, nil
	}
	path, err := exec.LookPath("dcmdjpls")
	if err != nil {
		return "", fmt.Errorf("dcmtk not installed. Run: brew install dcmtk (macOS) or apt install dcmtk (Linux)")
	}
	return path, nil
}

// DecompressJPEGLS decompresses inputPath next to itself and returns the path
// of the decompressed file. The caller owns the returned file.
func (t Dcmtk) DecompressJPEGLS(ctx context.Context, inputPath string) (string, error) {
	bin, err := t.binary()
	if err != nil {
		return "", err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(inputPath), "dicom-*.dcm")
	if err != nil {
		return "", fmt.Errorf("could not create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	cmd := exec.CommandContext(ctx, bin, inputPath, tempPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("dcmdjpls failed: %s", strings.TrimSpace(string(output)))
	}

	return tempPath, nil
}

// Installed checks if dcmtk is installed.
// It checks both PATH and common installation directories.
func (t Dcmtk) Installed() bool {
	if t.Path != "" {
		_, err := os.Stat(t.Path)
		return err == nil
	}
	if _, err := exec.LookPath("dcmdjpls"); err == nil {
		return true
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "darwin":
		commonPaths = []string{
			"/opt/homebrew/bin/dcmdjpls",
			"/usr/local/bin/dcmdjpls",
		}
	case "linux":
		commonPaths = []string{
			"/usr/bin/dcmdjpls",
			"/usr/local/bin/dcmdjpls",
		}
	case "windows":
		commonPaths = []string{
			"C:\\Program Files\\dcmtk\\bin\\dcmdjpls.exe",
			"C:\\dcmtk\\bin\\dcmdjpls.exe",
		}
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}

	return false
}
