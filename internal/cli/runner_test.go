package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomconv/internal/convert"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/encode"
	"dicomconv/internal/staging"
	"dicomconv/internal/synth"
)

func newRunner(t *testing.T, out *bytes.Buffer) *Runner {
	t.Helper()
	dir := t.TempDir()
	root, err := staging.NewRoot(filepath.Join(dir, "staging"), nil)
	require.NoError(t, err)
	store, err := staging.OpenStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	t.Cleanup(func() {
		root.Close()
		store.Close()
	})

	return &Runner{
		Service: &convert.Service{
			Encoder: encode.New(nil, nil),
			Synth:   synth.New(nil, nil),
			Staging: root,
			Store:   store,
		},
		Out:           out,
		SkipToolCheck: true,
	}
}

func writeDicom(t *testing.T, path string) {
	t.Helper()
	ds, err := dcm.NewSecondaryCapture(dcm.Capture{Rows: 4, Cols: 4, Frames: [][]byte{make([]byte, 16)}})
	require.NoError(t, err)
	require.NoError(t, ds.Save(path))
}

func TestRun(t *testing.T) {
	var out bytes.Buffer
	r := newRunner(t, &out)

	input := t.TempDir()
	writeDicom(t, filepath.Join(input, "a.dcm"))
	writeDicom(t, filepath.Join(input, "nested", "b.dcm"))
	output := filepath.Join(t.TempDir(), "exports")

	err := r.Run(context.Background(), Options{
		InputFolder:  input,
		OutputFolder: output,
		Formats:      []string{"png", "tiff"},
		Recursive:    true,
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(output, "a.png"))
	assert.FileExists(t, filepath.Join(output, "a.tiff"))
	assert.FileExists(t, filepath.Join(output, "nested", "b.tiff"))

	text := out.String()
	assert.Contains(t, text, "Formats:   png, tiff")
	assert.Contains(t, text, "(2/2)")
	assert.Contains(t, text, "Complete! 2 succeeded, 0 failed, 0 skipped")
	assert.NotContains(t, text, "Errors:")
}

func TestRunValidatesInput(t *testing.T) {
	var out bytes.Buffer
	r := newRunner(t, &out)
	ctx := context.Background()

	assert.Error(t, r.Run(ctx, Options{}))
	assert.Error(t, r.Run(ctx, Options{InputFolder: filepath.Join(t.TempDir(), "missing")}))

	file := filepath.Join(t.TempDir(), "f.dcm")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Error(t, r.Run(ctx, Options{InputFolder: file}))

	err := r.Run(ctx, Options{InputFolder: t.TempDir(), Formats: []string{"gif"}})
	assert.ErrorContains(t, err, "gif")
}

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	pb := newProgressBar(&out, 10)

	pb.update(0, 0)
	assert.Empty(t, out.String())

	pb.update(1, 2)
	assert.Equal(t, "\r[#####-----]  50%  (1/2)", out.String())

	out.Reset()
	pb.update(3, 2)
	assert.True(t, strings.HasPrefix(out.String(), "\r[##########]"))
}

func TestPrintUsage(t *testing.T) {
	var out bytes.Buffer
	PrintUsage(&out)
	assert.Contains(t, out.String(), "--formats")
	assert.Contains(t, out.String(), "--retry-failed")
}
