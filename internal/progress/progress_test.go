package progress

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerTransitions(t *testing.T) {
	tr := NewTracker("", nil)

	require.NoError(t, tr.Start("a.dcm#jpeg", "jpeg"))
	e, ok := tr.Get("a.dcm#jpeg")
	require.True(t, ok)
	assert.Equal(t, StatusPending, e.Status)

	require.NoError(t, tr.Succeed("a.dcm#jpeg", "/out/a.jpeg"))
	e, _ = tr.Get("a.dcm#jpeg")
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, "/out/a.jpeg", e.Output)

	// Terminal states are final and items are not retried.
	assert.Error(t, tr.Fail("a.dcm#jpeg", "late"))
	assert.Error(t, tr.Start("a.dcm#jpeg", "jpeg"))

	require.NoError(t, tr.Start("b.dcm#png", "png"))
	require.NoError(t, tr.Fail("b.dcm#png", "boom"))
	assert.Error(t, tr.Succeed("b.dcm#png", "x"))

	assert.Error(t, tr.Succeed("never-started", "x"))

	assert.Equal(t, Summary{Success: 1, Failed: 1, Total: 2}, tr.Summary())
}

func TestTrackerPersistsAndResumes(t *testing.T) {
	dir := t.TempDir()
	progressFile := filepath.Join(dir, ".progress.json")
	input := filepath.Join(dir, "scan.dcm")
	require.NoError(t, os.WriteFile(input, []byte("data"), 0644))

	tr := NewTracker(progressFile, nil)
	require.NoError(t, tr.Start(input, "png"))
	require.NoError(t, tr.Succeed(input, "out.png"))
	require.NoError(t, tr.Start("other.dcm", "png"))
	require.NoError(t, tr.Fail("other.dcm", "bad"))
	require.NoError(t, tr.Start("interrupted.dcm", "png"))

	resumed := NewTracker(progressFile, nil)
	assert.True(t, resumed.IsProcessed(input))
	assert.False(t, resumed.IsProcessed("other.dcm"))
	_, ok := resumed.Get("interrupted.dcm")
	assert.False(t, ok, "pending items are dropped on load")

	// Failed items from an earlier run may be started again.
	assert.Equal(t, 1, resumed.ClearFailed())
	require.NoError(t, resumed.Start("other.dcm", "png"))

	// A modified input is no longer considered processed.
	require.NoError(t, os.WriteFile(input, []byte("changed data"), 0644))
	assert.False(t, resumed.IsProcessed(input))
}

func TestFailureLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "errors.log")
	l, err := NewFailureLog(path)
	require.NoError(t, err)

	assert.Equal(t, "No errors", l.Summary())
	l.Log("/in/a.dcm", "mp4", "mp4 requires multi-frame input")
	l.Log("/in/b.dcm", "pdf", "boom")
	require.NoError(t, l.Close())

	assert.Equal(t, 2, l.Count())
	assert.Contains(t, l.Summary(), path)
	assert.Equal(t, "mp4", l.Failures()[0].Format)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "| a.dcm | mp4 | mp4 requires multi-frame input")
}

func TestFailureLogInMemory(t *testing.T) {
	l, err := NewFailureLog("")
	require.NoError(t, err)
	l.Log("x", "png", "y")
	assert.Equal(t, "1 errors", l.Summary())
	assert.NoError(t, l.Close())
}
