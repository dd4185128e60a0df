package metadata

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
)

func encodeDataset(t *testing.T, ds *dcm.Dataset) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ds.Write(&buf))
	return buf.Bytes()
}

// bareDataset holds only the file meta group, no descriptive tags at all.
func bareDataset(t *testing.T) *dcm.Dataset {
	t.Helper()
	var elems []*dicom.Element
	for _, e := range []struct {
		t tag.Tag
		v any
	}{
		{tag.MediaStorageSOPClassUID, []string{dcm.SecondaryCaptureImageStorage}},
		{tag.MediaStorageSOPInstanceUID, []string{dcm.NewUID()}},
		{tag.TransferSyntaxUID, []string{dcm.ExplicitVRLittleEndian}},
		{tag.SOPClassUID, []string{dcm.SecondaryCaptureImageStorage}},
	} {
		elem, err := dicom.NewElement(e.t, e.v)
		require.NoError(t, err)
		elems = append(elems, elem)
	}
	return &dcm.Dataset{Data: dicom.Dataset{Elements: elems}}
}

func TestExtractMissingTagsAreUnknown(t *testing.T) {
	rec, err := Extract(encodeDataset(t, bareDataset(t)))
	require.NoError(t, err)

	require.Len(t, rec, 6)
	for _, f := range Fields {
		assert.Equal(t, Unknown, rec[f.Key], f.Key)
	}
}

func TestExtractPresentTags(t *testing.T) {
	ds, err := dcm.NewSecondaryCapture(dcm.Capture{
		Rows: 2, Cols: 2, Frames: [][]byte{{1, 2, 3, 4}},
		PatientName: "Roe^Richard",
		PatientID:   "ID-42",
	})
	require.NoError(t, err)

	rec, err := Extract(encodeDataset(t, ds))
	require.NoError(t, err)
	assert.Equal(t, "Roe^Richard", rec["PatientName"])
	assert.Equal(t, "ID-42", rec["PatientID"])
	assert.Equal(t, "OT", rec["Modality"])
	assert.Len(t, rec["StudyDate"], 8)
	assert.Equal(t, Unknown, rec["StudyDescription"])
	assert.Equal(t, Unknown, rec["Manufacturer"])
}

func TestExtractRejectsNonDicom(t *testing.T) {
	_, err := Extract([]byte("plain text, not a container"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ExtractionFailure)
}

func TestRecordGet(t *testing.T) {
	r := Record{"Modality": "CT"}
	assert.Equal(t, "CT", r.Get("Modality"))
	assert.Equal(t, Unknown, r.Get("Manufacturer"))
}
