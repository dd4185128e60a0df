// Package metadata reads the descriptive tags of a DICOM container.
package metadata

import (
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
)

// Unknown is reported for tags the container does not carry.
const Unknown = "Unknown"

// Record maps tag keywords to their first value.
type Record map[string]string

// Fields are the tags every Record contains, by keyword.
var Fields = []struct {
	Key string
	Tag tag.Tag
}{
	{"PatientName", tag.PatientName},
	{"PatientID", tag.PatientID},
	{"StudyDate", tag.StudyDate},
	{"Modality", tag.Modality},
	{"StudyDescription", tag.StudyDescription},
	{"Manufacturer", tag.Manufacturer},
}

// Extract parses data, skipping pixel data, and returns its Record. It fails
// only when data is not a DICOM container.
func Extract(data []byte) (Record, error) {
	ds, err := dcm.ParseMetadataBytes(data)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.ExtractionFailure, Err: err}
	}
	return FromDataset(ds), nil
}

// FromDataset builds a Record from an already parsed dataset.
func FromDataset(ds *dcm.Dataset) Record {
	rec := make(Record, len(Fields))
	for _, f := range Fields {
		v, ok := ds.Lookup(f.Tag)
		if !ok {
			v = Unknown
		}
		rec[f.Key] = v
	}
	return rec
}

// Get returns the value for key, Unknown when absent.
func (r Record) Get(key string) string {
	if v, ok := r[key]; ok {
		return v
	}
	return Unknown
}
