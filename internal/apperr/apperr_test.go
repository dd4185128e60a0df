package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsKind(t *testing.T) {
	inner := &Error{Kind: UnsupportedFormat, Err: errors.New("mp4 requires multi-frame input")}
	err := Wrap(ConversionFailure, "scan.dcm", "mp4", fmt.Errorf("encode: %w", inner))

	assert.True(t, errors.Is(err, UnsupportedFormat))
	assert.False(t, errors.Is(err, ConversionFailure))
	assert.Equal(t, UnsupportedFormat, KindOf(err))

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "scan.dcm", ae.File)
	assert.Equal(t, "mp4", ae.Format)
	assert.Equal(t, "encode: mp4 requires multi-frame input", Message(err))
	assert.True(t, errors.Is(err, inner))
}

func TestWrapDoesNotShareState(t *testing.T) {
	cause := &Error{Kind: DecodeFailure, Err: errors.New("could not parse DICOM: EOF")}

	jpeg := Wrap(ConversionFailure, "bad.dcm", "jpeg", cause)
	png := Wrap(ConversionFailure, "bad.dcm", "png", cause)

	assert.Equal(t, "decode_failure: bad.dcm (jpeg): could not parse DICOM: EOF", jpeg.Error())
	assert.Equal(t, "decode_failure: bad.dcm (png): could not parse DICOM: EOF", png.Error())
	assert.Empty(t, cause.File)
	assert.Empty(t, cause.Format)
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ConversionFailure, "a.dcm", "png", cause)

	assert.True(t, errors.Is(err, ConversionFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "conversion_failure: a.dcm (png): disk full", err.Error())
	assert.Nil(t, Wrap(DecodeFailure, "a", "b", nil))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{errors.New("plain"), ConversionFailure},
		{New(Validation, "no files"), Validation},
		{fmt.Errorf("lookup: %w", NotFound), NotFound},
		{&Error{Kind: ExtractionFailure}, ExtractionFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "got 3 files but 2 input formats", Message(New(Validation, "got %d files but %d input formats", 3, 2)))
	assert.Equal(t, "not_found", Message(&Error{Kind: NotFound}))
	assert.Equal(t, "plain", Message(errors.New("plain")))
}
