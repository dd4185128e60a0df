// Package convert sequences decoding, normalization, encoding and synthesis
// for single requests and batches, isolating failures per item.
package convert

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/encode"
	"dicomconv/internal/metadata"
	"dicomconv/internal/pixel"
	"dicomconv/internal/progress"
	"dicomconv/internal/staging"
	"dicomconv/internal/synth"
)

// File is one uploaded input.
type File struct {
	Name string
	Data []byte
}

// Request is a single forward conversion.
type Request struct {
	File    File
	Format  string
	Quality int
}

// ReverseRequest is a single conversion to DICOM.
type ReverseRequest struct {
	File        File
	InputFormat string
	PatientName string
	PatientID   string
}

// Service runs conversions. All fields except Dcmtk and Failures are
// required.
type Service struct {
	Encoder *encode.Encoder
	Synth   *synth.Synthesizer
	Staging *staging.Root
	Store   *staging.Store

	// Dcmtk decompresses JPEG-LS input before decoding, when set.
	Dcmtk    *dcm.Dcmtk
	Failures *progress.FailureLog
	Logger   hclog.Logger

	// Workers bounds batch concurrency; values below 1 mean 1.
	Workers int
	// DefaultQuality replaces a zero JPEG quality.
	DefaultQuality int
}

func (s *Service) logger() hclog.Logger {
	if s.Logger == nil {
		return hclog.NewNullLogger()
	}
	return s.Logger
}

func (s *Service) workers() int {
	return max(1, s.Workers)
}

func (s *Service) quality(q int) int {
	if q == 0 {
		if s.DefaultQuality != 0 {
			return s.DefaultQuality
		}
		return encode.DefaultQuality
	}
	return q
}

// fail records a failed item in the log and the failure file.
func (s *Service) fail(file, format string, err error) {
	s.logger().Warn("conversion failed", "file", file, "format", format, "kind", apperr.KindOf(err), "error", apperr.Message(err))
	if s.Failures != nil {
		s.Failures.Log(file, format, err.Error())
	}
}

// Convert converts one DICOM file to format and publishes the result.
func (s *Service) Convert(ctx context.Context, req Request) (staging.Artifact, error) {
	format, err := encode.ParseFormat(req.Format)
	if err != nil {
		err = apperr.Wrap(apperr.UnsupportedFormat, req.File.Name, req.Format, err)
		s.fail(req.File.Name, req.Format, err)
		return staging.Artifact{}, err
	}

	area, err := s.Staging.Acquire()
	if err != nil {
		return staging.Artifact{}, apperr.Wrap(apperr.ConversionFailure, req.File.Name, req.Format, err)
	}
	defer area.Release()

	src, err := s.stageAndDecode(ctx, area, req.File)
	if err != nil {
		err = apperr.Wrap(apperr.DecodeFailure, req.File.Name, req.Format, err)
		s.fail(req.File.Name, req.Format, err)
		return staging.Artifact{}, err
	}

	art, err := s.encodeAndPublish(ctx, area, src, format, s.quality(req.Quality))
	if err != nil {
		s.fail(req.File.Name, req.Format, err)
		return staging.Artifact{}, err
	}
	return art, nil
}

// ToDICOM synthesizes a DICOM file from one image, PDF or video.
func (s *Service) ToDICOM(ctx context.Context, req ReverseRequest) (staging.Artifact, error) {
	art, err := s.toDICOM(ctx, req)
	if err != nil {
		s.fail(req.File.Name, req.InputFormat, err)
	}
	return art, err
}

func (s *Service) toDICOM(ctx context.Context, req ReverseRequest) (staging.Artifact, error) {
	format, err := encode.ParseFormat(req.InputFormat)
	if err != nil {
		return staging.Artifact{}, apperr.Wrap(apperr.UnsupportedFormat, req.File.Name, req.InputFormat, err)
	}

	area, err := s.Staging.Acquire()
	if err != nil {
		return staging.Artifact{}, apperr.Wrap(apperr.ConversionFailure, req.File.Name, req.InputFormat, err)
	}
	defer area.Release()

	path, err := area.Write(req.File.Name, req.File.Data)
	if err != nil {
		return staging.Artifact{}, apperr.Wrap(apperr.ConversionFailure, req.File.Name, req.InputFormat, err)
	}

	dest := area.Path(staging.Stem(req.File.Name) + ".dcm")
	out, err := s.Synth.Synthesize(ctx, path, format, req.PatientName, req.PatientID, dest)
	if err != nil {
		return staging.Artifact{}, apperr.Wrap(apperr.ConversionFailure, req.File.Name, req.InputFormat, err)
	}

	art, err := s.Store.Publish(out)
	if err != nil {
		return staging.Artifact{}, apperr.Wrap(apperr.ConversionFailure, req.File.Name, req.InputFormat, err)
	}
	s.logger().Info("converted to DICOM", "file", req.File.Name, "format", format, "artifact", art.Name)
	return art, nil
}

// ExtractMetadata reads the descriptive tags of one DICOM file.
func (s *Service) ExtractMetadata(_ context.Context, f File) (metadata.Record, error) {
	rec, err := metadata.Extract(f.Data)
	if err != nil {
		err = apperr.Wrap(apperr.ExtractionFailure, f.Name, "", err)
		s.fail(f.Name, "", err)
		return nil, err
	}
	return rec, nil
}

// stageAndDecode writes f into area and decodes it into an encode.Source.
func (s *Service) stageAndDecode(ctx context.Context, area *staging.Area, f File) (encode.Source, error) {
	path, err := area.Write(f.Name, f.Data)
	if err != nil {
		return encode.Source{}, &apperr.Error{Kind: apperr.ConversionFailure, Err: err}
	}
	return s.decode(ctx, path, f.Name)
}

// decode parses the DICOM file at path and normalizes its pixel data.
func (s *Service) decode(ctx context.Context, path, name string) (encode.Source, error) {
	ds, err := dcm.ReadDicom(path)
	if err != nil {
		return encode.Source{}, &apperr.Error{Kind: apperr.DecodeFailure, Err: err}
	}

	if ds.IsJPEGLSCompressed() && s.Dcmtk != nil {
		plain, err := s.Dcmtk.DecompressJPEGLS(ctx, path)
		if err != nil {
			return encode.Source{}, &apperr.Error{Kind: apperr.DecodeFailure, Err: err}
		}
		defer os.Remove(plain)
		if ds, err = dcm.ReadDicom(plain); err != nil {
			return encode.Source{}, &apperr.Error{Kind: apperr.DecodeFailure, Err: err}
		}
	}

	vol, err := ds.PixelVolume()
	if err != nil {
		return encode.Source{}, &apperr.Error{Kind: apperr.DecodeFailure, Err: fmt.Errorf("could not read pixel data: %w", err)}
	}
	frames, err := pixel.Normalize(vol)
	if err != nil {
		return encode.Source{}, err
	}

	rec := metadata.FromDataset(ds)
	return encode.Source{
		Name:        name,
		Volume:      vol,
		Frames:      frames,
		PatientName: rec.Get("PatientName"),
		StudyDate:   rec.Get("StudyDate"),
	}, nil
}

func (s *Service) encodeAndPublish(ctx context.Context, area *staging.Area, src encode.Source, format encode.Format, quality int) (staging.Artifact, error) {
	dest := area.Path(staging.Stem(src.Name) + format.Ext())
	out, err := s.Encoder.Encode(ctx, src, format, quality, dest)
	if err != nil {
		return staging.Artifact{}, err
	}
	art, err := s.Store.Publish(out)
	if err != nil {
		return staging.Artifact{}, apperr.Wrap(apperr.ConversionFailure, src.Name, format.String(), err)
	}
	s.logger().Info("converted", "file", src.Name, "format", format, "artifact", art.Name)
	return art, nil
}
