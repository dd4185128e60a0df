package convert

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"dicomconv/internal/apperr"
	"dicomconv/internal/encode"
	"dicomconv/internal/metadata"
	"dicomconv/internal/progress"
	"dicomconv/internal/staging"
)

// Output is the result of one file/format pair.
type Output struct {
	Format   string            `json:"format"`
	Status   progress.Status   `json:"status"`
	Artifact *staging.Artifact `json:"artifact,omitempty"`
	Error    string            `json:"error,omitempty"`
	Kind     apperr.Kind       `json:"kind,omitempty"`
}

// FileResult holds the outputs of one input file, in format order.
type FileResult struct {
	InputFile string   `json:"input_file"`
	Outputs   []Output `json:"outputs"`
}

// ReverseResult is the result of one conversion to DICOM.
type ReverseResult struct {
	InputFile   string            `json:"input_file"`
	InputFormat string            `json:"input_format"`
	Status      progress.Status   `json:"status"`
	Artifact    *staging.Artifact `json:"artifact,omitempty"`
	Error       *string           `json:"error"`
}

// MetadataResult is the metadata of one file, or why it could not be read.
type MetadataResult struct {
	File     string          `json:"file"`
	Metadata metadata.Record `json:"metadata,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func itemKey(i int, name, format string) string {
	return fmt.Sprintf("%d:%s#%s", i, name, format)
}

// run calls fn for 0..n-1 with at most Workers calls in flight. fn writes
// its own result slot, so completion order does not affect result order.
func (s *Service) run(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i := 0; i < n; i++ {
		i := i // per-iteration copy; go directive is below 1.22
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	g.Wait()
}

// ConvertBatch converts every file to every format. Results are ordered by
// file, then by format; a failing pair is reported in its slot and does not
// affect the others.
func (s *Service) ConvertBatch(ctx context.Context, files []File, formats []string, quality int) ([]FileResult, error) {
	if len(files) == 0 {
		return nil, apperr.New(apperr.Validation, "no files provided")
	}
	if len(formats) == 0 {
		return nil, apperr.New(apperr.Validation, "no formats provided")
	}

	tracker := progress.NewTracker("", s.logger())
	quality = s.quality(quality)
	results := make([]FileResult, len(files))

	s.run(ctx, len(files), func(ctx context.Context, i int) {
		results[i] = s.convertFile(ctx, tracker, i, files[i], formats, quality)
	})

	sum := tracker.Summary()
	s.logger().Info("batch finished", "files", len(files), "formats", len(formats), "succeeded", sum.Success, "failed", sum.Failed)
	return results, nil
}

func (s *Service) convertFile(ctx context.Context, tracker *progress.Tracker, i int, f File, formats []string, quality int) FileResult {
	res := FileResult{InputFile: f.Name, Outputs: make([]Output, len(formats))}
	for j, tag := range formats {
		res.Outputs[j] = Output{Format: tag, Status: progress.StatusPending}
		tracker.Start(itemKey(i, f.Name, tag), tag)
	}

	finish := func(j int, art *staging.Artifact, err error) {
		key := itemKey(i, f.Name, formats[j])
		if err != nil {
			err = apperr.Wrap(apperr.ConversionFailure, f.Name, formats[j], err)
			s.fail(f.Name, formats[j], err)
			tracker.Fail(key, err.Error())
			res.Outputs[j].Status = progress.StatusFailed
			res.Outputs[j].Error = apperr.Message(err)
			res.Outputs[j].Kind = apperr.KindOf(err)
			return
		}
		tracker.Succeed(key, art.Path)
		res.Outputs[j].Status = progress.StatusSuccess
		res.Outputs[j].Artifact = art
	}

	area, err := s.Staging.Acquire()
	if err != nil {
		for j := range formats {
			finish(j, nil, err)
		}
		return res
	}
	defer area.Release()

	// Decode lazily: a batch whose formats are all unknown never parses.
	var (
		src     encode.Source
		srcErr  error
		decoded bool
	)
	for j, tag := range formats {
		format, err := encode.ParseFormat(tag)
		if err != nil {
			finish(j, nil, err)
			continue
		}
		if !decoded {
			src, srcErr = s.stageAndDecode(ctx, area, f)
			decoded = true
		}
		if srcErr != nil {
			finish(j, nil, apperr.Wrap(apperr.DecodeFailure, f.Name, tag, srcErr))
			continue
		}
		art, err := s.encodeAndPublish(ctx, area, src, format, quality)
		if err != nil {
			finish(j, nil, err)
			continue
		}
		finish(j, &art, nil)
	}
	return res
}

// ToDICOMBatch converts files[i] from inputFormats[i]. The two lists must
// have the same length; otherwise nothing is converted.
func (s *Service) ToDICOMBatch(ctx context.Context, files []File, inputFormats []string, patientName, patientID string) ([]ReverseResult, error) {
	if len(files) != len(inputFormats) {
		return nil, apperr.New(apperr.Validation, "got %d files but %d input formats", len(files), len(inputFormats))
	}
	if len(files) == 0 {
		return nil, apperr.New(apperr.Validation, "no files provided")
	}

	tracker := progress.NewTracker("", s.logger())
	results := make([]ReverseResult, len(files))
	for i, f := range files {
		results[i] = ReverseResult{InputFile: f.Name, InputFormat: inputFormats[i], Status: progress.StatusPending}
		tracker.Start(itemKey(i, f.Name, inputFormats[i]), inputFormats[i])
	}

	s.run(ctx, len(files), func(ctx context.Context, i int) {
		key := itemKey(i, files[i].Name, inputFormats[i])
		art, err := s.ToDICOM(ctx, ReverseRequest{
			File:        files[i],
			InputFormat: inputFormats[i],
			PatientName: patientName,
			PatientID:   patientID,
		})
		if err != nil {
			msg := apperr.Message(err)
			tracker.Fail(key, msg)
			results[i].Status = progress.StatusFailed
			results[i].Error = &msg
			return
		}
		tracker.Succeed(key, art.Path)
		results[i].Status = progress.StatusSuccess
		results[i].Artifact = &art
	})

	sum := tracker.Summary()
	s.logger().Info("reverse batch finished", "files", len(files), "succeeded", sum.Success, "failed", sum.Failed)
	return results, nil
}

// ExtractMetadataBatch extracts metadata from every file, in input order.
func (s *Service) ExtractMetadataBatch(ctx context.Context, files []File) ([]MetadataResult, error) {
	if len(files) == 0 {
		return nil, apperr.New(apperr.Validation, "no files provided")
	}

	results := make([]MetadataResult, len(files))
	s.run(ctx, len(files), func(ctx context.Context, i int) {
		results[i].File = files[i].Name
		rec, err := s.ExtractMetadata(ctx, files[i])
		if err != nil {
			results[i].Error = apperr.Message(err)
			return
		}
		results[i].Metadata = rec
	})
	return results, nil
}
