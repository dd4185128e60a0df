package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dicomconv/internal/apperr"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/encode"
	"dicomconv/internal/progress"
	"dicomconv/internal/staging"
)

// FolderConfig describes an offline conversion of a directory tree.
type FolderConfig struct {
	InputFolder string
	// OutputFolder defaults to InputFolder/converted.
	OutputFolder string
	Formats      []string
	Quality      int
	Recursive    bool
	// RetryFailed converts files that failed in an earlier run again;
	// otherwise they are skipped until they change.
	RetryFailed bool
}

// Stats holds folder run statistics.
type Stats struct {
	Success int
	Failed  int
	Skipped int
	Output  string
	LogFile string
}

// ProgressFunc is called after each file with its outcome.
type ProgressFunc func(current, total int, file string, status progress.Status)

// ProcessFolder converts every DICOM file below cfg.InputFolder to each of
// cfg.Formats, mirroring the directory layout under the output folder.
// Progress is persisted so an interrupted run resumes where it stopped.
func (s *Service) ProcessFolder(ctx context.Context, cfg FolderConfig, onProgress ProgressFunc) (*Stats, error) {
	if len(cfg.Formats) == 0 {
		return nil, apperr.New(apperr.Validation, "no formats provided")
	}
	formats := make([]encode.Format, len(cfg.Formats))
	for i, tag := range cfg.Formats {
		f, err := encode.ParseFormat(tag)
		if err != nil {
			return nil, err
		}
		formats[i] = f
	}
	if onProgress == nil {
		onProgress = func(int, int, string, progress.Status) {}
	}

	outputFolder := cfg.OutputFolder
	if outputFolder == "" {
		outputFolder = filepath.Join(cfg.InputFolder, "converted")
	}
	if err := os.MkdirAll(outputFolder, 0755); err != nil {
		return nil, fmt.Errorf("could not create output folder: %w", err)
	}

	stats := &Stats{Output: outputFolder, LogFile: filepath.Join(outputFolder, "errors.log")}
	tracker := progress.NewTracker(filepath.Join(outputFolder, ".progress.json"), s.logger())
	if cfg.RetryFailed {
		tracker.ClearFailed()
	}

	failures, err := progress.NewFailureLog(stats.LogFile)
	if err != nil {
		return nil, err
	}
	defer failures.Close()

	files, err := dcm.FindDicomFiles(cfg.InputFolder, dcm.ScanOptions{Recursive: cfg.Recursive, Skip: outputFolder})
	if err != nil {
		return nil, fmt.Errorf("could not find DICOM files: %w", err)
	}
	s.logger().Info("found DICOM files", "count", len(files), "input", cfg.InputFolder)

	quality := s.quality(cfg.Quality)
	var (
		mu   sync.Mutex
		done int
	)
	s.run(ctx, len(files), func(ctx context.Context, i int) {
		path := files[i].Path
		status := progress.StatusSuccess

		if tracker.IsProcessed(path) || (!cfg.RetryFailed && tracker.IsFailed(path)) {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
		} else {
			tracker.Start(path, strings.Join(cfg.Formats, ","))
			outputs, err := s.convertPath(ctx, outputFolder, files[i], formats, quality)
			if err != nil {
				status = progress.StatusFailed
				failures.Log(path, strings.Join(cfg.Formats, ","), err.Error())
				tracker.Fail(path, err.Error())
			} else {
				tracker.Succeed(path, strings.Join(outputs, ","))
			}

			mu.Lock()
			if err != nil {
				stats.Failed++
			} else {
				stats.Success++
			}
			mu.Unlock()
		}

		mu.Lock()
		done++
		current := done
		mu.Unlock()
		onProgress(current, len(files), path, status)
	})

	return stats, nil
}

// convertPath writes file in each format at its mirrored location in
// outputFolder. Every format is attempted; the errors are joined.
func (s *Service) convertPath(ctx context.Context, outputFolder string, file dcm.Source, formats []encode.Format, quality int) ([]string, error) {
	name := filepath.Base(file.Path)
	src, err := s.decode(ctx, file.Path, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.DecodeFailure, name, "", err)
	}

	base := filepath.Join(outputFolder, filepath.Dir(file.Rel), staging.Stem(file.Rel))

	var (
		outputs []string
		errs    []error
	)
	for _, f := range formats {
		out, err := s.Encoder.Encode(ctx, src, f, quality, base+f.Ext())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs, errors.Join(errs...)
}
