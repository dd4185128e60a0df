package dicom

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is a DICOM file found by FindDicomFiles.
type Source struct {
	// Path is the file as reached from the scan root.
	Path string
	// Rel is Path relative to the scan root; outputs mirror it.
	Rel string
}

// ScanOptions controls FindDicomFiles.
type ScanOptions struct {
	Recursive bool
	// Skip is a directory that is never entered, normally the output folder
	// when it lives inside the input tree.
	Skip string
}

// FindDicomFiles lists the DICOM files below root, sorted by relative path.
// Files named *.dcm or *.dicom are taken on their extension; anything else
// must carry the DICM preamble. Hidden files and directories and DICOMDIR
// indexes are ignored.
func FindDicomFiles(root string, opts ScanOptions) ([]Source, error) {
	skip := ""
	if opts.Skip != "" {
		abs, err := filepath.Abs(opts.Skip)
		if err != nil {
			return nil, err
		}
		skip = abs
	}

	var found []Source
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, the root itself is not.
			if path == root {
				return err
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if !opts.Recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(path); err == nil && abs == skip {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") || d.Name() == "DICOMDIR" {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".dcm", ".dicom":
		default:
			if !hasDicomMagicBytes(path) {
				return nil
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = d.Name()
		}
		found = append(found, Source{Path: path, Rel: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Rel < found[j].Rel })
	return found, nil
}

// HasDicomMagic reports whether data starts with the 128 byte preamble
// followed by "DICM".
func HasDicomMagic(data []byte) bool {
	return len(data) >= 132 && string(data[128:132]) == "DICM"
}

func hasDicomMagicBytes(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	header := make([]byte, 132)
	if _, err := io.ReadFull(file, header); err != nil {
		return false
	}
	return HasDicomMagic(header)
}
