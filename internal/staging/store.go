package staging

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"dicomconv/internal/apperr"
)

// Artifact is a published output file.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"blake3"`
}

// Store keeps published artifacts until Close.
type Store struct {
	dir string

	mu    sync.RWMutex
	items map[string]Artifact
}

// OpenStore creates dir if needed.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create artifact directory: %w", err)
	}
	return &Store{dir: dir, items: make(map[string]Artifact)}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Publish moves the file at src into the store under a unique name derived
// from src's base name.
func (s *Store) Publish(src string) (Artifact, error) {
	name := uuid.NewString()[:8] + "_" + SafeName(src)
	dest := filepath.Join(s.dir, name)

	if err := os.Rename(src, dest); err != nil {
		if err := copyFile(src, dest); err != nil {
			return Artifact{}, fmt.Errorf("could not publish %s: %w", filepath.Base(src), err)
		}
		os.Remove(src)
	}

	size, digest, err := hashFile(dest)
	if err != nil {
		os.Remove(dest)
		return Artifact{}, fmt.Errorf("could not hash %s: %w", name, err)
	}

	a := Artifact{Name: name, Path: dest, Size: size, Digest: digest}
	s.mu.Lock()
	s.items[name] = a
	s.mu.Unlock()
	return a, nil
}

// Lookup returns a published artifact by name.
func (s *Store) Lookup(name string) (Artifact, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return Artifact{}, apperr.New(apperr.Validation, "invalid artifact name %q", name)
	}
	s.mu.RLock()
	a, ok := s.items[name]
	s.mu.RUnlock()
	if !ok {
		return Artifact{}, &apperr.Error{Kind: apperr.NotFound, File: name, Err: fmt.Errorf("artifact not found")}
	}
	if _, err := os.Stat(a.Path); errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, &apperr.Error{Kind: apperr.NotFound, File: name, Err: fmt.Errorf("artifact not found")}
	}
	return a, nil
}

// Len returns the number of published artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close purges every artifact.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]Artifact)
	return os.RemoveAll(s.dir)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

// hashFile returns the size and hex BLAKE3 digest of path.
func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
