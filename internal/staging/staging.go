// Package staging manages on-disk scratch space. Every request acquires its
// own work Area; finished outputs are published to a Store that lives until
// shutdown.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Root is the parent directory of all work areas.
type Root struct {
	dir    string
	logger hclog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewRoot creates dir if needed.
func NewRoot(dir string, logger hclog.Logger) (*Root, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create staging directory: %w", err)
	}
	return &Root{dir: dir, logger: logger, active: make(map[string]struct{})}, nil
}

// Dir returns the root directory.
func (r *Root) Dir() string { return r.dir }

// Acquire creates a fresh, uniquely named work area. The caller must
// Release it.
func (r *Root) Acquire() (*Area, error) {
	dir, err := os.MkdirTemp(r.dir, "req-*")
	if err != nil {
		return nil, fmt.Errorf("could not create work area: %w", err)
	}
	r.mu.Lock()
	r.active[dir] = struct{}{}
	r.mu.Unlock()
	return &Area{Dir: dir, root: r, used: make(map[string]int)}, nil
}

// Active returns the number of areas not yet released.
func (r *Root) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Close removes the root directory and everything left in it.
func (r *Root) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.active); n > 0 {
		r.logger.Warn("purging unreleased work areas", "count", n)
	}
	r.active = make(map[string]struct{})
	return os.RemoveAll(r.dir)
}

func (r *Root) release(dir string) {
	r.mu.Lock()
	delete(r.active, dir)
	r.mu.Unlock()
}

// Area is one request's private directory.
type Area struct {
	Dir string

	root *Root
	mu   sync.Mutex
	used map[string]int
	done bool
}

// Write stores data under a safe form of name and returns its path. Names
// are unique within the area: a repeated name gets a numeric prefix, so
// every upload of a request reads back exactly what it wrote.
func (a *Area) Write(name string, data []byte) (string, error) {
	path := a.Path(name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("could not stage %s: %w", name, err)
	}
	return path, nil
}

// Path reserves a unique path in the area for name without creating it.
func (a *Area) Path(name string) string {
	base := SafeName(name)
	a.mu.Lock()
	n := a.used[base]
	a.used[base] = n + 1
	a.mu.Unlock()
	if n > 0 {
		base = fmt.Sprintf("%d_%s", n, base)
	}
	return filepath.Join(a.Dir, base)
}

// Release removes the area and its contents. It is safe to call twice.
func (a *Area) Release() error {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return nil
	}
	a.done = true
	a.mu.Unlock()

	a.root.release(a.Dir)
	if err := os.RemoveAll(a.Dir); err != nil {
		a.root.logger.Warn("could not remove work area", "dir", a.Dir, "error", err)
		return err
	}
	return nil
}

// SafeName reduces a client supplied filename to a plain base name.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "upload"
	}
	return name
}

// Stem returns the base name without its extension.
func Stem(name string) string {
	base := SafeName(name)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}
