package progress

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/zeebo/blake3"
)

// Status is the state of one conversion item. Items start pending and end
// in exactly one of the terminal states.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Entry is the recorded state of one item.
type Entry struct {
	Status    Status `json:"status"`
	Hash      string `json:"hash,omitempty"`
	Format    string `json:"format,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Summary counts items by state.
type Summary struct {
	Pending int `json:"pending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// trackerData is the JSON structure for persistence.
type trackerData struct {
	Items   map[string]*Entry `json:"items"`
	Updated string            `json:"updated"`
	Summary Summary           `json:"summary"`
}

// Tracker records per-item conversion state. With a progress file it
// persists after every transition so folder runs can resume; without one it
// is purely in memory.
type Tracker struct {
	mu           sync.Mutex
	progressFile string
	items        map[string]*Entry
	started      map[string]bool // keys started by this process
	logger       hclog.Logger
}

// NewTracker creates a tracker, loading progressFile when it exists.
func NewTracker(progressFile string, logger hclog.Logger) *Tracker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	t := &Tracker{
		progressFile: progressFile,
		items:        make(map[string]*Entry),
		started:      make(map[string]bool),
		logger:       logger,
	}

	if progressFile != "" {
		t.load()
	}

	return t
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.progressFile)
	if err != nil {
		return // File doesn't exist, start fresh
	}

	var td trackerData
	if err := json.Unmarshal(data, &td); err != nil {
		t.logger.Warn("could not load progress file", "file", t.progressFile, "error", err)
		return
	}

	t.items = td.Items
	if t.items == nil {
		t.items = make(map[string]*Entry)
	}
	// An interrupted run leaves pending items behind; they never finished.
	for key, e := range t.items {
		if !e.Status.Terminal() {
			delete(t.items, key)
		}
	}

	s := t.summary()
	t.logger.Info("loaded progress", "succeeded", s.Success, "failed", s.Failed)
}

func (t *Tracker) save() {
	if t.progressFile == "" {
		return
	}

	td := trackerData{
		Items:   t.items,
		Updated: time.Now().Format(time.RFC3339),
		Summary: t.summary(),
	}

	data, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		t.logger.Warn("could not marshal progress data", "error", err)
		return
	}

	if err := os.WriteFile(t.progressFile, data, 0644); err != nil {
		t.logger.Warn("could not save progress", "file", t.progressFile, "error", err)
	}
}

func (t *Tracker) summary() Summary {
	var s Summary
	for _, e := range t.items {
		switch e.Status {
		case StatusPending:
			s.Pending++
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Total = len(t.items)
	return s
}

// fileHash fingerprints a file by size and modification time.
func fileHash(filePath string) string {
	info, err := os.Stat(filePath)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256([]byte(fmt.Sprintf("%d_%d", info.Size(), info.ModTime().Unix())))
	return hex.EncodeToString(sum[:4])
}

// IsProcessed reports whether key succeeded before and, when key names a
// file, that file is unchanged since.
func (t *Tracker) IsProcessed(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.items[key]
	if !ok || e.Status != StatusSuccess {
		return false
	}
	return e.Hash == "" || e.Hash == fileHash(key)
}

// IsFailed reports whether key failed before and, when key names a file,
// that file is unchanged since.
func (t *Tracker) IsFailed(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.items[key]
	if !ok || e.Status != StatusFailed {
		return false
	}
	return e.Hash == "" || e.Hash == fileHash(key)
}

// Start moves key to pending. Each key is started at most once per
// tracker; entries loaded from an earlier run may be started again.
func (t *Tracker) Start(key, format string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started[key] {
		return fmt.Errorf("%s was already started", key)
	}
	t.started[key] = true
	t.items[key] = &Entry{
		Status:    StatusPending,
		Hash:      fileHash(key),
		Format:    format,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	t.save()
	return nil
}

// Succeed moves a pending key to success.
func (t *Tracker) Succeed(key, output string) error {
	return t.finish(key, StatusSuccess, output, "")
}

// Fail moves a pending key to failed.
func (t *Tracker) Fail(key, errorMsg string) error {
	return t.finish(key, StatusFailed, "", errorMsg)
}

func (t *Tracker) finish(key string, status Status, output, errorMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.items[key]
	if !ok || e.Status != StatusPending {
		return fmt.Errorf("%s is not pending", key)
	}
	e.Status = status
	e.Output = output
	e.Error = errorMsg
	e.Timestamp = time.Now().Format(time.RFC3339)
	t.save()
	return nil
}

// Get returns a copy of the entry for key.
func (t *Tracker) Get(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ClearFailed removes all failed entries so a folder run retries them.
func (t *Tracker) ClearFailed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for key, e := range t.items {
		if e.Status == StatusFailed {
			delete(t.items, key)
			count++
		}
	}

	if count > 0 {
		t.save()
		t.logger.Info("cleared failed entries for retry", "count", count)
	}

	return count
}

// Summary returns the current counts.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary()
}
