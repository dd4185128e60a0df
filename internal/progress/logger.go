package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Failure is one failed conversion.
type Failure struct {
	File      string
	Format    string
	Error     string
	Timestamp time.Time
}

// FailureLog appends failed conversions to a plain text file, one line per
// failure. With an empty path it only keeps them in memory.
type FailureLog struct {
	mu       sync.Mutex
	logFile  string
	failures []Failure
	file     *os.File
}

// NewFailureLog opens logFile for appending, creating its directory.
func NewFailureLog(logFile string) (*FailureLog, error) {
	l := &FailureLog{logFile: logFile}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		l.file = file
	}

	return l, nil
}

// Log records a failure of file converted to or from format.
func (l *FailureLog) Log(file, format, errorMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := Failure{
		File:      file,
		Format:    format,
		Error:     errorMsg,
		Timestamp: time.Now(),
	}
	l.failures = append(l.failures, f)

	if l.file != nil {
		fmt.Fprintf(l.file, "%s | %s | %s | %s\n",
			f.Timestamp.Format(time.RFC3339),
			filepath.Base(file),
			format,
			errorMsg)
	}
}

// Failures returns a copy of everything logged so far.
func (l *FailureLog) Failures() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Failure(nil), l.failures...)
}

// Summary describes the logged failures in one line.
func (l *FailureLog) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case len(l.failures) == 0:
		return "No errors"
	case l.logFile == "":
		return fmt.Sprintf("%d errors", len(l.failures))
	}
	return fmt.Sprintf("%d errors logged to %s", len(l.failures), l.logFile)
}

// Count returns the number of logged failures.
func (l *FailureLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

// Close closes the log file.
func (l *FailureLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
