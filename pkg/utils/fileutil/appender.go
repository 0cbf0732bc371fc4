package fileutil

import (
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// Option is a functional option for ExportAppender.
type Option func(*ExportAppender)

// WithSyncOnAppend controls whether each append is flushed to disk before
// returning. Enabled by default.
func WithSyncOnAppend(enabled bool) Option {
	return func(ea *ExportAppender) {
		ea.syncOnAppend = enabled
	}
}

// ExportAppender appends reconstructed message exports to a plain-text
// file. Appends are serialized in-process with a mutex and across processes
// with a lock file, so scheduled runs and manual exports can share a target.
type ExportAppender struct {
	filePath     string
	file         *os.File
	fileLock     *flock.Flock
	mu           sync.Mutex
	syncOnAppend bool
}

// NewExportAppender opens (or creates) the export file for appending.
func NewExportAppender(filePath string, opts ...Option) (*ExportAppender, error) {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, err
	}
	ea := &ExportAppender{
		filePath:     filePath,
		file:         f,
		fileLock:     flock.New(filePath + ".lock"),
		syncOnAppend: true,
	}
	for _, opt := range opts {
		opt(ea)
	}
	return ea, nil
}

// Append writes one export block. Blocks are separated by the same
// terminator that separates messages inside an export, so a file built from
// many runs still segments cleanly.
func (ea *ExportAppender) Append(export string) error {
	if export == "" {
		return nil
	}
	ea.mu.Lock()
	defer ea.mu.Unlock()

	if err := ea.fileLock.Lock(); err != nil {
		return err
	}
	defer ea.fileLock.Unlock()

	fi, err := ea.file.Stat()
	if err != nil {
		return err
	}
	if fi.Size() > 0 {
		if _, err := ea.file.WriteString("\r\r\n"); err != nil {
			return err
		}
	}
	if _, err := ea.file.WriteString(export); err != nil {
		return err
	}
	if ea.syncOnAppend {
		return ea.file.Sync()
	}
	return nil
}

// Close releases the file handle.
func (ea *ExportAppender) Close() error {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return ea.file.Close()
}
