package hl7adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/oarkflow/log"
)

// Source streams raw delimited messages from a feed. Each emitted string is
// one complete message with carriage-return segment joins, ready for the
// segmenter.
type Source interface {
	Setup(ctx context.Context) error
	Extract(ctx context.Context) (<-chan string, error)
	Close() error
}

// FileSourceOption customizes file source behaviour.
type FileSourceOption func(*FileSource)

// WithBlankLineSplit toggles whether blank lines delimit messages.
func WithBlankLineSplit(enabled bool) FileSourceOption {
	return func(fs *FileSource) {
		fs.splitOnBlankLine = enabled
	}
}

// FileSource streams messages from a file, emitting one full message per
// receive. A new MSH line or a blank line closes the message being built.
type FileSource struct {
	path             string
	splitOnBlankLine bool
}

// NewFileSource builds a FileSource reading from path.
func NewFileSource(path string, opts ...FileSourceOption) *FileSource {
	fs := &FileSource{
		path:             path,
		splitOnBlankLine: true,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Setup validates the source file exists.
func (fs *FileSource) Setup(_ context.Context) error {
	if fs.path == "" {
		return fmt.Errorf("hl7 file source: path is empty")
	}
	_, err := os.Stat(fs.path)
	return err
}

// Extract streams complete messages until the file ends or ctx is done.
func (fs *FileSource) Extract(ctx context.Context) (<-chan string, error) {
	file, err := os.Open(fs.path)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer file.Close()

		scanner := bufio.NewScanner(file)
		buf := make([]byte, 0, 128*1024)
		scanner.Buffer(buf, 4*1024*1024)
		var builder strings.Builder

		flush := func() {
			if builder.Len() == 0 {
				return
			}
			message := builder.String()
			builder.Reset()
			select {
			case <-ctx.Done():
			case out <- message:
			}
		}

		for scanner.Scan() {
			line := scanner.Text()
			trimmed := strings.TrimSpace(line)
			if fs.splitOnBlankLine && trimmed == "" {
				flush()
				continue
			}
			if strings.HasPrefix(line, "MSH") && builder.Len() > 0 {
				flush()
			}
			if builder.Len() > 0 {
				builder.WriteString("\r")
			}
			builder.WriteString(line)
			if ctx.Err() != nil {
				return
			}
		}
		flush()

		if err := scanner.Err(); err != nil {
			log.Printf("hl7 file source scan error: %v", err)
		}
	}()

	return out, nil
}

// Close implements Source.
func (fs *FileSource) Close() error {
	return nil
}

// ReadAll drains a source into a single snapshot joined by the message
// boundary the segmenter recognizes.
func ReadAll(ctx context.Context, src Source) (string, error) {
	if err := src.Setup(ctx); err != nil {
		return "", err
	}
	ch, err := src.Extract(ctx)
	if err != nil {
		return "", err
	}
	var parts []string
	for msg := range ch {
		parts = append(parts, msg)
	}
	return strings.Join(parts, "\r\r\n"), nil
}
