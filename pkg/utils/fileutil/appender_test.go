package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oarkflow/hl7ql/pkg/parsers"
)

func TestExportAppenderSeparatesBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.hl7")
	ea, err := NewExportAppender(path)
	if err != nil {
		t.Fatalf("open appender: %v", err)
	}
	defer ea.Close()

	if err := ea.Append("MSH|^~\\&|A\rPID|1"); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := ea.Append(""); err != nil {
		t.Fatalf("empty append: %v", err)
	}
	if err := ea.Append("MSH|^~\\&|B\rPID|2"); err != nil {
		t.Fatalf("second append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	want := "MSH|^~\\&|A\rPID|1\r\r\nMSH|^~\\&|B\rPID|2"
	if string(data) != want {
		t.Fatalf("export file = %q, want %q", string(data), want)
	}
	if got := len(parsers.SplitMessages(string(data))); got != 2 {
		t.Fatalf("accumulated file segments into %d messages, want 2", got)
	}
}
