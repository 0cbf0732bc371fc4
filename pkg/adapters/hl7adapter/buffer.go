package hl7adapter

import (
	"context"
	"strings"
	"sync"
)

// Buffer accumulates messages from a streaming source so queries can run
// against a point-in-time snapshot while the feed keeps flowing.
type Buffer struct {
	mu       sync.RWMutex
	messages []string
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Consume drains src into the buffer until the stream closes or ctx is
// done. It blocks, so callers usually run it in a goroutine.
func (b *Buffer) Consume(ctx context.Context, src Source) error {
	if err := src.Setup(ctx); err != nil {
		return err
	}
	ch, err := src.Extract(ctx)
	if err != nil {
		return err
	}
	for msg := range ch {
		b.Add(msg)
	}
	return nil
}

// Add appends one raw message.
func (b *Buffer) Add(message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	b.mu.Lock()
	b.messages = append(b.messages, message)
	b.mu.Unlock()
}

// Len reports how many messages have been received.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// Snapshot joins the received messages into one segmentable text.
func (b *Buffer) Snapshot() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.messages, "\r\r\n")
}
