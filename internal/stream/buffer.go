// Package stream holds the live, in-memory output of running tasks.
//
// Output is not persisted while a task runs. When the task reaches a
// terminal state its buffer is taken and folded into the stored record.
package stream

import (
	"sync"
	"unicode/utf8"
)

// DefaultMaxSize caps a single task's buffer.
const DefaultMaxSize = 100 * 1024

// TruncationMarker is prepended once the buffer has dropped older content.
const TruncationMarker = "...[truncated]...\n"

// Buffer accumulates streaming output per task ID.
//
// Thread-safe: All methods can be called concurrently.
type Buffer struct {
	mu      sync.Mutex
	outputs map[int64]string
	maxSize int
}

// NewBuffer creates a buffer with the given per-task cap.
// A non-positive maxSize uses DefaultMaxSize.
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Buffer{
		outputs: make(map[int64]string),
		maxSize: maxSize,
	}
}

// Append adds a chunk to the task's buffer. Once the buffer exceeds the cap
// it keeps only the most recent content behind TruncationMarker.
func (b *Buffer) Append(taskID int64, chunk string) {
	if chunk == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.outputs[taskID] + chunk
	if len(current) > b.maxSize {
		current = TruncationMarker + tail(current, b.maxSize-len(TruncationMarker))
	}
	b.outputs[taskID] = current
}

// Get returns the task's current buffer.
func (b *Buffer) Get(taskID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs[taskID]
}

// Take returns the task's buffer and removes it.
func (b *Buffer) Take(taskID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.outputs[taskID]
	delete(b.outputs, taskID)
	return out
}

// Clear removes the task's buffer.
func (b *Buffer) Clear(taskID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.outputs, taskID)
}

// Len returns the number of tasks with buffered output.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outputs)
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
