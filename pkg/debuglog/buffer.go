package debuglog

import (
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds the process-wide buffer when no capacity is configured.
const DefaultCapacity = 500

// Entry is a single recorded billing event kept in memory for inspection.
type Entry struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// Buffer is a bounded in-memory ring of recent entries. When full, recording
// a new entry drops the oldest one.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// NewBuffer creates a buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Record appends an entry, evicting the oldest when the buffer is full.
func (b *Buffer) Record(entryType, message string, details map[string]any) {
	if b == nil {
		return
	}
	entry := Entry{
		Type:    strings.TrimSpace(entryType),
		Message: message,
		Details: details,
		At:      time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, entry)
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (b *Buffer) Recent(limit int) []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	total := len(b.entries)
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]Entry, 0, limit)
	for i := total - 1; i >= total-limit; i-- {
		out = append(out, b.entries[i])
	}
	return out
}

// ByType returns up to limit entries matching the given type, newest first.
func (b *Buffer) ByType(entryType string, limit int) []Entry {
	if b == nil {
		return nil
	}
	want := strings.TrimSpace(entryType)

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, 0)
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Type != want {
			continue
		}
		out = append(out, b.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

var (
	defaultBuffer     *Buffer
	defaultBufferOnce sync.Once
)

// Default returns the process-wide buffer.
func Default() *Buffer {
	defaultBufferOnce.Do(func() {
		defaultBuffer = NewBuffer(DefaultCapacity)
	})
	return defaultBuffer
}

// Record appends an entry to the process-wide buffer.
func Record(entryType, message string, details map[string]any) {
	Default().Record(entryType, message, details)
}
