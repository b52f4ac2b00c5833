package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/birbparty/pylonkit/sdk"
)

// maxLineSize bounds a single JSONL record
const maxLineSize = 4 << 20

// SnapshotEntry is one line of a KV snapshot. Exactly one of Value and
// Bytes is set.
type SnapshotEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Bytes     *string         `json:"bytes,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// EntryFromItem converts a decoded KV item into a snapshot line
func EntryFromItem(item sdk.Item) SnapshotEntry {
	entry := SnapshotEntry{Key: item.Key, ExpiresAt: item.ExpiresAt}
	if item.IsBytes() {
		s := string(item.Bytes)
		entry.Bytes = &s
	} else {
		entry.Value = item.Value
	}
	return entry
}

// EncodeSnapshot renders items as JSONL
func EncodeSnapshot(items []sdk.Item) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(EntryFromItem(item)); err != nil {
			return nil, fmt.Errorf("failed to encode item %q: %w", item.Key, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reads a JSONL snapshot. Blank lines are ignored.
func DecodeSnapshot(r io.Reader) ([]SnapshotEntry, error) {
	var entries []SnapshotEntry
	err := eachLine(r, func(n int, line []byte) error {
		var e SnapshotEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if e.Key == "" {
			return fmt.Errorf("line %d: missing key", n)
		}
		if (e.Value == nil) == (e.Bytes == nil) {
			return fmt.Errorf("line %d: exactly one of value and bytes must be set", n)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EncodeLines renders any values as JSONL
func EncodeLines[T any](values []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range values {
		if err := enc.Encode(values[i]); err != nil {
			return nil, fmt.Errorf("failed to encode line %d: %w", i+1, err)
		}
	}
	return buf.Bytes(), nil
}

func eachLine(r io.Reader, fn func(n int, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}
