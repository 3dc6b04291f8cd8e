package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunEntry is one line of the conversion history: which file was converted,
// where the text went and how it ended.
type RunEntry struct {
	RunID  string    `json:"runId"`
	Input  string    `json:"input"`
	Output string    `json:"output,omitempty"`
	Frames int       `json:"frames"`
	Error  string    `json:"error,omitempty"`
	Ts     time.Time `json:"ts"`
}

// RunLog provides append-only access to a JSONL history file.
type RunLog struct {
	path string
	mu   sync.Mutex
}

func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

func (l *RunLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes entry as one JSON object on its own line.
func (l *RunLog) Append(entry RunEntry) error {
	if l == nil {
		return errors.New("nil run log")
	}
	if entry.Input == "" {
		return errors.New("run entry missing input")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadRunLog loads every entry from a JSONL history file.
func ReadRunLog(path string) ([]RunEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	var entries []RunEntry
	for {
		var entry RunEntry
		err := dec.Decode(&entry)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode run entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, entry)
	}
}
