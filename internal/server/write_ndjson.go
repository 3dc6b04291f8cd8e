package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/johnny1995johnny1995/dlt2log/internal/dlt"
)

// NDJSONWriter streams newline-delimited JSON objects to the underlying writer.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
}

// NewNDJSONWriter wraps w. If it supports http.Flusher, every object is
// flushed as soon as it is written.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

// RecordObject is the NDJSON form of a decoded frame.
type RecordObject struct {
	Type            string `json:"type"`
	Offset          int64  `json:"offset"`
	Size            int64  `json:"size"`
	Version         string `json:"version"`
	Timestamp       string `json:"timestamp"`
	TimestampSource string `json:"timestampSource"`
	AppID           string `json:"app"`
	CtxID           string `json:"ctx"`
	Level           string `json:"level"`
	Payload         string `json:"payload"`
}

func newRecordObject(rec dlt.Record) RecordObject {
	return RecordObject{
		Type:            "record",
		Offset:          rec.Offset,
		Size:            rec.Size,
		Version:         rec.Version.String(),
		Timestamp:       dlt.FormatTimestamp(rec.TimestampUs),
		TimestampSource: rec.Timestamp.Source.String(),
		AppID:           rec.AppID,
		CtxID:           rec.CtxID,
		Level:           rec.Level,
		Payload:         rec.Payload,
	}
}

func (w *NDJSONWriter) WriteRecord(rec dlt.Record) error {
	return w.WriteObject(newRecordObject(rec))
}

// WriteObject marshals v, writes it followed by a newline and flushes.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if _, err := w.writer.Write([]byte("\n")); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
