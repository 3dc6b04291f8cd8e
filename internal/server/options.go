package server

import (
	"errors"
	"runtime"
)

// DefaultMaxUploadBytes bounds request bodies when Options leaves it unset.
const DefaultMaxUploadBytes int64 = 512 << 20

// Options configures server creation.
type Options struct {
	StorageDir            string
	MaxUploadBytes        int64
	Concurrency           int
	RewindOnMagicMismatch bool
	// UseModTime anchors relative timestamps to the upload time when the
	// request does not pass an explicit base.
	UseModTime bool
	Verbose    bool
	// HistoryPath, when set, receives one JSONL entry per conversion.
	HistoryPath string
}

func (o Options) normalized() (Options, error) {
	if o.MaxUploadBytes < 0 {
		return o, errors.New("max upload size must not be negative")
	}
	if o.MaxUploadBytes == 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if o.Concurrency < 0 {
		return o, errors.New("concurrency must not be negative")
	}
	if o.Concurrency == 0 {
		o.Concurrency = runtime.NumCPU()
	}
	return o, nil
}
