package dlt

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnknownVersion  = errors.New("unknown DLT version marker")
	ErrTruncated       = errors.New("truncated frame")
	ErrMalformedLength = errors.New("frame length shorter than its header fields")
	ErrLegacyDecode    = errors.New("failed to parse DLT v1 message")
)

// FrameError ties a fatal decode failure to the offset of the frame that
// produced it.
type FrameError struct {
	Offset int64
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame at offset %d: %v", e.Offset, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// readField fills buf from r. Running out of bytes part way through a frame
// is reported as ErrTruncated.
func readField(r io.Reader, buf []byte, field string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: reading %s", ErrTruncated, field)
		}
		return fmt.Errorf("reading %s: %w", field, err)
	}
	return nil
}
