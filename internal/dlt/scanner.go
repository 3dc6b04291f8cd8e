package dlt

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/verbose"
)

// Options tunes a scan. The zero value is usable.
type Options struct {
	// BaseTimestampUs anchors boot-relative timestamps, usually the input
	// file's modification time. Zero disables anchoring.
	BaseTimestampUs uint64
	// Decoder handles the structural decode of v1 frames. Defaults to
	// verbose.NewDecoder().
	Decoder LegacyDecoder
	// RewindOnMagicMismatch leaves the four bytes that failed the storage
	// magic check in the stream instead of skipping them.
	RewindOnMagicMismatch bool
	Verbose               bool
	Metrics               *common.Metrics
	// OnRecord sees every record before it is written by Convert.
	OnRecord func(Record)
}

// Scanner walks a capture frame by frame. It stops at the first fatal error
// and keeps returning it.
type Scanner struct {
	fr      *frameReader
	opts    Options
	storage bool
	count   int
	err     error
}

// NewScanner checks src for a storage header and rewinds it before the first
// frame is read.
func NewScanner(src io.ReadSeeker, opts Options) (*Scanner, error) {
	if opts.Decoder == nil {
		opts.Decoder = verbose.NewDecoder()
	}
	if opts.Metrics != nil {
		if size, err := src.Seek(0, io.SeekEnd); err == nil {
			opts.Metrics.SetTotalBytes(size)
		}
	}
	present, err := detectStorageHeader(src)
	if err != nil {
		return nil, fmt.Errorf("detect storage header: %w", err)
	}
	return &Scanner{
		fr:      newFrameReader(src, 0),
		opts:    opts,
		storage: present,
	}, nil
}

func (s *Scanner) HasStorageHeader() bool {
	return s.storage
}

// Count is the number of records returned so far.
func (s *Scanner) Count() int {
	return s.count
}

// Next returns the next record, io.EOF at a clean end of input, or a
// *FrameError.
func (s *Scanner) Next() (Record, error) {
	if s.err != nil {
		return Record{}, s.err
	}
	start := s.fr.off
	storageUs, err := readStorageHeader(s.fr, s.storage, s.opts.RewindOnMagicMismatch)
	if err != nil {
		return s.fail(start, err)
	}
	var marker [1]byte
	if _, err := io.ReadFull(s.fr, marker[:]); err != nil {
		if errors.Is(err, io.EOF) {
			s.err = io.EOF
			return Record{}, io.EOF
		}
		return s.fail(start, err)
	}

	var rec *Record
	switch marker[0] {
	case legacyMarker:
		rec, err = decodeLegacy(s.fr, marker[0], storageUs, s.opts.Decoder)
	case extendedMarker:
		rec, err = decodeExtended(s.fr, marker[0], storageUs)
	default:
		err = fmt.Errorf("%w: 0x%02x", ErrUnknownVersion, marker[0])
	}
	if err != nil {
		return s.fail(start, err)
	}
	if rec == nil {
		s.err = io.EOF
		return Record{}, io.EOF
	}

	rec.Offset = start
	rec.Size = s.fr.off - start
	rec.TimestampUs = Anchor(rec.Timestamp, s.opts.BaseTimestampUs)
	index := s.count
	s.count++
	if s.opts.Metrics != nil {
		s.opts.Metrics.AddFrame(rec.Size, rec.Version == VersionExtended)
	}
	if s.opts.Verbose {
		common.Logf("frame %d at offset %d (size %d): %s", index, rec.Offset, rec.Size, rec)
	}
	return *rec, nil
}

func (s *Scanner) fail(offset int64, err error) (Record, error) {
	s.err = &FrameError{Offset: offset, Err: err}
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncFailure()
	}
	if s.opts.Verbose {
		common.Logf("error at offset %d: %v", offset, err)
	}
	return Record{}, s.err
}

// Convert writes one line per frame of src to sink and returns how many were
// written. Lines written before a fatal error are flushed and kept.
func Convert(src io.ReadSeeker, sink io.Writer, opts Options) (int, error) {
	sc, err := NewScanner(src, opts)
	if err != nil {
		return 0, err
	}
	if opts.Metrics != nil {
		opts.Metrics.Start()
		defer opts.Metrics.Stop()
	}
	w := bufio.NewWriterSize(sink, 64<<10)
	written := 0
	var scanErr error
	for {
		rec, err := sc.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				scanErr = err
			}
			break
		}
		if opts.OnRecord != nil {
			opts.OnRecord(rec)
		}
		if _, err := w.WriteString(rec.String()); err != nil {
			scanErr = err
			break
		}
		if err := w.WriteByte('\n'); err != nil {
			scanErr = err
			break
		}
		written++
	}
	if err := w.Flush(); err != nil && scanErr == nil {
		scanErr = err
	}
	return written, scanErr
}
