package dlt

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	storageHeaderSize = 16
	storageMagicSize  = 4
)

var storageMagic = []byte("DLT\x01")

// frameReader is the buffered cursor every decoder reads through. It tracks
// the absolute stream offset so frames can be reported by position.
type frameReader struct {
	br  *bufio.Reader
	off int64
}

func newFrameReader(r io.Reader, off int64) *frameReader {
	return &frameReader{br: bufio.NewReaderSize(r, 64<<10), off: off}
}

func (fr *frameReader) Read(p []byte) (int, error) {
	n, err := fr.br.Read(p)
	fr.off += int64(n)
	return n, err
}

func (fr *frameReader) peek(n int) ([]byte, error) {
	return fr.br.Peek(n)
}

func (fr *frameReader) discard(n int) error {
	d, err := fr.br.Discard(n)
	fr.off += int64(d)
	return err
}

// detectStorageHeader checks the first four bytes of the stream for the
// storage header magic and rewinds to the start either way.
func detectStorageHeader(src io.ReadSeeker) (bool, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	magic := make([]byte, storageMagicSize)
	_, readErr := io.ReadFull(src, magic)
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	if readErr != nil {
		return false, nil
	}
	return bytes.Equal(magic, storageMagic), nil
}

// readStorageHeader consumes the optional per-frame storage header and returns
// its timestamp in microseconds, or 0 when there is none. A short read of the
// magic is not an error: the version marker read that follows decides whether
// the stream ended cleanly. On a magic mismatch the four bytes stay consumed
// unless rewind is set.
func readStorageHeader(fr *frameReader, present, rewind bool) (uint64, error) {
	if !present {
		return 0, nil
	}
	magic, err := fr.peek(storageMagicSize)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || len(magic) < storageMagicSize {
			return 0, fr.discard(len(magic))
		}
		return 0, err
	}
	if !bytes.Equal(magic, storageMagic) {
		if rewind {
			return 0, nil
		}
		return 0, fr.discard(storageMagicSize)
	}
	if err := fr.discard(storageMagicSize); err != nil {
		return 0, err
	}
	rest := make([]byte, storageHeaderSize-storageMagicSize)
	if err := readField(fr, rest, "storage header"); err != nil {
		return 0, err
	}
	seconds := uint64(binary.LittleEndian.Uint32(rest[0:4]))
	subSeconds := uint64(binary.LittleEndian.Uint32(rest[4:8]))
	// rest[8:12] is the ECU id, unused
	return seconds*1_000_000 + subSeconds, nil
}
