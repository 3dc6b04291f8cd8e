package dlt

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Htyp2 is the 32-bit header type field of an extended (v2) frame. The first
// byte on the wire is its least significant byte.
type Htyp2 uint32

const (
	Htyp2CNTIMask       Htyp2 = 0x03
	Htyp2ECUPresent     Htyp2 = 0x04
	Htyp2AppCtxPresent  Htyp2 = 0x08
	Htyp2SessionPresent Htyp2 = 0x10
)

// Counter type indicator values.
const (
	CNTIInfoAndTimestamp uint8 = 0
	CNTITimestampOnly    uint8 = 1
	CNTIInfoOnly         uint8 = 2
	CNTINone             uint8 = 3
)

const (
	extendedFixedSize     = 7
	extendedInfoSize      = 2
	extendedTimestampSize = 8
	extendedReservedSize  = 1
	extendedSessionSize   = 4
)

func (h Htyp2) CNTI() uint8 {
	return uint8(h & Htyp2CNTIMask)
}

// HasMessageInfo reports whether the 2-byte MSIN/NOAR block follows.
func (h Htyp2) HasMessageInfo() bool {
	c := h.CNTI()
	return c == CNTIInfoAndTimestamp || c == CNTIInfoOnly
}

// HasRelativeTimestamp reports whether the 9-byte timestamp block follows.
func (h Htyp2) HasRelativeTimestamp() bool {
	c := h.CNTI()
	return c == CNTIInfoAndTimestamp || c == CNTITimestampOnly
}

func (h Htyp2) HasECU() bool {
	return h&Htyp2ECUPresent != 0
}

func (h Htyp2) HasAppCtx() bool {
	return h&Htyp2AppCtxPresent != 0
}

func (h Htyp2) HasSession() bool {
	return h&Htyp2SessionPresent != 0
}

// decodeExtended reads the rest of a v2 frame whose first header byte has
// already been consumed.
func decodeExtended(r io.Reader, first byte, storageUs uint64) (*Record, error) {
	var head [6]byte
	if err := readField(r, head[:], "v2 header"); err != nil {
		return nil, err
	}
	htyp := Htyp2(uint32(first) | uint32(head[0])<<8 | uint32(head[1])<<16 | uint32(head[2])<<24)
	// head[3] is the message counter
	total := int(binary.BigEndian.Uint16(head[4:6]))
	consumed := extendedFixedSize

	if htyp.HasMessageInfo() {
		var info [extendedInfoSize]byte
		if err := readField(r, info[:], "v2 message info"); err != nil {
			return nil, err
		}
		consumed += extendedInfoSize
	}
	var relative uint64
	if htyp.HasRelativeTimestamp() {
		var block [extendedTimestampSize + extendedReservedSize]byte
		if err := readField(r, block[:], "v2 timestamp"); err != nil {
			return nil, err
		}
		// the trailing reserved byte is consumed and ignored
		relative = Clamp(binary.LittleEndian.Uint64(block[:extendedTimestampSize]))
		consumed += extendedTimestampSize + extendedReservedSize
	}

	rec := &Record{
		Version: VersionExtended,
		AppID:   DefaultID,
		CtxID:   DefaultID,
		Level:   LevelInfo,
	}
	if storageUs > 0 {
		rec.Timestamp = FromStorageHeader(storageUs)
	} else {
		rec.Timestamp = RelativeCandidate(relative)
	}

	if htyp.HasECU() {
		_, n, err := readLengthPrefixed(r, "v2 ecu id")
		if err != nil {
			return nil, err
		}
		consumed += n
	}
	if htyp.HasAppCtx() {
		app, n, err := readLengthPrefixed(r, "v2 application id")
		if err != nil {
			return nil, err
		}
		consumed += n
		ctx, n, err := readLengthPrefixed(r, "v2 context id")
		if err != nil {
			return nil, err
		}
		consumed += n
		rec.AppID = lossyText(app)
		rec.CtxID = lossyText(ctx)
	}
	if htyp.HasSession() {
		var sid [extendedSessionSize]byte
		if err := readField(r, sid[:], "v2 session id"); err != nil {
			return nil, err
		}
		consumed += extendedSessionSize
	}

	remaining := total - consumed
	switch {
	case remaining < 0:
		return nil, fmt.Errorf("%w: length %d, header fields %d", ErrMalformedLength, total, consumed)
	case remaining == 0:
		rec.Payload = NoPayload
	default:
		payload := make([]byte, remaining)
		if err := readField(r, payload, "v2 payload"); err != nil {
			return nil, err
		}
		rec.Payload = Sanitize(payload)
	}
	return rec, nil
}

// readLengthPrefixed reads a 1-byte length and that many bytes, returning the
// bytes and the total consumed.
func readLengthPrefixed(r io.Reader, field string) ([]byte, int, error) {
	var n [1]byte
	if err := readField(r, n[:], field+" length"); err != nil {
		return nil, 0, err
	}
	buf := make([]byte, int(n[0]))
	if err := readField(r, buf, field); err != nil {
		return nil, 0, err
	}
	return buf, 1 + len(buf), nil
}

func lossyText(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
