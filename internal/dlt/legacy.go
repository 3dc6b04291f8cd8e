package dlt

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/johnny1995johnny1995/dlt2log/internal/verbose"
)

const (
	legacyHeaderSize = 4
	// legacyTimestampUnitUs converts the 0.1 ms header timestamp to microseconds.
	legacyTimestampUnitUs = 100
)

// LegacyDecoder performs the structural decode of one complete v1 frame,
// header through payload. verbose.Decoder is the stock implementation.
type LegacyDecoder interface {
	Decode(frame []byte) (*verbose.Message, error)
}

// decodeLegacy reads the rest of a v1 frame whose marker byte has already been
// consumed. A nil record with a nil error means the length field was too small
// to describe a frame, which ends the scan cleanly.
func decodeLegacy(r io.Reader, marker byte, storageUs uint64, dec LegacyDecoder) (*Record, error) {
	var rest [3]byte
	if err := readField(r, rest[:], "v1 header"); err != nil {
		return nil, err
	}
	total := int(binary.BigEndian.Uint16(rest[1:3]))
	if total < legacyHeaderSize {
		return nil, nil
	}
	frame := make([]byte, total)
	frame[0] = marker
	copy(frame[1:legacyHeaderSize], rest[:])
	if err := readField(r, frame[legacyHeaderSize:], "v1 body"); err != nil {
		return nil, err
	}

	msg, err := dec.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLegacyDecode, err)
	}

	rec := &Record{
		Version: VersionLegacy,
		AppID:   DefaultID,
		CtxID:   DefaultID,
		Level:   LevelUnknown,
	}
	if storageUs > 0 {
		rec.Timestamp = FromStorageHeader(storageUs)
	} else {
		var rel uint64
		if msg.Header.Timestamp != nil {
			rel = uint64(*msg.Header.Timestamp) * legacyTimestampUnitUs
		}
		rec.Timestamp = RelativeCandidate(rel)
	}
	if ext := msg.Extended; ext != nil {
		rec.AppID = ext.ApplicationID
		rec.CtxID = ext.ContextID
		rec.Level = levelName(ext.MessageType)
	}
	rec.Payload = legacyPayloadText(msg.Payload)
	return rec, nil
}

// levelName uppercases the message type and unwraps Log(...), so Log(Info)
// becomes INFO while ApplicationTrace(Variable) stays qualified.
func levelName(mt verbose.MessageType) string {
	name := mt.String()
	if strings.HasPrefix(name, "Log(") && strings.HasSuffix(name, ")") {
		name = name[len("Log(") : len(name)-1]
	}
	return strings.ToUpper(name)
}

func legacyPayloadText(p verbose.Payload) string {
	if !p.Verbose {
		return p.String()
	}
	parts := make([]string, len(p.Arguments))
	for i, arg := range p.Arguments {
		if s, ok := arg.Value.(string); ok && arg.Kind == verbose.ArgString {
			parts[i] = s
			continue
		}
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}
