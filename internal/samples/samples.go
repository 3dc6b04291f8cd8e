package samples

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const (
	StorageMagic      = "DLT\x01"
	storageHeaderSize = 16

	ExtendedMarker = 0x4c

	legacyUEH  = 0x01
	legacyMSBF = 0x02
	legacyWEID = 0x04
	legacyWSID = 0x08
	legacyWTMS = 0x10

	argString   = 0x00000200
	argUnsigned = 0x00000040
	argSigned   = 0x00000020
	argBool     = 0x00000010
	argRaw      = 0x00000400
	argLen32    = 0x3
	argLen8     = 0x1

	// File name exposed for generator consumers.
	CaptureFileName = "sample.dlt"

	// Exported constants simplify tests and documentation when referencing
	// the deterministic timestamps embedded in the sample capture.
	CaptureSeconds      uint32 = 1_700_000_000
	CaptureMicroseconds uint32 = 250_000
)

// StorageHeader builds the 16-byte per-frame prefix.
func StorageHeader(seconds, micros uint32, ecu string) []byte {
	buf := make([]byte, storageHeaderSize)
	copy(buf[0:4], StorageMagic)
	binary.LittleEndian.PutUint32(buf[4:8], seconds)
	binary.LittleEndian.PutUint32(buf[8:12], micros)
	copy(buf[12:16], ecu)
	return buf
}

// Log levels as carried in the MTIN field of a log message.
const (
	LevelFatal   uint8 = 1
	LevelError   uint8 = 2
	LevelWarn    uint8 = 3
	LevelInfo    uint8 = 4
	LevelDebug   uint8 = 5
	LevelVerbose uint8 = 6
)

// LegacyFrame describes a v1 frame. The header type byte is derived from the
// populated fields; with EcuID, Timestamp and an extended header set it is the
// 0x35 marker the scanner dispatches on.
type LegacyFrame struct {
	Counter        uint8
	BigEndian      bool
	EcuID          string
	SessionID      *uint32
	Timestamp      *uint32
	NoExtended     bool
	AppID          string
	CtxID          string
	MessageKind    uint8
	MessageInfo    uint8
	NonVerbose     bool
	Args           [][]byte
	Payload        []byte
	LengthOverride *uint16
}

// Bytes serializes the frame starting at the header type byte.
func (f LegacyFrame) Bytes() []byte {
	htyp := byte(0x20)
	if !f.NoExtended {
		htyp |= legacyUEH
	}
	if f.BigEndian {
		htyp |= legacyMSBF
	}
	if f.EcuID != "" {
		htyp |= legacyWEID
	}
	if f.SessionID != nil {
		htyp |= legacyWSID
	}
	if f.Timestamp != nil {
		htyp |= legacyWTMS
	}
	var body bytes.Buffer
	if f.EcuID != "" {
		body.Write(padID(f.EcuID))
	}
	if f.SessionID != nil {
		binary.Write(&body, binary.BigEndian, *f.SessionID)
	}
	if f.Timestamp != nil {
		binary.Write(&body, binary.BigEndian, *f.Timestamp)
	}
	if !f.NoExtended {
		msin := f.MessageInfo<<4 | (f.MessageKind&0x7)<<1
		noar := byte(0)
		if !f.NonVerbose {
			msin |= 0x01
			noar = byte(len(f.Args))
		}
		body.WriteByte(msin)
		body.WriteByte(noar)
		body.Write(padID(f.AppID))
		body.Write(padID(f.CtxID))
	}
	if f.NonVerbose || f.NoExtended {
		body.Write(f.Payload)
	} else {
		for _, arg := range f.Args {
			body.Write(arg)
		}
	}
	total := 4 + body.Len()
	out := make([]byte, 4, total)
	out[0] = htyp
	out[1] = f.Counter
	length := uint16(total)
	if f.LengthOverride != nil {
		length = *f.LengthOverride
	}
	binary.BigEndian.PutUint16(out[2:4], length)
	return append(out, body.Bytes()...)
}

func padID(id string) []byte {
	buf := make([]byte, 4)
	copy(buf, id)
	return buf
}

func order(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// StringArg encodes a verbose string argument including its NUL terminator.
func StringArg(s string, bigEndian bool) []byte {
	bo := order(bigEndian)
	buf := make([]byte, 6, 6+len(s)+1)
	bo.PutUint32(buf[0:4], argString)
	bo.PutUint16(buf[4:6], uint16(len(s)+1))
	buf = append(buf, s...)
	return append(buf, 0)
}

// Uint32Arg encodes a verbose 32-bit unsigned argument.
func Uint32Arg(v uint32, bigEndian bool) []byte {
	bo := order(bigEndian)
	buf := make([]byte, 8)
	bo.PutUint32(buf[0:4], argUnsigned|argLen32)
	bo.PutUint32(buf[4:8], v)
	return buf
}

// Int32Arg encodes a verbose 32-bit signed argument.
func Int32Arg(v int32, bigEndian bool) []byte {
	bo := order(bigEndian)
	buf := make([]byte, 8)
	bo.PutUint32(buf[0:4], argSigned|argLen32)
	bo.PutUint32(buf[4:8], uint32(v))
	return buf
}

// BoolArg encodes a verbose boolean argument.
func BoolArg(v bool, bigEndian bool) []byte {
	bo := order(bigEndian)
	buf := make([]byte, 5)
	bo.PutUint32(buf[0:4], argBool|argLen8)
	if v {
		buf[4] = 1
	}
	return buf
}

// RawArg encodes a verbose raw argument.
func RawArg(data []byte, bigEndian bool) []byte {
	bo := order(bigEndian)
	buf := make([]byte, 6, 6+len(data))
	bo.PutUint32(buf[0:4], argRaw)
	bo.PutUint16(buf[4:6], uint16(len(data)))
	return append(buf, data...)
}

// ExtendedFrame describes a v2 frame. Htyp2 selects the optional blocks; its
// low byte must be 0x4c for the scanner to dispatch it.
type ExtendedFrame struct {
	Htyp2     uint32
	Counter   uint8
	MsgInfo   [2]byte
	Timestamp uint64
	Reserved  byte
	EcuID     string
	AppID     string
	CtxID     string
	SessionID uint32
	Payload   []byte

	// LengthDelta is added to the computed length to build malformed frames.
	LengthDelta int
}

// Bytes serializes the frame starting at the first htyp2 byte.
func (f ExtendedFrame) Bytes() []byte {
	var buf bytes.Buffer
	var htyp [4]byte
	binary.LittleEndian.PutUint32(htyp[:], f.Htyp2)
	buf.Write(htyp[:])
	buf.WriteByte(f.Counter)
	buf.Write([]byte{0, 0})
	cnti := f.Htyp2 & 0x03
	if cnti == 0 || cnti == 2 {
		buf.Write(f.MsgInfo[:])
	}
	if cnti == 0 || cnti == 1 {
		var ts [8]byte
		binary.LittleEndian.PutUint64(ts[:], f.Timestamp)
		buf.Write(ts[:])
		buf.WriteByte(f.Reserved)
	}
	if f.Htyp2&0x04 != 0 {
		buf.WriteByte(byte(len(f.EcuID)))
		buf.WriteString(f.EcuID)
	}
	if f.Htyp2&0x08 != 0 {
		buf.WriteByte(byte(len(f.AppID)))
		buf.WriteString(f.AppID)
		buf.WriteByte(byte(len(f.CtxID)))
		buf.WriteString(f.CtxID)
	}
	if f.Htyp2&0x10 != 0 {
		var sid [4]byte
		binary.BigEndian.PutUint32(sid[:], f.SessionID)
		buf.Write(sid[:])
	}
	buf.Write(f.Payload)
	out := buf.Bytes()
	binary.BigEndian.PutUint16(out[5:7], uint16(len(out)+f.LengthDelta))
	return out
}

// Uint32Ptr is a small helper for optional header fields.
func Uint32Ptr(v uint32) *uint32 {
	return &v
}

// BuildCapture constructs the deterministic sample capture: three frames,
// each behind a storage header.
func BuildCapture() []byte {
	var buf bytes.Buffer
	frames := [][]byte{
		LegacyFrame{
			Counter:     0,
			EcuID:       "ECU1",
			Timestamp:   Uint32Ptr(12_345),
			AppID:       "APP1",
			CtxID:       "CTX1",
			MessageKind: 0,
			MessageInfo: LevelInfo,
			Args:        [][]byte{StringArg("engine start", false), Uint32Arg(3, false)},
		}.Bytes(),
		LegacyFrame{
			Counter:     1,
			EcuID:       "ECU1",
			Timestamp:   Uint32Ptr(12_400),
			AppID:       "DIAG",
			CtxID:       "DTC",
			MessageKind: 0,
			MessageInfo: LevelWarn,
			Args:        [][]byte{StringArg("coolant temp high", false), Int32Arg(-4, false)},
		}.Bytes(),
		ExtendedFrame{
			Htyp2:     ExtendedMarker,
			Counter:   2,
			Timestamp: 1_240_000,
			EcuID:     "ECU1",
			AppID:     "NAV",
			CtxID:     "GPS",
			Payload:   append([]byte{0x00, 0x01}, []byte("fix acquired\x00")...),
		}.Bytes(),
	}
	for i, frame := range frames {
		buf.Write(StorageHeader(CaptureSeconds, CaptureMicroseconds+uint32(i)*1_000, "ECU1"))
		buf.Write(frame)
	}
	return buf.Bytes()
}

// WriteFiles materializes the generated capture under dir.
func WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return writeFileIfChanged(filepath.Join(dir, CaptureFileName), BuildCapture())
}

func writeFileIfChanged(path string, data []byte) error {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return nil
}
