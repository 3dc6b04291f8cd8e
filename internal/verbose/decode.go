package verbose

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
)

const (
	standardHeaderSize = 4
	extendedHeaderSize = 10
	supportedVersion   = 1

	htypUEH          = 0x01
	htypMSBF         = 0x02
	htypWEID         = 0x04
	htypWSID         = 0x08
	htypWTMS         = 0x10
	htypVersionMask  = 0xE0
	htypVersionShift = 5

	msinVerbose   = 0x01
	msinTypeMask  = 0x0E
	msinTypeShift = 1
	msinInfoShift = 4

	typeLengthMask = 0x0000000F
	typeBool       = 0x00000010
	typeSigned     = 0x00000020
	typeUnsigned   = 0x00000040
	typeFloat      = 0x00000080
	typeArray      = 0x00000100
	typeString     = 0x00000200
	typeRaw        = 0x00000400
	typeVariable   = 0x00000800
	typeFixedPoint = 0x00001000
	typeTraceInfo  = 0x00002000
	typeStruct     = 0x00004000
)

var (
	ErrShortFrame          = errors.New("frame shorter than standard header")
	ErrLengthMismatch      = errors.New("header length does not match frame size")
	ErrUnsupportedVersion  = errors.New("unsupported legacy header version")
	ErrTruncated           = errors.New("frame truncated")
	ErrUnsupportedArgument = errors.New("unsupported verbose argument type")
)

// Decoder parses complete legacy frames (standard header through payload).
// It keeps no state between calls.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses frame, which must hold exactly one frame starting at the
// header type byte.
func (d *Decoder) Decode(frame []byte) (*Message, error) {
	if len(frame) < standardHeaderSize {
		return nil, ErrShortFrame
	}
	r := &reader{s: kaitai.NewStream(bytes.NewReader(frame)), size: len(frame)}
	msg := &Message{}
	if err := r.standardHeader(&msg.Header); err != nil {
		return nil, err
	}
	if int(msg.Header.Length) != len(frame) {
		return nil, fmt.Errorf("%w: header says %d, have %d", ErrLengthMismatch, msg.Header.Length, len(frame))
	}
	r.bigEndian = msg.Header.BigEndian
	if msg.Header.Type&htypUEH != 0 {
		ext, err := r.extendedHeader()
		if err != nil {
			return nil, err
		}
		msg.Extended = ext
	}
	if msg.Extended != nil && msg.Extended.Verbose {
		args := make([]Argument, 0, msg.Extended.ArgumentCount)
		for i := 0; i < int(msg.Extended.ArgumentCount); i++ {
			arg, err := r.argument()
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args = append(args, arg)
		}
		msg.Payload = Payload{Verbose: true, Arguments: args}
		return msg, nil
	}
	rest, err := r.remaining()
	if err != nil {
		return nil, err
	}
	if len(rest) >= 4 {
		msg.Payload.MessageID = r.order32(rest[:4])
		msg.Payload.Data = rest[4:]
	} else {
		msg.Payload.Data = rest
	}
	return msg, nil
}

type reader struct {
	s         *kaitai.Stream
	size      int
	bigEndian bool
}

func truncated(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

func (r *reader) standardHeader(h *StandardHeader) error {
	htyp, err := r.s.ReadU1()
	if err != nil {
		return truncated(err)
	}
	h.Type = htyp
	h.Version = (htyp & htypVersionMask) >> htypVersionShift
	if h.Version != supportedVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	h.BigEndian = htyp&htypMSBF != 0
	if h.Counter, err = r.s.ReadU1(); err != nil {
		return truncated(err)
	}
	if h.Length, err = r.s.ReadU2be(); err != nil {
		return truncated(err)
	}
	if htyp&htypWEID != 0 {
		raw, err := r.bytes(4)
		if err != nil {
			return err
		}
		h.EcuID = idString(raw)
	}
	if htyp&htypWSID != 0 {
		if err := r.need(4); err != nil {
			return err
		}
		v, err := r.s.ReadU4be()
		if err != nil {
			return truncated(err)
		}
		h.SessionID = &v
	}
	if htyp&htypWTMS != 0 {
		if err := r.need(4); err != nil {
			return err
		}
		v, err := r.s.ReadU4be()
		if err != nil {
			return truncated(err)
		}
		h.Timestamp = &v
	}
	return nil
}

func (r *reader) extendedHeader() (*ExtendedHeader, error) {
	raw, err := r.bytes(extendedHeaderSize)
	if err != nil {
		return nil, err
	}
	msin := raw[0]
	return &ExtendedHeader{
		Verbose:       msin&msinVerbose != 0,
		ArgumentCount: raw[1],
		ApplicationID: idString(raw[2:6]),
		ContextID:     idString(raw[6:10]),
		MessageType: MessageType{
			Kind: MessageKind((msin & msinTypeMask) >> msinTypeShift),
			Info: msin >> msinInfoShift,
		},
	}, nil
}

func (r *reader) argument() (Argument, error) {
	info, err := r.u32()
	if err != nil {
		return Argument{}, err
	}
	named := info&typeVariable != 0
	switch {
	case info&(typeArray|typeStruct) != 0:
		return Argument{}, fmt.Errorf("%w: 0x%08x", ErrUnsupportedArgument, info)
	case info&typeBool != 0:
		arg := Argument{Kind: ArgBool}
		if named {
			if arg.Name, err = r.name(); err != nil {
				return arg, err
			}
		}
		v, err := r.u8()
		if err != nil {
			return arg, err
		}
		arg.Value = v != 0
		return arg, nil
	case info&(typeSigned|typeUnsigned|typeFloat) != 0:
		return r.numeric(info, named)
	case info&(typeString|typeTraceInfo) != 0:
		arg := Argument{Kind: ArgString}
		data, name, err := r.sized(named)
		if err != nil {
			return arg, err
		}
		arg.Name = name
		arg.Value = idString(data)
		return arg, nil
	case info&typeRaw != 0:
		arg := Argument{Kind: ArgRaw}
		data, name, err := r.sized(named)
		if err != nil {
			return arg, err
		}
		arg.Name = name
		arg.Value = data
		return arg, nil
	default:
		return Argument{}, fmt.Errorf("%w: 0x%08x", ErrUnsupportedArgument, info)
	}
}

func (r *reader) numeric(info uint32, named bool) (Argument, error) {
	var arg Argument
	switch {
	case info&typeFloat != 0:
		arg.Kind = ArgFloat
	case info&typeSigned != 0:
		arg.Kind = ArgSigned
	default:
		arg.Kind = ArgUnsigned
	}
	if named {
		nameLen, err := r.u16()
		if err != nil {
			return arg, err
		}
		unitLen, err := r.u16()
		if err != nil {
			return arg, err
		}
		name, err := r.bytes(int(nameLen))
		if err != nil {
			return arg, err
		}
		unit, err := r.bytes(int(unitLen))
		if err != nil {
			return arg, err
		}
		arg.Name = idString(name)
		arg.Unit = idString(unit)
	}
	width := typeLengthBytes(info)
	if width == 0 {
		return arg, fmt.Errorf("%w: length code %d", ErrUnsupportedArgument, info&typeLengthMask)
	}
	if info&typeFixedPoint != 0 {
		// f32 quantization followed by an s32, s64 or s128 offset
		offset := 4
		if width > 4 {
			offset = width
		}
		if _, err := r.bytes(4 + offset); err != nil {
			return arg, err
		}
	}
	raw, err := r.bytes(width)
	if err != nil {
		return arg, err
	}
	if width == 16 {
		arg.Kind = ArgWide
		arg.Value = raw
		return arg, nil
	}
	u := r.orderN(raw)
	switch arg.Kind {
	case ArgFloat:
		switch width {
		case 4:
			arg.Value = float64(math.Float32frombits(uint32(u)))
		case 8:
			arg.Value = math.Float64frombits(u)
		default:
			return arg, fmt.Errorf("%w: %d-byte float", ErrUnsupportedArgument, width)
		}
	case ArgSigned:
		shift := uint(64 - 8*width)
		arg.Value = int64(u<<shift) >> shift
	default:
		arg.Value = u
	}
	return arg, nil
}

// sized reads the u16 length, the optional name and then the data block used
// by string, trace and raw arguments.
func (r *reader) sized(named bool) ([]byte, string, error) {
	n, err := r.u16()
	if err != nil {
		return nil, "", err
	}
	var name string
	if named {
		if name, err = r.name(); err != nil {
			return nil, "", err
		}
	}
	data, err := r.bytes(int(n))
	if err != nil {
		return nil, "", err
	}
	return data, name, nil
}

func (r *reader) name() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	raw, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return idString(raw), nil
}

// need fails with ErrTruncated unless n more bytes remain in the frame.
func (r *reader) need(n int) error {
	pos, err := r.s.Pos()
	if err != nil {
		return err
	}
	if int(pos)+n > r.size {
		return ErrTruncated
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v, err := r.s.ReadU1()
	return v, truncated(err)
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	var v uint16
	var err error
	if r.bigEndian {
		v, err = r.s.ReadU2be()
	} else {
		v, err = r.s.ReadU2le()
	}
	return v, truncated(err)
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	var v uint32
	var err error
	if r.bigEndian {
		v, err = r.s.ReadU4be()
	} else {
		v, err = r.s.ReadU4le()
	}
	return v, truncated(err)
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	b, err := r.s.ReadBytes(n)
	if err != nil {
		return nil, truncated(err)
	}
	return b, nil
}

func (r *reader) remaining() ([]byte, error) {
	pos, err := r.s.Pos()
	if err != nil {
		return nil, err
	}
	return r.bytes(r.size - int(pos))
}

func (r *reader) order32(b []byte) uint32 {
	return uint32(r.orderN(b[:4]))
}

// orderN folds up to 8 bytes into an integer using the frame's byte order.
func (r *reader) orderN(b []byte) uint64 {
	var v uint64
	if r.bigEndian {
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func typeLengthBytes(info uint32) int {
	switch info & typeLengthMask {
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 4
	case 4:
		return 8
	case 5:
		return 16
	default:
		return 0
	}
}

func idString(raw []byte) string {
	return strings.ToValidUTF8(string(bytes.TrimRight(raw, "\x00")), "\uFFFD")
}
