package dlt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/johnny1995johnny1995/dlt2log/internal/samples"
	"github.com/johnny1995johnny1995/dlt2log/internal/verbose"
)

func decodeLegacyFrame(t *testing.T, frame []byte, storageUs uint64, dec LegacyDecoder) (*Record, error) {
	t.Helper()
	if dec == nil {
		dec = verbose.NewDecoder()
	}
	return decodeLegacy(bytes.NewReader(frame[1:]), frame[0], storageUs, dec)
}

func TestLevelName(t *testing.T) {
	tests := []struct {
		mt   verbose.MessageType
		want string
	}{
		{mt: verbose.MessageType{Kind: verbose.KindLog, Info: samples.LevelInfo}, want: "INFO"},
		{mt: verbose.MessageType{Kind: verbose.KindLog, Info: samples.LevelFatal}, want: "FATAL"},
		{mt: verbose.MessageType{Kind: verbose.KindLog, Info: samples.LevelVerbose}, want: "VERBOSE"},
		{mt: verbose.MessageType{Kind: verbose.KindLog, Info: 9}, want: "INVALID9"},
		{mt: verbose.MessageType{Kind: verbose.KindAppTrace, Info: 1}, want: "APPLICATIONTRACE(VARIABLE)"},
		{mt: verbose.MessageType{Kind: verbose.KindControl, Info: 2}, want: "CONTROL(RESPONSE)"},
		{mt: verbose.MessageType{Kind: 5, Info: 1}, want: "UNKNOWN(5,1)"},
	}
	for _, tc := range tests {
		if got := levelName(tc.mt); got != tc.want {
			t.Fatalf("levelName(%v) = %q, want %q", tc.mt, got, tc.want)
		}
	}
}

func TestDecodeLegacy(t *testing.T) {
	tests := []struct {
		name      string
		frame     samples.LegacyFrame
		storageUs uint64
		wantTs    Timestamp
		wantApp   string
		wantCtx   string
		wantLevel string
		wantText  string
	}{
		{
			name: "verbose string",
			frame: samples.LegacyFrame{
				EcuID: "ECU1", Timestamp: samples.Uint32Ptr(0), AppID: "APP1", CtxID: "CTX1",
				MessageInfo: samples.LevelInfo, Args: [][]byte{samples.StringArg("hello", false)},
			},
			storageUs: 1_500_000,
			wantTs:    Timestamp{Source: SourceStorageHeader, Value: 1_500_000},
			wantApp:   "APP1",
			wantCtx:   "CTX1",
			wantLevel: "INFO",
			wantText:  "hello",
		},
		{
			name: "relative timestamp scaled",
			frame: samples.LegacyFrame{
				EcuID: "ECU1", Timestamp: samples.Uint32Ptr(300), AppID: "APP1", CtxID: "CTX1",
				MessageInfo: samples.LevelError, Args: [][]byte{samples.StringArg("x", false)},
			},
			wantTs:    Timestamp{Source: SourceRelative, Value: 30_000},
			wantApp:   "APP1",
			wantCtx:   "CTX1",
			wantLevel: "ERROR",
			wantText:  "x",
		},
		{
			name: "mixed arguments",
			frame: samples.LegacyFrame{
				EcuID: "ECU1", Timestamp: samples.Uint32Ptr(1), AppID: "SPD", CtxID: "VEH",
				MessageInfo: samples.LevelDebug,
				Args: [][]byte{
					samples.StringArg("speed", false),
					samples.Uint32Arg(88, false),
					samples.BoolArg(true, false),
					samples.RawArg([]byte{0x0a, 0x0b}, false),
				},
			},
			wantTs:    Timestamp{Source: SourceRelative, Value: 100},
			wantApp:   "SPD",
			wantCtx:   "VEH",
			wantLevel: "DEBUG",
			wantText:  "speed uint(88) bool(true) raw(0a0b)",
		},
		{
			name: "big endian with session",
			frame: samples.LegacyFrame{
				BigEndian: true, EcuID: "ECU1", SessionID: samples.Uint32Ptr(9), Timestamp: samples.Uint32Ptr(2),
				AppID: "BE", CtxID: "CT", MessageInfo: samples.LevelWarn,
				Args: [][]byte{samples.StringArg("be", true), samples.Int32Arg(-2, true)},
			},
			wantTs:    Timestamp{Source: SourceRelative, Value: 200},
			wantApp:   "BE",
			wantCtx:   "CT",
			wantLevel: "WARN",
			wantText:  "be sint(-2)",
		},
		{
			name: "non verbose",
			frame: samples.LegacyFrame{
				EcuID: "ECU1", Timestamp: samples.Uint32Ptr(0), AppID: "NV", CtxID: "NV",
				MessageInfo: samples.LevelInfo, NonVerbose: true, Payload: []byte{0x01, 0x00, 0x00, 0x00, 0xaa},
			},
			wantTs:    Timestamp{Source: SourceRelative},
			wantApp:   "NV",
			wantCtx:   "NV",
			wantLevel: "INFO",
			wantText:  "NonVerbose(id=1, data=aa)",
		},
		{
			name: "no extended header",
			frame: samples.LegacyFrame{
				EcuID: "ECU1", NoExtended: true, Payload: []byte{0x02, 0x00, 0x00, 0x00},
			},
			wantTs:    Timestamp{Source: SourceRelative},
			wantApp:   DefaultID,
			wantCtx:   DefaultID,
			wantLevel: LevelUnknown,
			wantText:  "NonVerbose(id=2, data=)",
		},
		{
			name: "application trace",
			frame: samples.LegacyFrame{
				EcuID: "ECU1", Timestamp: samples.Uint32Ptr(0), AppID: "TR", CtxID: "FN",
				MessageKind: 1, MessageInfo: 2, Args: [][]byte{samples.StringArg("enter", false)},
			},
			wantTs:    Timestamp{Source: SourceRelative},
			wantApp:   "TR",
			wantCtx:   "FN",
			wantLevel: "APPLICATIONTRACE(FUNCTIONIN)",
			wantText:  "enter",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := decodeLegacyFrame(t, tc.frame.Bytes(), tc.storageUs, nil)
			if err != nil {
				t.Fatalf("decodeLegacy: %v", err)
			}
			if rec == nil {
				t.Fatalf("decodeLegacy returned nil record")
			}
			if rec.Version != VersionLegacy {
				t.Fatalf("Version = %v", rec.Version)
			}
			if rec.Timestamp != tc.wantTs {
				t.Fatalf("Timestamp = %+v, want %+v", rec.Timestamp, tc.wantTs)
			}
			if rec.AppID != tc.wantApp || rec.CtxID != tc.wantCtx {
				t.Fatalf("ids = %q %q, want %q %q", rec.AppID, rec.CtxID, tc.wantApp, tc.wantCtx)
			}
			if rec.Level != tc.wantLevel {
				t.Fatalf("Level = %q, want %q", rec.Level, tc.wantLevel)
			}
			if rec.Payload != tc.wantText {
				t.Fatalf("Payload = %q, want %q", rec.Payload, tc.wantText)
			}
		})
	}
}

func TestDecodeLegacyShortLengthEndsScan(t *testing.T) {
	rec, err := decodeLegacyFrame(t, []byte{0x35, 0x00, 0x00, 0x03}, 0, nil)
	if err != nil {
		t.Fatalf("decodeLegacy: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestDecodeLegacyErrors(t *testing.T) {
	unsupported := binary.LittleEndian.AppendUint32(nil, 0x100)
	tests := []struct {
		name  string
		frame []byte
		want  []error
	}{
		{
			name: "unsupported argument",
			frame: samples.LegacyFrame{
				EcuID: "ECU1", Timestamp: samples.Uint32Ptr(0), AppID: "A", CtxID: "C",
				MessageInfo: samples.LevelInfo, Args: [][]byte{unsupported},
			}.Bytes(),
			want: []error{ErrLegacyDecode, verbose.ErrUnsupportedArgument},
		},
		{
			name: "argument count exceeds body",
			frame: func() []byte {
				b := samples.LegacyFrame{
					EcuID: "ECU1", Timestamp: samples.Uint32Ptr(0), AppID: "A", CtxID: "C",
					MessageInfo: samples.LevelInfo, Args: [][]byte{samples.StringArg("a", false)},
				}.Bytes()
				b[4+4+4+1] = 2
				return b
			}(),
			want: []error{ErrLegacyDecode, verbose.ErrTruncated},
		},
		{
			name:  "body cut short",
			frame: samples.LegacyFrame{EcuID: "ECU1", Timestamp: samples.Uint32Ptr(0), AppID: "A", CtxID: "C"}.Bytes()[:10],
			want:  []error{ErrTruncated},
		},
		{
			name:  "header cut short",
			frame: []byte{0x35, 0x00},
			want:  []error{ErrTruncated},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeLegacyFrame(t, tc.frame, 0, nil)
			for _, want := range tc.want {
				if !errors.Is(err, want) {
					t.Fatalf("err = %v, want %v", err, want)
				}
			}
		})
	}
}

type stubDecoder struct {
	frames [][]byte
	msg    *verbose.Message
	err    error
}

func (s *stubDecoder) Decode(frame []byte) (*verbose.Message, error) {
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return s.msg, s.err
}

func TestDecodeLegacyUsesInjectedDecoder(t *testing.T) {
	frame := samples.LegacyFrame{EcuID: "ECU1", Timestamp: samples.Uint32Ptr(5), AppID: "A", CtxID: "C"}.Bytes()
	stub := &stubDecoder{msg: &verbose.Message{
		Extended: &verbose.ExtendedHeader{
			ApplicationID: "STUB",
			ContextID:     "CTX",
			MessageType:   verbose.MessageType{Kind: verbose.KindLog, Info: samples.LevelWarn},
		},
		Payload: verbose.Payload{Verbose: true, Arguments: []verbose.Argument{{Kind: verbose.ArgString, Value: "from stub"}}},
	}}
	rec, err := decodeLegacyFrame(t, frame, 0, stub)
	if err != nil {
		t.Fatalf("decodeLegacy: %v", err)
	}
	if len(stub.frames) != 1 || !bytes.Equal(stub.frames[0], frame) {
		t.Fatalf("decoder saw %x, want %x", stub.frames, frame)
	}
	if rec.AppID != "STUB" || rec.Level != "WARN" || rec.Payload != "from stub" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Timestamp.Value != 0 {
		t.Fatalf("header timestamp comes from the decoded message, got %d", rec.Timestamp.Value)
	}

	stub = &stubDecoder{err: errors.New("boom")}
	if _, err := decodeLegacyFrame(t, frame, 0, stub); !errors.Is(err, ErrLegacyDecode) {
		t.Fatalf("err = %v, want ErrLegacyDecode", err)
	}
}
