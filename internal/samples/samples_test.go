package samples

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestStorageHeaderLayout(t *testing.T) {
	h := StorageHeader(2, 3, "EC")
	if len(h) != 16 || string(h[:4]) != StorageMagic {
		t.Fatalf("header = % x", h)
	}
	if binary.LittleEndian.Uint32(h[4:8]) != 2 || binary.LittleEndian.Uint32(h[8:12]) != 3 {
		t.Fatalf("time fields = % x", h[4:12])
	}
	if !bytes.Equal(h[12:16], []byte{'E', 'C', 0, 0}) {
		t.Fatalf("ecu = % x", h[12:16])
	}
}

func TestLegacyFrameHeader(t *testing.T) {
	frame := LegacyFrame{EcuID: "ECU1", Timestamp: Uint32Ptr(1), AppID: "A", CtxID: "C"}.Bytes()
	if frame[0] != 0x35 {
		t.Fatalf("htyp = 0x%02x, want 0x35", frame[0])
	}
	if got := binary.BigEndian.Uint16(frame[2:4]); int(got) != len(frame) {
		t.Fatalf("length field %d, frame %d bytes", got, len(frame))
	}
	override := uint16(2)
	short := LegacyFrame{LengthOverride: &override}.Bytes()
	if binary.BigEndian.Uint16(short[2:4]) != 2 {
		t.Fatalf("length override ignored")
	}
}

func TestExtendedFrameLength(t *testing.T) {
	frame := ExtendedFrame{Htyp2: ExtendedMarker, EcuID: "E", AppID: "A", CtxID: "C", Payload: []byte("x")}.Bytes()
	if frame[0] != ExtendedMarker {
		t.Fatalf("marker = 0x%02x", frame[0])
	}
	if got := binary.BigEndian.Uint16(frame[5:7]); int(got) != len(frame) {
		t.Fatalf("length field %d, frame %d bytes", got, len(frame))
	}
	bad := ExtendedFrame{Htyp2: ExtendedMarker, LengthDelta: -1}.Bytes()
	if got := binary.BigEndian.Uint16(bad[5:7]); int(got) != len(bad)-1 {
		t.Fatalf("length delta ignored: %d vs %d", got, len(bad))
	}
}

func TestBuildCaptureDeterministic(t *testing.T) {
	a, b := BuildCapture(), BuildCapture()
	if !bytes.Equal(a, b) {
		t.Fatalf("capture differs between builds")
	}
	if !bytes.HasPrefix(a, []byte(StorageMagic)) {
		t.Fatalf("capture does not start with a storage header")
	}
}
