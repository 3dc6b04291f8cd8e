package dlt

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/johnny1995johnny1995/dlt2log/internal/samples"
)

func TestDetectStorageHeader(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  bool
	}{
		{name: "magic", input: samples.StorageHeader(1, 2, "ECU1"), want: true},
		{name: "legacy frame", input: helloFrame(0), want: false},
		{name: "too short", input: []byte("DLT"), want: false},
		{name: "empty", input: nil, want: false},
		{name: "wrong version", input: []byte("DLT\x02rest"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := bytes.NewReader(tc.input)
			src.Seek(int64(len(tc.input)), io.SeekStart)
			got, err := detectStorageHeader(src)
			if err != nil {
				t.Fatalf("detectStorageHeader: %v", err)
			}
			if got != tc.want {
				t.Fatalf("present = %v, want %v", got, tc.want)
			}
			if pos, _ := src.Seek(0, io.SeekCurrent); pos != 0 {
				t.Fatalf("stream left at %d, want 0", pos)
			}
		})
	}
}

func TestReadStorageHeader(t *testing.T) {
	header := samples.StorageHeader(1_700_000_000, 250_000, "ECU1")
	tests := []struct {
		name    string
		input   []byte
		present bool
		rewind  bool
		wantUs  uint64
		wantOff int64
		wantErr error
	}{
		{name: "absent", input: header, present: false, wantUs: 0, wantOff: 0},
		{name: "present", input: header, present: true, wantUs: 1_700_000_000_250_000, wantOff: 16},
		{name: "mismatch consumes magic", input: []byte("XXXXrest"), present: true, wantOff: 4},
		{name: "mismatch with rewind", input: []byte("XXXXrest"), present: true, rewind: true, wantOff: 0},
		{name: "partial magic", input: []byte("DL"), present: true, wantOff: 2},
		{name: "cut after magic", input: header[:10], present: true, wantErr: ErrTruncated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fr := newFrameReader(bytes.NewReader(tc.input), 0)
			us, err := readStorageHeader(fr, tc.present, tc.rewind)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readStorageHeader: %v", err)
			}
			if us != tc.wantUs {
				t.Fatalf("timestamp = %d, want %d", us, tc.wantUs)
			}
			if fr.off != tc.wantOff {
				t.Fatalf("offset = %d, want %d", fr.off, tc.wantOff)
			}
		})
	}
}
