package dlt

import "fmt"

const (
	DefaultID    = "----"
	LevelUnknown = "UNKNOWN"
	LevelInfo    = "INFO"
	NoPayload    = "<No Payload>"
)

// Version identifies the header generation of a frame.
type Version uint8

const (
	VersionLegacy   Version = 1
	VersionExtended Version = 2

	legacyMarker   byte = 0x35
	extendedMarker byte = 0x4c
)

func (v Version) String() string {
	switch v {
	case VersionLegacy:
		return "v1"
	case VersionExtended:
		return "v2"
	default:
		return fmt.Sprintf("v%d", uint8(v))
	}
}

// Record is one decoded frame. TimestampUs is the anchored, clamped value
// rendered in the output line; Timestamp keeps what the decoder saw.
type Record struct {
	Offset      int64
	Size        int64
	Version     Version
	Timestamp   Timestamp
	TimestampUs uint64
	AppID       string
	CtxID       string
	Level       string
	Payload     string
}

// String renders the output line without its trailing newline:
// [timestamp][app ctx][level] payload
func (r Record) String() string {
	return fmt.Sprintf("[%s][%s %s][%s] %s", FormatTimestamp(r.TimestampUs), r.AppID, r.CtxID, r.Level, r.Payload)
}
