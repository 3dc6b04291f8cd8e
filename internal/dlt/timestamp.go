package dlt

import (
	"fmt"
	"math/bits"
)

const (
	// MaxTimestampUs is the largest value that renders in 16 digits.
	MaxTimestampUs uint64 = 9_999_999_999_999_999
	// RelativeThresholdUs separates boot-relative values (about 11 days of
	// microseconds) from absolute calendar time.
	RelativeThresholdUs uint64 = 1_000_000_000_000

	timestampDigits = 16
)

// TimestampSource records where a frame's timestamp came from.
type TimestampSource uint8

const (
	SourceRelative TimestampSource = iota
	SourceStorageHeader
)

func (s TimestampSource) String() string {
	switch s {
	case SourceStorageHeader:
		return "storage-header"
	case SourceRelative:
		return "relative"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// Timestamp is the provisional microsecond value a decoder produced, tagged
// with its origin. It is anchored and clamped exactly once by the scanner.
type Timestamp struct {
	Source TimestampSource
	Value  uint64
}

func FromStorageHeader(abs uint64) Timestamp {
	return Timestamp{Source: SourceStorageHeader, Value: Clamp(abs)}
}

func RelativeCandidate(rel uint64) Timestamp {
	return Timestamp{Source: SourceRelative, Value: Clamp(rel)}
}

// Clamp drops trailing digits until us fits in 16 decimal digits. It truncates,
// it does not round.
func Clamp(us uint64) uint64 {
	for us > MaxTimestampUs {
		us /= 10
	}
	return us
}

// FormatTimestamp renders us as exactly 16 zero-padded digits.
func FormatTimestamp(us uint64) string {
	return fmt.Sprintf("%0*d", timestampDigits, Clamp(us))
}

// Anchor converts ts to its final microsecond value. Values below
// RelativeThresholdUs are shifted by baseUs when a base is known; everything
// else is only clamped. A sum past the uint64 range is clamped exactly.
func Anchor(ts Timestamp, baseUs uint64) uint64 {
	if ts.Value < RelativeThresholdUs && baseUs > 0 {
		sum, carry := bits.Add64(baseUs, ts.Value, 0)
		if carry != 0 {
			sum, _ = bits.Div64(carry, sum, 10)
		}
		return Clamp(sum)
	}
	return Clamp(ts.Value)
}
