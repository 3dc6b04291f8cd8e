package dlt

import "strings"

const minPrintableRun = 2

func isPrintable(b byte) bool {
	return b >= 32 && b <= 126
}

// Sanitize pulls printable ASCII runs of at least two bytes out of buf and
// joins them with single spaces. Shorter runs are dropped.
func Sanitize(buf []byte) string {
	var out strings.Builder
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= minPrintableRun {
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.Write(buf[start:end])
		}
		start = -1
	}
	for i, b := range buf {
		if isPrintable(b) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(buf))
	return out.String()
}
