package report

import (
	"encoding/hex"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultQRSize = 128

// QRContent is the text encoded in a summary's QR code:
// run id, output digest and frame count separated by semicolons.
func QRContent(s Summary) (string, error) {
	digest := strings.ToLower(strings.TrimSpace(s.OutputSHA256))
	if digest == "" {
		return "", fmt.Errorf("summary has no output digest")
	}
	if raw, err := hex.DecodeString(digest); err != nil || len(raw) != 32 {
		return "", fmt.Errorf("output digest %q is not a sha256 hex string", s.OutputSHA256)
	}
	return fmt.Sprintf("dlt2log;%s;%s;%d", s.RunID, digest, s.Frames), nil
}

// SummaryQR renders QRContent as a PNG of size pixels.
func SummaryQR(s Summary, size int) ([]byte, error) {
	content, err := QRContent(s)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = defaultQRSize
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
