package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/johnny1995johnny1995/dlt2log/internal/dlt"
)

const qrImageName = "summary-qr"

// SavePDF renders s into a one-page PDF. The QR code is included when the
// summary carries an output digest.
func SavePDF(s Summary, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("DLT Conversion Summary", false)
	pdf.SetAuthor("dlt2log", false)
	pdf.SetCreator("dlt2log", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "DLT Conversion Summary")
	addRunSection(pdf, s)
	addCountsSection(pdf, "Levels", Sorted(s.Levels))
	addCountsSection(pdf, "Applications", Sorted(s.Apps))
	if err := addQRSection(pdf, s); err != nil {
		return err
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addRunSection(pdf *gofpdf.Fpdf, s Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Run")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	items := []struct {
		label string
		value string
	}{
		{label: "Run ID", value: emptyFallback(s.RunID, "-")},
		{label: "Input", value: emptyFallback(s.Input, "-")},
		{label: "Output", value: emptyFallback(s.Output, "-")},
		{label: "Started", value: startedLabel(s.StartedAt)},
		{label: "Duration", value: s.Duration.Round(time.Millisecond).String()},
		{label: "Frames", value: fmt.Sprintf("%d (v1 %d, v2 %d)", s.Frames, s.Legacy, s.Extended)},
		{label: "First timestamp", value: dlt.FormatTimestamp(s.FirstTimestampUs)},
		{label: "Last timestamp", value: dlt.FormatTimestamp(s.LastTimestampUs)},
		{label: "Output SHA-256", value: emptyFallback(s.OutputSHA256, "-")},
		{label: "Result", value: resultLabel(s)},
	}
	for _, item := range items {
		pdf.CellFormat(40, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, item.value, "", "L", false)
	}
	pdf.Ln(4)
}

func addCountsSection(pdf *gofpdf.Fpdf, title string, rows []Counted) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, title)
	pdf.Ln(9)

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, "No frames recorded.", "", "L", false)
		pdf.Ln(2)
		return
	}

	widths := []float64{90, 30}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range []string{"Name", "Frames"} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		renderTableRow(pdf, widths, []string{row.Name, strconv.Itoa(row.Count)}, 5)
	}
	pdf.Ln(4)
}

func addQRSection(pdf *gofpdf.Fpdf, s Summary) error {
	if strings.TrimSpace(s.OutputSHA256) == "" {
		return nil
	}
	png, err := SummaryQR(s, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Verification")
	pdf.Ln(9)
	pdf.ImageOptions(qrImageName, pdf.GetX(), pdf.GetY(), 40, 40, true, opts, 0, "")
	return nil
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func resultLabel(s Summary) string {
	if s.OK() {
		return "OK"
	}
	if s.ErrorOffset != nil {
		return fmt.Sprintf("FAILED at offset %d: %s", *s.ErrorOffset, s.Error)
	}
	return "FAILED: " + s.Error
}

func startedLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
