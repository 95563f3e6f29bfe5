package export

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"
)

// GridCell is one day square of a printed month.
type GridCell struct {
	Day       int
	Muted     bool
	Highlight bool
	Lines     []string
	More      int
}

// GridSheet describes a printable month: seven weekday headers followed by
// a multiple of seven cells.
type GridSheet struct {
	Title    string
	Weekdays []string
	Cells    []GridCell
	// MoreLabel is formatted with the hidden count, e.g. "+%d más".
	MoreLabel string
}

// PDFExporter renders agenda tables and month grids.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a portrait PDF with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	colWidth := 190.0 / float64(len(data.Headers))
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 236, 245)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, tr(truncate(row[header], 48)), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderGrid draws a landscape month grid.
func (e *PDFExporter) RenderGrid(sheet GridSheet) ([]byte, error) {
	if len(sheet.Weekdays) != 7 || len(sheet.Cells) == 0 || len(sheet.Cells)%7 != 0 {
		return nil, fmt.Errorf("grid requires 7 weekdays and whole weeks, got %d cells", len(sheet.Cells))
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(sheet.Title), "", 1, "C", false, 0, "")

	const width = 277.0 / 7
	pdf.SetFont("Arial", "B", 9)
	for _, name := range sheet.Weekdays {
		pdf.CellFormat(width, 7, tr(name), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	weeks := len(sheet.Cells) / 7
	height := (200.0 - pdf.GetY()) / float64(weeks)
	top := pdf.GetY()
	for i, cell := range sheet.Cells {
		x := 10 + float64(i%7)*width
		y := top + float64(i/7)*height
		if cell.Highlight {
			pdf.SetFillColor(255, 244, 214)
			pdf.Rect(x, y, width, height, "FD")
		} else {
			pdf.Rect(x, y, width, height, "D")
		}

		if cell.Muted {
			pdf.SetTextColor(160, 160, 160)
		} else {
			pdf.SetTextColor(0, 0, 0)
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.SetXY(x+1, y+1)
		pdf.CellFormat(width-2, 4, strconv.Itoa(cell.Day), "", 0, "R", false, 0, "")

		pdf.SetFont("Arial", "", 7)
		lineY := y + 6
		for _, line := range cell.Lines {
			pdf.SetXY(x+1, lineY)
			pdf.CellFormat(width-2, 3.5, tr(truncate(line, 28)), "", 0, "L", false, 0, "")
			lineY += 3.5
		}
		if cell.More > 0 && sheet.MoreLabel != "" {
			pdf.SetXY(x+1, lineY)
			pdf.CellFormat(width-2, 3.5, tr(fmt.Sprintf(sheet.MoreLabel, cell.More)), "", 0, "L", false, 0, "")
		}
	}
	pdf.SetTextColor(0, 0, 0)

	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
