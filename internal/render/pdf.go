package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const pdfFont = "Arial"

func renderPDF(table Table, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(table.Title, false)
	pdf.SetCreator("fleet-reports", false)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(pdfFont, "I", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(pdfFont, "B", 16)
	pdf.Cell(0, 10, table.Title)
	pdf.Ln(9)

	pdf.SetFont(pdfFont, "", 10)
	if table.Period != "" {
		pdf.Cell(0, 6, "Period: "+table.Period)
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, "Generated: "+generatedAt.Format(time.RFC3339))
	pdf.Ln(10)

	drawHeader := func() {
		pdf.SetFont(pdfFont, "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, column := range table.Columns {
			pdf.CellFormat(column.Width, 7, column.Header, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont(pdfFont, "", 8)
	}
	drawHeader()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range table.Rows {
		if pdf.GetY()+6 > pageHeight-bottom-15 {
			pdf.AddPage()
			drawHeader()
		}
		for index, column := range table.Columns {
			value := ""
			if index < len(row) {
				value = row[index]
			}
			pdf.CellFormat(column.Width, 6, value, "1", 0, column.Align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(table.Rows) == 0 {
		pdf.SetFont(pdfFont, "I", 9)
		pdf.Cell(0, 8, "No records in this period.")
		pdf.Ln(8)
	}

	if len(table.Summary) > 0 {
		pdf.Ln(6)
		pdf.SetFont(pdfFont, "B", 11)
		pdf.Cell(0, 7, "Summary")
		pdf.Ln(7)
		pdf.SetFont(pdfFont, "", 10)
		for _, line := range table.Summary {
			pdf.Cell(0, 6, line)
			pdf.Ln(5)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}
