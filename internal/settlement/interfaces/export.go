package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	settlement "supplier-core/internal/settlement/domain"
)

const (
	dateLayout   = "2006-01-02"
	detailLayout = "2006-01-02 15:04"
)

// BuildSettlementPDF renders a settlement document with its lines.
func BuildSettlementPDF(s *settlement.Settlement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	title := "Settlement"
	if s.IsCorrection() {
		title = "Settlement correction"
	}
	pdf.Cell(0, 8, fmt.Sprintf("%s %d", title, s.DocumentNumber()))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Metering point: %s", s.MeteringPoint()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", s.PeriodStart().Format(dateLayout), s.PeriodEnd().Format(dateLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Time series: %s (version %d)", s.TimeSeriesID(), s.TimeSeriesVersion()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", s.Status()))
	pdf.Ln(5)
	if s.IsCorrection() {
		pdf.Cell(0, 6, fmt.Sprintf("Corrects: %s (%s)", s.PreviousID(), s.CorrectionMode()))
		pdf.Ln(5)
	}
	if s.InvoiceReference() != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Invoice: %s at %s", s.InvoiceReference(), s.InvoicedAt().Format(time.RFC3339)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", s.CreatedAt().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Description", "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 6, "Quantity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Unit price", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, l := range s.Lines() {
		pdf.CellFormat(70, 6, l.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, l.Quantity.StringFixed(3), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, l.UnitPrice.StringFixed(4), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, l.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 6, s.TotalEnergy().StringFixed(3), "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 6, "", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 6, s.TotalAmount().StringFixed(2)+" DKK", "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSettlementXLSX renders a workbook with a summary, the lines and the
// hourly detail.
func BuildSettlementXLSX(s *settlement.Settlement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	linesSheet := "lines"
	detailSheet := "detail"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(detailSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Document number", s.DocumentNumber()},
		{"Metering point", s.MeteringPoint()},
		{"Supply", s.SupplyID()},
		{"Period start", s.PeriodStart().Format(dateLayout)},
		{"Period end", s.PeriodEnd().Format(dateLayout)},
		{"Time series version", s.TimeSeriesVersion()},
		{"Status", string(s.Status())},
		{"Correction", s.IsCorrection()},
		{"Previous settlement", s.PreviousID()},
		{"Invoice reference", s.InvoiceReference()},
		{"Total energy (kWh)", s.TotalEnergy().InexactFloat64()},
		{"Total amount (DKK)", s.TotalAmount().InexactFloat64()},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Settlement")
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	for col, h := range []string{"Line", "Kind", "Description", "Quantity", "Unit price", "Amount"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(linesSheet, cell, h)
	}
	for col, h := range []string{"Line", "Timestamp", "Quantity", "Rate", "Amount"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(detailSheet, cell, h)
	}
	detailRow := 2
	for i, l := range s.Lines() {
		row := i + 2
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), i+1)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), string(l.Kind))
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), l.Description)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), l.Quantity.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("E%d", row), l.UnitPrice.InexactFloat64())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("F%d", row), l.Amount.InexactFloat64())
		for _, d := range l.Detail {
			ts := ""
			if !d.Timestamp.IsZero() {
				ts = d.Timestamp.Format(detailLayout)
			}
			_ = f.SetCellValue(detailSheet, fmt.Sprintf("A%d", detailRow), i+1)
			_ = f.SetCellValue(detailSheet, fmt.Sprintf("B%d", detailRow), ts)
			_ = f.SetCellValue(detailSheet, fmt.Sprintf("C%d", detailRow), d.Quantity.InexactFloat64())
			_ = f.SetCellValue(detailSheet, fmt.Sprintf("D%d", detailRow), d.Rate.InexactFloat64())
			_ = f.SetCellValue(detailSheet, fmt.Sprintf("E%d", detailRow), d.Amount.InexactFloat64())
			detailRow++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
