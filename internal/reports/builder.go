package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// BuildDailyPDF renders a daily usage report as PDF.
func BuildDailyPDF(report *DailyReport) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("reports: nil report")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Water Usage Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s", report.Date.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if report.MappingVersion != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Tag mapping: %s", report.MappingVersion))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Tag", "1", 0, "L", false, 0, "")
	pdf.CellFormat(60, 6, "Description", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, "Line", "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 6, "07:00-15:00", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "15:00-23:00", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "23:00-07:00", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Day total", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range report.Rows {
		pdf.CellFormat(45, 6, row.TagID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, row.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, row.Line, "1", 0, "L", false, 0, "")
		for i := 0; i < 3; i++ {
			value := ""
			if i < len(row.Shifts) {
				value = fmt.Sprintf("%.1f %s", row.Shifts[i].Value, row.Unit)
			}
			pdf.CellFormat(35, 6, value, "1", 0, "R", false, 0, "")
		}
		pdf.CellFormat(35, 6, fmt.Sprintf("%.1f %s", row.DayTotal, row.Unit), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Alarms (%d)", len(report.Alarms)))
	pdf.Ln(7)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Threshold", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Observed", "1", 0, "R", false, 0, "")
	pdf.CellFormat(45, 6, "Opened", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Closed", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, event := range report.Alarms {
		closed := "open"
		if !event.ClosedAt.IsZero() {
			closed = event.ClosedAt.Format("15:04:05")
		}
		pdf.CellFormat(45, 6, event.ThresholdRef, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, string(event.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.1f", event.ObservedValue), "1", 0, "R", false, 0, "")
		pdf.CellFormat(45, 6, event.OpenedAt.Format("15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, closed, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDailyXLSX renders a daily usage report as XLSX.
func BuildDailyXLSX(report *DailyReport) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("reports: nil report")
	}
	f := excelize.NewFile()
	usageSheet := "usage"
	alarmSheet := "alarms"
	f.SetSheetName("Sheet1", usageSheet)
	f.NewSheet(alarmSheet)

	_ = f.SetCellValue(usageSheet, "A1", "Daily Water Usage Report")
	_ = f.SetCellValue(usageSheet, "A2", "Date")
	_ = f.SetCellValue(usageSheet, "B2", report.Date.Format("2006-01-02"))
	_ = f.SetCellValue(usageSheet, "A3", "Generated")
	_ = f.SetCellValue(usageSheet, "B3", report.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(usageSheet, "A4", "Tag mapping")
	_ = f.SetCellValue(usageSheet, "B4", report.MappingVersion)

	headers := []string{"Tag", "Description", "Line", "Unit", "07:00-15:00", "15:00-23:00", "23:00-07:00", "Day total", "Confidence"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 6)
		_ = f.SetCellValue(usageSheet, cell, header)
	}
	for i, row := range report.Rows {
		r := i + 7
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("A%d", r), row.TagID)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("B%d", r), row.Description)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("C%d", r), row.Line)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("D%d", r), row.Unit)
		for j := 0; j < 3 && j < len(row.Shifts); j++ {
			cell, _ := excelize.CoordinatesToCellName(5+j, r)
			_ = f.SetCellValue(usageSheet, cell, row.Shifts[j].Value)
		}
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("H%d", r), row.DayTotal)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("I%d", r), string(row.Confidence))
	}

	_ = f.SetCellValue(alarmSheet, "A1", "Threshold")
	_ = f.SetCellValue(alarmSheet, "B1", "Tag")
	_ = f.SetCellValue(alarmSheet, "C1", "Severity")
	_ = f.SetCellValue(alarmSheet, "D1", "Observed")
	_ = f.SetCellValue(alarmSheet, "E1", "Opened")
	_ = f.SetCellValue(alarmSheet, "F1", "Closed")
	_ = f.SetCellValue(alarmSheet, "G1", "Message")
	for i, event := range report.Alarms {
		r := i + 2
		closed := ""
		if !event.ClosedAt.IsZero() {
			closed = event.ClosedAt.Format(time.RFC3339)
		}
		_ = f.SetCellValue(alarmSheet, fmt.Sprintf("A%d", r), event.ThresholdRef)
		_ = f.SetCellValue(alarmSheet, fmt.Sprintf("B%d", r), event.TagID)
		_ = f.SetCellValue(alarmSheet, fmt.Sprintf("C%d", r), string(event.Severity))
		_ = f.SetCellValue(alarmSheet, fmt.Sprintf("D%d", r), event.ObservedValue)
		_ = f.SetCellValue(alarmSheet, fmt.Sprintf("E%d", r), event.OpenedAt.Format(time.RFC3339))
		_ = f.SetCellValue(alarmSheet, fmt.Sprintf("F%d", r), closed)
		_ = f.SetCellValue(alarmSheet, fmt.Sprintf("G%d", r), event.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
