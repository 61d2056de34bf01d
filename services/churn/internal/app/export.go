package app

import (
	"fmt"
	"io"

	"churnboard/pkg/domain"
	"github.com/xuri/excelize/v2"
)

const (
	// ExportFilename is the attachment name of the consolidated workbook.
	ExportFilename = "consolidated_data.xlsx"
	// ExportContentType is the media type of the workbook.
	ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheet       = "Sheet1"
)

var exportColumns = []string{
	"id", "employee_id", "joining_date", "exit_date", "department",
	"last_performance_rating", "salary", "exit_reason", "churn_flag",
	"source_file", "upload_timestamp", "processing_status",
}

// writeWorkbook renders records as a single-sheet workbook, one row per
// record and one column per stored field.
func writeWorkbook(w io.Writer, records []domain.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return fmt.Errorf("open sheet writer: %w", err)
	}
	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, exportRow(r)); err != nil {
			return fmt.Errorf("write row %d: %w", r.ID, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func exportRow(r domain.Record) []any {
	return []any{
		r.ID,
		r.EmployeeID,
		dateCell(r.JoiningDate),
		dateCell(r.ExitDate),
		stringCell(r.Department),
		floatCell(r.LastPerformanceRating),
		floatCell(r.Salary),
		stringCell(r.ExitReason),
		r.ChurnFlag,
		r.SourceFile,
		r.UploadTimestamp.UTC().Format("2006-01-02 15:04:05"),
		string(r.ProcessingStatus),
	}
}

func dateCell(d *domain.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func stringCell(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func floatCell(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
