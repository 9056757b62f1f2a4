// Package export renders event lists as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

const (
	eventsSheet  = "Events"
	summarySheet = "Summary"
)

// ContentType is the MIME type of the workbook written by WriteXLSX.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var eventHeaders = []string{
	"ID", "Date", "Time", "Latitude", "Longitude", "Magnitude", "Depth (km)",
	"Location", "Province", "District", "Source", "Anomaly", "Anomaly Score",
}

var columnWidths = []float64{24, 12, 10, 11, 11, 11, 11, 36, 16, 16, 10, 9, 14}

// WriteXLSX writes a workbook with one row per event and a summary sheet
// built from stats.
func WriteXLSX(w io.Writer, events []domain.Event, stats domain.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", eventsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeEvents(f, events); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	if err := writeSummary(f, stats); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeEvents(f *excelize.File, events []domain.Event) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetRow(eventsSheet, "A1", &eventHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(eventHeaders), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(eventsSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("set header style: %w", err)
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(eventsSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, e := range events {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			e.ID, e.Date, e.Time, e.Latitude, e.Longitude, e.Magnitude, e.Depth,
			e.Location, deref(e.Province), deref(e.District), string(e.Source),
			yesNo(e.IsAnomaly), e.AnomalyScore,
		}
		if err := f.SetSheetRow(eventsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	return f.SetPanes(eventsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, stats domain.Stats) error {
	rows := [][]any{
		{"Total", stats.Total},
		{"Anomalies", stats.AnomalyCount},
		{"Average magnitude", stats.AverageMagnitude},
		{"Min magnitude", stats.MinMagnitude},
		{"Max magnitude", stats.MaxMagnitude},
		{"Average depth (km)", stats.AverageDepth},
		{},
		{"Source", "Count"},
	}
	for _, s := range domain.AllSources() {
		rows = append(rows, []any{string(s), stats.BySource[s]})
	}
	rows = append(rows, []any{}, []any{"Magnitude", "Count"})
	for _, b := range domain.MagnitudeBuckets() {
		rows = append(rows, []any{b, stats.ByMagnitude[b]})
	}

	for i := range rows {
		if len(rows[i]) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 22)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
