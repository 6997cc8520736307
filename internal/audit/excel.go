package audit

import (
	"fmt"
	"io"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "audit"

var exportColumns = []string{
	"timestamp", "importance", "action", "user_id", "user_name",
	"date", "time", "service", "detail", "id",
}

var exportWidths = []float64{20, 11, 22, 16, 20, 12, 7, 12, 60, 38}

// entrySheet receives audit entries in export order.
type entrySheet interface {
	Begin(columns []string) error
	Append(e model.AuditLogEntry) error
	Flush(w io.Writer) error
	Close() error
}

// rowStyle pairs the style of plain cells with the style of the
// timestamp cell for one importance level.
type rowStyle struct {
	text  int
	stamp int
}

// xlsxSheet streams entries into a single worksheet. Rows go straight to
// the stream writer so memory does not grow with the export size.
type xlsxSheet struct {
	file   *excelize.File
	stream *excelize.StreamWriter
	styles map[model.Importance]rowStyle
	header int
	row    int
}

func newXLSXSheet() *xlsxSheet {
	return &xlsxSheet{file: excelize.NewFile()}
}

func (s *xlsxSheet) Begin(columns []string) error {
	if err := s.file.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	stream, err := s.file.NewStreamWriter(exportSheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}
	s.stream = stream

	if err := s.buildStyles(); err != nil {
		return err
	}
	// Widths must be set before the first row is streamed.
	for i, width := range exportWidths {
		if err := stream.SetColWidth(i+1, i+1, width); err != nil {
			return fmt.Errorf("column width: %w", err)
		}
	}

	cells := make([]interface{}, len(columns))
	for i, col := range columns {
		cells[i] = excelize.Cell{StyleID: s.header, Value: col}
	}
	s.row = 1
	return s.writeRow(cells)
}

func (s *xlsxSheet) buildStyles() error {
	stampFormat := "yyyy-mm-dd hh:mm:ss"

	header, err := s.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"404040"}},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	s.header = header

	levels := []struct {
		importance model.Importance
		fill       string
		bold       bool
	}{
		{model.ImportanceNormal, "", false},
		{model.ImportanceImportant, "FFF2CC", false},
		{model.ImportanceCritical, "F8CBAD", true},
	}
	s.styles = make(map[model.Importance]rowStyle, len(levels))
	for _, lv := range levels {
		base := excelize.Style{Font: &excelize.Font{Bold: lv.bold}}
		if lv.fill != "" {
			base.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{lv.fill}}
		}
		text, err := s.file.NewStyle(&base)
		if err != nil {
			return fmt.Errorf("%s style: %w", lv.importance, err)
		}
		stamp := base
		stamp.CustomNumFmt = &stampFormat
		stampID, err := s.file.NewStyle(&stamp)
		if err != nil {
			return fmt.Errorf("%s timestamp style: %w", lv.importance, err)
		}
		s.styles[lv.importance] = rowStyle{text: text, stamp: stampID}
	}
	return nil
}

func (s *xlsxSheet) Append(e model.AuditLogEntry) error {
	st, ok := s.styles[e.Importance]
	if !ok {
		st = s.styles[model.ImportanceNormal]
	}
	values := []interface{}{
		string(e.Importance), string(e.Action), e.UserID, e.UserName,
		e.Date, e.Time, e.Service, e.Detail, e.ID,
	}
	cells := make([]interface{}, 0, len(values)+1)
	cells = append(cells, excelize.Cell{StyleID: st.stamp, Value: wallClock(e.Timestamp)})
	for _, v := range values {
		cells = append(cells, excelize.Cell{StyleID: st.text, Value: v})
	}
	return s.writeRow(cells)
}

func (s *xlsxSheet) writeRow(cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	if err := s.stream.SetRow(cell, cells); err != nil {
		return fmt.Errorf("row %d: %w", s.row, err)
	}
	s.row++
	return nil
}

func (s *xlsxSheet) Flush(w io.Writer) error {
	if err := s.stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return s.file.Write(w)
}

func (s *xlsxSheet) Close() error {
	return s.file.Close()
}

// wallClock keeps the entry's local reading. Spreadsheet dates carry no
// zone, so the shop time is written as-is.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
