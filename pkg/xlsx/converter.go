package xlsx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/sasiom/pkg/dataset"
)

// Layouts accepted for date and datetime cells when reading a workbook.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01-02-06",
	"1/2/06 15:04",
}

// ToXLSX - convert a downloaded table to an XLSX file
//
// Creates an Excel file from a table result with formatted headers and data.
// Headers show column names with inferred types (e.g., "loaded (datetime)").
//
// Example:
//
//	err := xlsx.ToXLSX(result, "output.xlsx", "Orders")
func ToXLSX(result *dataset.TableResult, filePath string, sheetName string) error {
	// Create new Excel file
	f := excelize.NewFile()
	defer f.Close()

	// Set default sheet name
	if sheetName == "" {
		sheetName = "Sheet1"
	}

	// Create/rename sheet
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheetName != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}

	// Create header style
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// Write headers
	for col, meta := range result.Columns {
		cell := columnName(col+1) + "1"
		header := fmt.Sprintf("%s (%s)", meta.Name, meta.Kind)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	// Write data rows. Times are rendered as ISO strings so a workbook
	// survives a round trip regardless of locale display formats.
	for rowIdx, row := range result.Rows {
		for col, value := range row {
			cell := columnName(col+1) + strconv.Itoa(rowIdx+2)
			switch v := value.(type) {
			case nil:
				f.SetCellValue(sheetName, cell, "")
			case time.Time:
				layout := "2006-01-02T15:04:05"
				if result.Columns[col].Kind == dataset.KindDate {
					layout = "2006-01-02"
				}
				f.SetCellValue(sheetName, cell, v.UTC().Format(layout))
			default:
				f.SetCellValue(sheetName, cell, v)
			}
			applyCellFormat(f, sheetName, cell, result.Columns[col].Kind)
		}
	}

	// Auto-fit columns
	for col := range result.Columns {
		colName := columnName(col + 1)
		f.SetColWidth(sheetName, colName, colName, 15)
	}

	// Save file
	return f.SaveAs(filePath)
}

// FromXLSX - convert an XLSX file to an uploadable frame
//
// Reads an Excel file into a frame ready for writing to the engine.
// Expects headers in format "column_name (kind)"; columns without a kind
// annotation default to char.
//
// Example:
//
//	frame, err := xlsx.FromXLSX("input.xlsx", "Orders")
func FromXLSX(filePath string, sheetName string) (*dataset.Frame, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	// Get sheet name
	if sheetName == "" {
		sheetName = f.GetSheetName(0)
	}

	// Read rows
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("file must have header and at least one data row")
	}

	// Parse header to build the frame schema
	headerRow := rows[0]
	columns := make([]dataset.FrameColumn, 0, len(headerRow))
	for _, header := range headerRow {
		name, kind := parseHeader(header)
		columns = append(columns, dataset.FrameColumn{Name: name, Kind: kind})
	}

	frame := &dataset.Frame{Columns: columns}
	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		dataRow := rows[rowIdx]
		values := make([]any, len(columns))

		for col, column := range columns {
			if col >= len(dataRow) {
				values[col] = nil
				continue
			}
			value, err := convertFromExcel(dataRow[col], column.Kind)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", rowIdx, column.Name, err)
			}
			values[col] = value
		}
		frame.Rows = append(frame.Rows, values)
	}

	return frame, nil
}

// parseHeader - parse header string "column_name (kind)"
func parseHeader(header string) (string, dataset.Kind) {
	name := strings.TrimSpace(header)
	kind := dataset.KindChar

	if idx := strings.LastIndex(header, "("); idx > 0 {
		if endIdx := strings.LastIndex(header, ")"); endIdx > idx {
			name = strings.TrimSpace(header[:idx])
			switch strings.ToLower(strings.TrimSpace(header[idx+1 : endIdx])) {
			case "numeric":
				kind = dataset.KindNumeric
			case "date":
				kind = dataset.KindDate
			case "datetime":
				kind = dataset.KindDatetime
			}
		}
	}
	return name, kind
}

// convertFromExcel - convert an Excel cell to a frame value of the given kind
func convertFromExcel(value string, kind dataset.Kind) (any, error) {
	if value == "" {
		if kind == dataset.KindChar {
			return "", nil
		}
		return nil, nil
	}

	switch kind {
	case dataset.KindNumeric:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse number %q: %w", value, err)
		}
		return f, nil
	case dataset.KindDate, dataset.KindDatetime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot parse time %q", value)
	default:
		return value, nil
	}
}

// applyCellFormat - apply Excel format based on the column kind
func applyCellFormat(f *excelize.File, sheet, cell string, kind dataset.Kind) {
	switch kind {
	case dataset.KindNumeric:
		f.SetCellStyle(sheet, cell, cell, 2)
	case dataset.KindDate:
		f.SetCellStyle(sheet, cell, cell, 14)
	case dataset.KindDatetime:
		f.SetCellStyle(sheet, cell, cell, 22)
	default:
		f.SetCellStyle(sheet, cell, cell, 49)
	}
}

// columnName - convert column index to Excel column name (1 → A, 27 → AA)
func columnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}
