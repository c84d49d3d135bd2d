package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ruslano69/sasiom/pkg/session"
)

// Имя временного CSV-файла выгрузки в рабочем каталоге движка.
const tmpCSVFile = "_sasiom_export.csv"

// ExportCSVCode возвращает программу выгрузки таблицы в CSV-файл на
// стороне движка, не отправляя её.
func ExportCSVCode(tablePath, remotePath string, opts *Options) string {
	return fmt.Sprintf(
		"proc export data=%s%s outfile=\"%s\" dbms=csv replace;\nrun;",
		tablePath, opts.Render(), remotePath)
}

// ExportCSV выгружает таблицу в CSV-файл на стороне движка.
func ExportCSV(s *session.Session, tablePath, remotePath string, opts *Options) (*session.Result, error) {
	result, err := s.Submit(ExportCSVCode(tablePath, remotePath, opts), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", tablePath, err)
	}
	if line, found := firstErrorLine(result.Log); found {
		return result, fmt.Errorf("failed to export %s: %s", tablePath, line)
	}
	return result, nil
}

// ImportCSVCode возвращает программу загрузки CSV-файла движка в таблицу,
// не отправляя её.
func ImportCSVCode(remotePath, tablePath string) string {
	return fmt.Sprintf(
		"filename csv_file \"%s\";\nproc import datafile=csv_file out=%s dbms=csv replace;\ngetnames=yes;\nrun;",
		remotePath, tablePath)
}

// ImportCSV загружает CSV-файл движка в таблицу.
func ImportCSV(s *session.Session, remotePath, tablePath string) (*session.Result, error) {
	result, err := s.Submit(ImportCSVCode(remotePath, tablePath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", remotePath, err)
	}
	if line, found := firstErrorLine(result.Log); found {
		return result, fmt.Errorf("failed to import %s: %s", remotePath, line)
	}
	return result, nil
}

// ReadCSV выгружает таблицу через CSV-путь: движок выгружает таблицу
// proc export-ом во временный файл рабочего каталога, клиент скачивает
// его потоком и разбирает согласно схеме таблицы. Для широких таблиц
// этот путь быстрее построчного курсора.
func ReadCSV(s *session.Session, tablePath string, opts *Options) (*TableResult, error) {
	return readCSV(s, tablePath, "", opts)
}

// ReadCSVFile делает то же, что ReadCSV, и дополнительно сохраняет
// скачанный CSV в локальный файл. Файл и результат разбора гарантированно
// из одной и той же выгрузки.
func ReadCSVFile(s *session.Session, tablePath, localPath string, opts *Options) (*TableResult, error) {
	return readCSV(s, tablePath, localPath, opts)
}

func readCSV(s *session.Session, tablePath, localPath string, opts *Options) (*TableResult, error) {
	conn, err := s.Connection()
	if err != nil {
		return nil, err
	}

	meta, err := ResolveSchema(conn, tablePath)
	if err != nil {
		return nil, err
	}

	path := tablePath
	if staged := csvStageOptions(meta, opts); staged != nil {
		if err := materialize(s, tablePath, staged); err != nil {
			return nil, err
		}
		path = tmpReadTable
		if meta, err = ResolveSchema(conn, path); err != nil {
			return nil, err
		}
	}

	remotePath := s.Config().WorkPath + tmpCSVFile
	if _, err := ExportCSV(s, path, remotePath, nil); err != nil {
		return nil, err
	}

	text, err := s.ReadFileText(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to download csv for %s: %w", path, err)
	}
	if localPath != "" {
		if err := os.WriteFile(localPath, []byte(text), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", localPath, err)
		}
	}
	return parseCSV(text, meta)
}

// csvStageOptions объединяет опции чтения с закреплением ISO-форматов
// датных и датавременных колонок: разбор CSV рассчитан на ISO 8601,
// а таблица могла быть создана с любым форматом семейства. Возвращает
// nil, когда подготовительный data-шаг не нужен.
func csvStageOptions(meta []ColumnMeta, opts *Options) *Options {
	pins := map[string]string{}
	for _, col := range meta {
		switch col.Kind {
		case KindDate:
			if baseFormat(col.FormatName) != "E8601DA" {
				pins[col.Name] = "E8601DA10."
			}
		case KindDatetime:
			if baseFormat(col.FormatName) != "E8601DT" {
				pins[col.Name] = DatetimeFormat
			}
		}
	}
	if opts.IsZero() && len(pins) == 0 {
		return nil
	}

	merged := Options{}
	if !opts.IsZero() {
		merged = *opts
	}
	if len(pins) > 0 {
		format := make(map[string]string, len(pins)+len(merged.Format))
		for name, f := range pins {
			format[name] = f
		}
		for name, f := range merged.Format {
			format[name] = f
		}
		merged.Format = format
	}
	return &merged
}

// parseCSV разбирает CSV-выгрузку согласно метаданным колонок: заголовок
// сопоставляется со схемой по именам, значения конвертируются по типу.
func parseCSV(text string, meta []ColumnMeta) (*TableResult, error) {
	records, err := csv.NewReader(strings.NewReader(text)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv payload has no header")
	}

	byName := make(map[string]ColumnMeta, len(meta))
	for _, col := range meta {
		byName[strings.ToUpper(col.Name)] = col
	}

	columns := make([]ColumnMeta, 0, len(records[0]))
	for _, name := range records[0] {
		col, ok := byName[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("csv column %s is missing from the table schema", name)
		}
		columns = append(columns, col)
	}

	result := &TableResult{Columns: columns}
	for i, record := range records[1:] {
		if len(record) != len(columns) {
			return nil, fmt.Errorf("csv row %d has %d fields, want %d", i+1, len(record), len(columns))
		}
		row := make([]any, len(record))
		for j, cell := range record {
			value, err := parseCSVCell(cell, columns[j])
			if err != nil {
				return nil, fmt.Errorf("csv row %d, column %s: %w", i+1, columns[j].Name, err)
			}
			row[j] = value
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

// parseCSVCell конвертирует одно CSV-значение согласно типу колонки.
// Пустая ячейка - пропущенное значение для всех типов, кроме строкового.
func parseCSVCell(cell string, col ColumnMeta) (any, error) {
	if col.Kind == KindChar {
		return cell, nil
	}
	if cell == "" {
		return nil, nil
	}

	switch col.Kind {
	case KindDate:
		t, err := parseTimeCell(cell, dateCSVLayout)
		if err != nil {
			return nil, fmt.Errorf("cannot parse date %q: %w", cell, err)
		}
		return t, nil
	case KindDatetime:
		t, err := parseTimeCell(cell, datetimeCSVLayout)
		if err != nil {
			return nil, fmt.Errorf("cannot parse datetime %q: %w", cell, err)
		}
		return t, nil
	default:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			// Колонка без формата могла оказаться строковой
			return cell, nil
		}
		return f, nil
	}
}

// parseTimeCell разбирает значение даты или датавремени, допуская
// усеченную дробную часть секунд.
func parseTimeCell(cell, layout string) (time.Time, error) {
	if t, err := time.Parse(layout, cell); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", cell)
}
