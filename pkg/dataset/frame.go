package dataset

import (
	"fmt"
	"time"
)

// FrameColumn описывает колонку загружаемого кадра.
type FrameColumn struct {
	Name   string
	Kind   Kind
	Length int // длина char-колонки; 0 = вывести из данных
}

// Frame - табличные данные на стороне клиента, подготовленные к записи
// на движок. Значения: float64/int/int64 для числовых колонок, string
// для строковых, time.Time для дат и датавремени, nil для пропущенных.
type Frame struct {
	Columns []FrameColumn
	Rows    [][]any
}

// Validate проверяет согласованность кадра: ширину строк и соответствие
// значений типам колонок.
func (f *Frame) Validate() error {
	if len(f.Columns) == 0 {
		return fmt.Errorf("frame has no columns")
	}
	seen := make(map[string]bool, len(f.Columns))
	for _, col := range f.Columns {
		if col.Name == "" {
			return fmt.Errorf("frame column has an empty name")
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate frame column: %s", col.Name)
		}
		seen[col.Name] = true
	}

	for i, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return fmt.Errorf("row %d has %d values, frame has %d columns", i, len(row), len(f.Columns))
		}
		for j, v := range row {
			if v == nil {
				continue
			}
			if err := checkValue(v, f.Columns[j].Kind); err != nil {
				return fmt.Errorf("row %d, column %s: %w", i, f.Columns[j].Name, err)
			}
		}
	}
	return nil
}

func checkValue(v any, kind Kind) error {
	switch kind {
	case KindChar:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("char column expects a string, got %T", v)
		}
	case KindDate, KindDatetime:
		if _, ok := v.(time.Time); !ok {
			return fmt.Errorf("%s column expects a time.Time, got %T", kind, v)
		}
	default:
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("numeric column expects a number, got %T", v)
		}
	}
	return nil
}

// charLength возвращает объявляемую длину строковой колонки: явную
// либо выведенную из данных, но не меньше 8.
func (f *Frame) charLength(idx int) int {
	if f.Columns[idx].Length > 0 {
		return f.Columns[idx].Length
	}
	length := 8
	for _, row := range f.Rows {
		if s, ok := row[idx].(string); ok && len(s) > length {
			length = len(s)
		}
	}
	return length
}
