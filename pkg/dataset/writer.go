package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ruslano69/sasiom/pkg/session"
)

// insertBatchRows - число строк в одном insert-операторе. Пакетирование
// сокращает количество обходов канала на порядки при больших кадрах.
const insertBatchRows = 32

// WriteFrame создает таблицу по схеме кадра и загружает его строки
// пакетированными insert-операторами через соединение поставщика.
// Существующая таблица - ошибка: перезапись должна быть явной.
func WriteFrame(s *session.Session, frame *Frame, tablePath string) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("invalid frame for %s: %w", tablePath, err)
	}
	conn, err := s.Connection()
	if err != nil {
		return err
	}

	if err := conn.Execute(createStatement(frame, tablePath)); err != nil {
		return fmt.Errorf("failed to create %s: %w", tablePath, err)
	}

	for start := 0; start < len(frame.Rows); start += insertBatchRows {
		end := start + insertBatchRows
		if end > len(frame.Rows) {
			end = len(frame.Rows)
		}
		statement, err := insertStatement(frame, tablePath, start, end)
		if err != nil {
			return err
		}
		if err := conn.Execute(statement); err != nil {
			return fmt.Errorf("failed to insert rows %d..%d into %s: %w", start, end-1, tablePath, err)
		}
	}
	return nil
}

// createStatement строит create table по схеме кадра. Имена колонок
// экранируются литералами имен, даты и датавремя объявляются числовыми
// с ISO-форматом ввода и вывода.
func createStatement(frame *Frame, tablePath string) string {
	defs := make([]string, len(frame.Columns))
	for i, col := range frame.Columns {
		switch col.Kind {
		case KindChar:
			defs[i] = fmt.Sprintf("'%s'n char(%d)", col.Name, frame.charLength(i))
		case KindDate, KindDatetime:
			defs[i] = fmt.Sprintf("'%s'n num format=%s informat=%s", col.Name, DatetimeFormat, DatetimeFormat)
		default:
			defs[i] = fmt.Sprintf("'%s'n num", col.Name)
		}
	}
	return fmt.Sprintf("create table %s (%s);", tablePath, strings.Join(defs, ", "))
}

// insertStatement строит пакетный insert для строк [start, end).
func insertStatement(frame *Frame, tablePath string, start, end int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "insert into %s", tablePath)

	for r := start; r < end; r++ {
		literals := make([]string, len(frame.Columns))
		for i, v := range frame.Rows[r] {
			lit, err := renderLiteral(v, frame.Columns[i].Kind)
			if err != nil {
				return "", fmt.Errorf("row %d, column %s: %w", r, frame.Columns[i].Name, err)
			}
			literals[i] = lit
		}
		fmt.Fprintf(&b, " values(%s)", strings.Join(literals, ", "))
	}
	b.WriteString(";")
	return b.String(), nil
}

// renderLiteral превращает клиентское значение в SQL-литерал движка.
// Строки экранируются удвоением кавычки, моменты времени выводятся
// ISO-литералом датавремени, NaN и nil - пропущенное значение.
func renderLiteral(v any, kind Kind) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	switch value := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(value, "'", "''") + "'", nil
	case time.Time:
		return "'" + value.UTC().Format(datetimeLiteralLayout) + "'DT", nil
	case float64:
		if math.IsNaN(value) {
			return "NULL", nil
		}
		return strconv.FormatFloat(value, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	default:
		return "", fmt.Errorf("unsupported value type %T for %s column", v, kind)
	}
}
