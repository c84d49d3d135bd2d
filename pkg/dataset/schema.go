package dataset

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruslano69/sasiom/pkg/iom"
)

// ErrTableNotFound - запрошенная таблица отсутствует на движке.
var ErrTableNotFound = errors.New("table not found")

// Kind - клиентский тип колонки, выведенный из семейства её формата.
type Kind int

const (
	KindNumeric Kind = iota // float64
	KindChar                // string
	KindDate                // time.Time (полночь UTC)
	KindDatetime            // time.Time
)

// String возвращает имя типа для диагностики.
func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindChar:
		return "char"
	case KindDate:
		return "date"
	case KindDatetime:
		return "datetime"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ColumnMeta - метаданные одной колонки: имя, формат движка и выведенный
// клиентский тип.
type ColumnMeta struct {
	Name          string
	FormatName    string
	FormatLength  int
	FormatDecimal int
	Kind          Kind
}

// kindOf выводит клиентский тип из имени формата. Строковые форматы
// начинаются с $; форматы времени суток намеренно не конвертируются:
// секунды от полуночи остаются числом. Колонка вовсе без формата
// неотличима от числовой - схема не несет тип данных.
func kindOf(info iom.ColumnInfo) Kind {
	switch {
	case strings.HasPrefix(info.FormatName, "$"):
		return KindChar
	case IsDateFormat(info.FormatName):
		return KindDate
	case IsDatetimeFormat(info.FormatName):
		return KindDatetime
	default:
		return KindNumeric
	}
}

// Convert переводит "сырое" значение движка в клиентское согласно типу
// колонки. nil (пропущенное значение) проходит без изменений; значение
// неожиданного представления тоже - диагностику делает вызывающая сторона.
func (m ColumnMeta) Convert(value any) any {
	if value == nil {
		return nil
	}
	f, ok := value.(float64)
	if !ok {
		return value
	}
	switch m.Kind {
	case KindDate:
		return daysToTime(f)
	case KindDatetime:
		return secondsToTime(f)
	default:
		return f
	}
}

// Raw переводит клиентское значение обратно в представление движка.
func (m ColumnMeta) Raw(value any) any {
	if t, ok := value.(time.Time); ok {
		switch m.Kind {
		case KindDate:
			return timeToDays(t)
		case KindDatetime:
			return timeToSeconds(t)
		}
	}
	return value
}

// ResolveSchema интерпретирует схему таблицы: читает метаданные колонок
// курсором схемы и выводит клиентские типы. Отсутствующая таблица дает
// ErrTableNotFound - поставщик сообщает о ней пустой схемой, а не ошибкой.
func ResolveSchema(conn iom.Connection, tablePath string) ([]ColumnMeta, error) {
	cursor, err := conn.OpenSchema(tablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema for %s: %w", tablePath, err)
	}
	defer cursor.Close()

	var columns []ColumnMeta
	for {
		info, ok, err := cursor.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read schema row for %s: %w", tablePath, err)
		}
		if !ok {
			break
		}
		columns = append(columns, ColumnMeta{
			Name:          info.Name,
			FormatName:    info.FormatName,
			FormatLength:  info.FormatLength,
			FormatDecimal: info.FormatDecimal,
			Kind:          kindOf(info),
		})
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tablePath)
	}
	return columns, nil
}

// Exists проверяет наличие таблицы по её схеме.
func Exists(conn iom.Connection, tablePath string) (bool, error) {
	_, err := ResolveSchema(conn, tablePath)
	if errors.Is(err, ErrTableNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
