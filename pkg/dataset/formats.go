// Package dataset реализует интерпретацию схем таблиц движка и обмен
// табличными данными: чтение курсором и через CSV, запись кадров
// операторами create/insert, конверсию дат и датавремени между
// числовыми смещениями движка и time.Time.
package dataset

import (
	"strings"
	"time"
)

// Epoch - нулевая точка календаря движка: даты хранятся как дни,
// датавремя - как секунды от 1960-01-01.
var Epoch = time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC)

// Форматы вывода ISO-8601, назначаемые создаваемым колонкам.
const (
	// DatetimeFormat - формат колонок датавремени (26 позиций, 6 знаков дробной части)
	DatetimeFormat = "E8601DT26.6"

	// datetimeLiteralLayout - раскладка литералов датавремени в insert
	datetimeLiteralLayout = "2006-01-02T15:04:05.000000"

	// dateCSVLayout и datetimeCSVLayout - раскладки значений в CSV-выгрузке
	dateCSVLayout     = "2006-01-02"
	datetimeCSVLayout = "2006-01-02T15:04:05.000000"
)

// Семейства форматов дат: числовое значение под таким форматом - дни от эпохи.
var dateFormats = map[string]bool{
	"DATE": true, "DAY": true, "DDMMYY": true, "DOWNAME": true,
	"JULDAY": true, "JULIAN": true, "MMDDYY": true, "MMYY": true,
	"MONNAME": true, "MONTH": true, "MONYY": true, "QTR": true,
	"QTRR": true, "WEEKDATE": true, "WEEKDATX": true, "WEEKDAY": true,
	"WORDDATE": true, "WORDDATX": true, "YEAR": true, "YYMM": true,
	"YYMMDD": true, "YYMON": true, "YYQ": true, "YYQR": true,
	"E8601DA": true, "B8601DA": true, "NLDATE": true,
}

// Семейства форматов датавремени: значение - секунды от эпохи.
var datetimeFormats = map[string]bool{
	"DATETIME": true, "DTDATE": true, "DTMONYY": true, "DTWKDATX": true,
	"DTYEAR": true, "DTYYQC": true, "TOD": true,
	"E8601DT": true, "B8601DT": true, "NLDATM": true,
}

// baseFormat отбрасывает длину и дробную часть из имени формата:
// "E8601DT26.6" -> "E8601DT", "date9." -> "DATE".
func baseFormat(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	end := len(name)
	for end > 0 {
		c := name[end-1]
		if (c >= '0' && c <= '9') || c == '.' {
			end--
			continue
		}
		break
	}
	return name[:end]
}

// IsDateFormat сообщает, принадлежит ли формат семейству дат.
func IsDateFormat(name string) bool {
	return dateFormats[baseFormat(name)]
}

// IsDatetimeFormat сообщает, принадлежит ли формат семейству датавремени.
func IsDatetimeFormat(name string) bool {
	return datetimeFormats[baseFormat(name)]
}

// daysToTime переводит дни от эпохи в полночь UTC соответствующей даты.
func daysToTime(days float64) time.Time {
	return Epoch.AddDate(0, 0, int(days))
}

// secondsToTime переводит секунды от эпохи в момент UTC.
func secondsToTime(seconds float64) time.Time {
	return Epoch.Add(time.Duration(seconds * float64(time.Second)))
}

// timeToDays переводит момент в дни от эпохи (дробная часть отбрасывается).
func timeToDays(t time.Time) float64 {
	return float64(int(t.UTC().Sub(Epoch).Hours() / 24))
}

// timeToSeconds переводит момент в секунды от эпохи.
func timeToSeconds(t time.Time) float64 {
	return t.UTC().Sub(Epoch).Seconds()
}
