package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// Options - опции доступа к таблице, прозрачно транслируемые движку:
// фильтр строк, выбор колонок, окно наблюдений и переназначение форматов.
type Options struct {
	Where    string            // выражение фильтра строк
	Keep     []string          // оставить только эти колонки
	Drop     []string          // исключить эти колонки
	Obs      int               // последнее читаемое наблюдение
	FirstObs int               // первое читаемое наблюдение
	Format   map[string]string // переназначение формата: колонка -> формат
}

// IsZero сообщает, пусты ли опции (таблицу можно читать напрямую,
// без материализации).
func (o *Options) IsZero() bool {
	if o == nil {
		return true
	}
	return o.Where == "" && len(o.Keep) == 0 && len(o.Drop) == 0 &&
		o.Obs == 0 && o.FirstObs == 0 && len(o.Format) == 0
}

// Render возвращает скобочную форму опций для подстановки после имени
// таблицы, либо пустую строку.
func (o *Options) Render() string {
	if o == nil {
		return ""
	}

	var parts []string
	if o.Where != "" {
		parts = append(parts, fmt.Sprintf("where=(%s)", o.Where))
	}
	if len(o.Keep) > 0 {
		parts = append(parts, "keep="+strings.Join(o.Keep, " "))
	}
	if len(o.Drop) > 0 {
		parts = append(parts, "drop="+strings.Join(o.Drop, " "))
	}
	if o.Obs > 0 {
		parts = append(parts, fmt.Sprintf("obs=%d", o.Obs))
	}
	if o.FirstObs > 0 {
		parts = append(parts, fmt.Sprintf("firstobs=%d", o.FirstObs))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// FormatStatement возвращает оператор переназначения форматов для
// data-шага материализации, либо пустую строку.
func (o *Options) FormatStatement() string {
	if o == nil || len(o.Format) == 0 {
		return ""
	}

	names := make([]string, 0, len(o.Format))
	for name := range o.Format {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("format")
	for _, name := range names {
		fmt.Fprintf(&b, " %s %s", name, o.Format[name])
	}
	b.WriteString(";")
	return b.String()
}
