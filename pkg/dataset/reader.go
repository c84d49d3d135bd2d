package dataset

import (
	"fmt"
	"strings"

	"github.com/ruslano69/sasiom/pkg/session"
)

// Имя промежуточной таблицы для материализации чтения с опциями.
const tmpReadTable = "work._sasiom_read"

// TableResult - таблица в клиентском представлении: метаданные колонок
// и строки с уже сконвертированными значениями (float64, string,
// time.Time или nil для пропущенных).
type TableResult struct {
	Columns []ColumnMeta
	Rows    [][]any
}

// ColumnNames возвращает имена колонок в порядке таблицы.
func (r *TableResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, col := range r.Columns {
		names[i] = col.Name
	}
	return names
}

// Read выгружает таблицу курсором: интерпретирует схему, открывает
// табличный курсор с настройками кэширования сессии и конвертирует
// значения по семейству формата колонки. Опции доступа применяются
// материализацией в промежуточную таблицу - так фильтр и окно
// наблюдений вычисляет движок, а не клиент.
func Read(s *session.Session, tablePath string, opts *Options) (*TableResult, error) {
	conn, err := s.Connection()
	if err != nil {
		return nil, err
	}

	path := tablePath
	if !opts.IsZero() {
		if err := materialize(s, tablePath, opts); err != nil {
			return nil, err
		}
		path = tmpReadTable
	}

	meta, err := ResolveSchema(conn, path)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]ColumnMeta, len(meta))
	for _, col := range meta {
		byName[strings.ToUpper(col.Name)] = col
	}

	cursor, err := conn.OpenTable(path, s.CursorOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	defer cursor.Close()

	columns := make([]ColumnMeta, 0, len(meta))
	for _, name := range cursor.Columns() {
		col, ok := byName[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("cursor column %s is missing from the schema of %s", name, path)
		}
		columns = append(columns, col)
	}

	result := &TableResult{Columns: columns}
	for {
		raw, ok, err := cursor.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read row from %s: %w", path, err)
		}
		if !ok {
			break
		}
		if len(raw) != len(columns) {
			return nil, fmt.Errorf("row width %d does not match %d columns of %s", len(raw), len(columns), path)
		}
		row := make([]any, len(raw))
		for i, v := range raw {
			row[i] = columns[i].Convert(v)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

// materialize выполняет data-шаг, применяющий опции доступа на стороне
// движка и складывающий результат в промежуточную таблицу.
func materialize(s *session.Session, tablePath string, opts *Options) error {
	var b strings.Builder
	fmt.Fprintf(&b, "data %s;\n", tmpReadTable)
	if stmt := opts.FormatStatement(); stmt != "" {
		b.WriteString(stmt)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "set %s%s;\nrun;", tablePath, opts.Render())

	result, err := s.Submit(b.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to materialize %s: %w", tablePath, err)
	}
	if line, found := firstErrorLine(result.Log); found {
		return fmt.Errorf("failed to materialize %s: %s", tablePath, line)
	}
	return nil
}

// firstErrorLine возвращает первую строку диагностики из журнала.
func firstErrorLine(log string) (string, bool) {
	for _, line := range strings.Split(log, "\n") {
		if strings.HasPrefix(line, "ERROR") {
			return line, true
		}
	}
	return "", false
}
