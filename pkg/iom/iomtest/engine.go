// Package iomtest содержит in-memory имитацию движка для тестов.
// Имитирует ровно то подмножество поведения, на которое опирается клиент:
// error state языкового сервиса до Reset, буферизованные журналы,
// файловое дерево с бинарными потоками, метаданные колонок и курсоры строк,
// а также разбор собственных create/insert операторов клиента.
package iomtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ruslano69/sasiom/pkg/iom"
)

// Эпоха движка: все даты хранятся как смещения от 1960-01-01.
var epoch = time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC)

var fakeDateFormats = map[string]bool{
	"DATE": true, "MMDDYY": true, "DDMMYY": true, "YYMMDD": true,
	"E8601DA": true, "B8601DA": true, "JULIAN": true, "MONYY": true,
	"WEEKDATE": true, "WORDDATE": true,
}

var fakeDatetimeFormats = map[string]bool{
	"DATETIME": true, "E8601DT": true, "B8601DT": true, "DTDATE": true,
}

// Table - таблица фейкового движка. Строки хранятся в "сыром" виде движка:
// даты/датавремя как числовые смещения от эпохи, числа как float64.
type Table struct {
	Columns []iom.ColumnInfo
	Rows    [][]any
}

// Engine - состояние фейкового движка, разделяемое workspace и connection.
type Engine struct {
	mu sync.Mutex

	Tables map[string]*Table // ключ: верхний регистр полного пути
	Files  map[string][]byte // удаленное файловое дерево
	Dirs   map[string]bool   // удаленные каталоги

	// FailOn - подстрока, имитирующая синтаксическую ошибку: её появление
	// в отправленной программе переводит парсер в error state до Reset.
	FailOn string

	// NextListing - текст листинга, выдаваемый после следующей успешной отправки.
	NextListing string

	// CaptureBody - тело capture-файла rich-вывода. Если пусто, строится
	// из NextListing c историческими маркерами (form feed, c body, x-small).
	CaptureBody string

	// ConnectErr - ошибка, возвращаемая CreateWorkspace (имитация отказа брокера).
	ConnectErr error

	errState    bool
	logBuf      bytes.Buffer
	listBuf     bytes.Buffer
	Submissions []string
	Statements  []string
	Resets      int
	Events      []string // порядок закрытия дескрипторов
}

// NewEngine создает пустой фейковый движок.
func NewEngine() *Engine {
	return &Engine{
		Tables: make(map[string]*Table),
		Files:  make(map[string][]byte),
		Dirs:   make(map[string]bool),
	}
}

// AddTable регистрирует таблицу под каноническим (верхний регистр) путем.
func (e *Engine) AddTable(path string, t *Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Tables[strings.ToUpper(path)] = t
}

// LookupTable возвращает таблицу по пути (без учета регистра).
func (e *Engine) LookupTable(path string) (*Table, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.Tables[strings.ToUpper(path)]
	return t, ok
}

// ErrState сообщает, находится ли парсер в состоянии ошибки.
func (e *Engine) ErrState() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errState
}

// Factory возвращает фабрику, привязанную к этому движку.
func (e *Engine) Factory() iom.Factory {
	return &fakeFactory{engine: e}
}

type fakeFactory struct {
	engine *Engine
}

func (f *fakeFactory) CreateWorkspace(ctx context.Context, def iom.ServerDef) (iom.Workspace, error) {
	if f.engine.ConnectErr != nil {
		return nil, f.engine.ConnectErr
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &fakeWorkspace{engine: f.engine, id: "FAKE-WORKSPACE-1"}, nil
}

func (f *fakeFactory) OpenConnection(ctx context.Context, provider, workspaceID string) (iom.Connection, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace identifier is required")
	}
	return &fakeConnection{engine: f.engine}, nil
}

type fakeWorkspace struct {
	engine *Engine
	id     string
	closed bool
}

func (w *fakeWorkspace) UniqueIdentifier() string { return w.id }

func (w *fakeWorkspace) LanguageService() iom.LanguageService {
	return &fakeLanguageService{engine: w.engine}
}

func (w *fakeWorkspace) FileService() iom.FileService {
	return &fakeFileService{engine: w.engine}
}

func (w *fakeWorkspace) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.engine.mu.Lock()
	w.engine.Events = append(w.engine.Events, "workspace.close")
	w.engine.mu.Unlock()
	return nil
}

// --- LanguageService ---

type fakeLanguageService struct {
	engine *Engine
}

var (
	dataStepRe   = regexp.MustCompile(`(?is)data\s+([\w.]+)\s*;\s*(?:format\s+[^;]*;\s*)?set\s+([\w.]+)`)
	odsFileRe    = regexp.MustCompile(`(?is)ods\s+\w+[^;]*file="([^"]+)"`)
	procExportRe = regexp.MustCompile(`(?is)proc\s+export\s+data\s*=\s*([\w.]+)[^;]*outfile\s*=\s*"([^"]+)"`)
	filenameRe   = regexp.MustCompile(`(?is)filename\s+csv_file\s+"([^"]+)"`)
	procImportRe = regexp.MustCompile(`(?is)proc\s+import\s+datafile\s*=\s*csv_file\s+out\s*=\s*([\w.]+)`)
)

func (s *fakeLanguageService) Submit(code string) error {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Submissions = append(e.Submissions, code)

	if e.errState {
		e.logBuf.WriteString("ERROR: The language processor is in an error state. Reset is required.\n")
		return nil
	}
	if e.FailOn != "" && strings.Contains(code, e.FailOn) {
		e.errState = true
		e.logBuf.WriteString("ERROR: Syntax error detected, statements ignored until reset.\n")
		return nil
	}

	// data-шаг: материализация промежуточной таблицы копированием источника
	if m := dataStepRe.FindStringSubmatch(code); m != nil {
		target, source := strings.ToUpper(m[1]), strings.ToUpper(m[2])
		if src, ok := e.Tables[source]; ok {
			cp := &Table{Columns: append([]iom.ColumnInfo(nil), src.Columns...)}
			for _, r := range src.Rows {
				cp.Rows = append(cp.Rows, append([]any(nil), r...))
			}
			e.Tables[target] = cp
			e.logBuf.WriteString(fmt.Sprintf("NOTE: The data set %s has %d observations.\n", target, len(cp.Rows)))
		} else {
			e.logBuf.WriteString(fmt.Sprintf("ERROR: File %s does not exist.\n", source))
		}
	}

	// proc export: выгрузка таблицы в CSV-файл на стороне движка
	if m := procExportRe.FindStringSubmatch(code); m != nil {
		source, path := strings.ToUpper(m[1]), m[2]
		if src, ok := e.Tables[source]; ok {
			e.Files[path] = renderCSV(src)
			e.logBuf.WriteString(fmt.Sprintf("NOTE: %d records written to %s.\n", len(src.Rows), path))
		} else {
			e.logBuf.WriteString(fmt.Sprintf("ERROR: File %s does not exist.\n", source))
		}
	}

	// proc import: загрузка CSV-файла движка в таблицу
	if m := procImportRe.FindStringSubmatch(code); m != nil {
		if fm := filenameRe.FindStringSubmatch(code); fm != nil {
			target, path := strings.ToUpper(m[1]), fm[1]
			if content, ok := e.Files[path]; ok {
				t, err := parseCSVTable(content)
				if err != nil {
					e.logBuf.WriteString(fmt.Sprintf("ERROR: Import failed: %v.\n", err))
				} else {
					e.Tables[target] = t
					e.logBuf.WriteString(fmt.Sprintf("NOTE: %s was successfully created.\n", target))
				}
			} else {
				e.logBuf.WriteString(fmt.Sprintf("ERROR: Physical file does not exist, %s.\n", path))
			}
		}
	}

	// rich-вывод: запись capture-файла по пути из ods ... file="..."
	if m := odsFileRe.FindStringSubmatch(code); m != nil {
		body := e.CaptureBody
		if body == "" {
			body = "<body class=\"c body\">font-size: x-small;" + e.NextListing + "\x0c</body>"
		}
		e.Files[m[1]] = []byte(body)
	}

	e.logBuf.WriteString("NOTE: Statements processed.\n")
	if e.NextListing != "" {
		e.listBuf.WriteString(e.NextListing)
		e.NextListing = ""
	}
	return nil
}

func (s *fakeLanguageService) FlushLog(n int) (string, error) {
	return s.flush(&s.engine.logBuf, n)
}

func (s *fakeLanguageService) FlushList(n int) (string, error) {
	return s.flush(&s.engine.listBuf, n)
}

func (s *fakeLanguageService) flush(buf *bytes.Buffer, n int) (string, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if n <= 0 {
		return "", fmt.Errorf("flush buffer size must be positive, got %d", n)
	}
	chunk := buf.Next(n)
	return string(chunk), nil
}

func (s *fakeLanguageService) Reset() error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.errState = false
	s.engine.Resets++
	return nil
}

// --- FileService ---

type fakeFileService struct {
	engine *Engine
}

func (s *fakeFileService) AssignFileref(name, device, path, options string) (iom.Fileref, error) {
	return &fakeFileref{engine: s.engine, name: name, path: path}, nil
}

func (s *fakeFileService) DeassignFileref(name string) error {
	return nil
}

type fakeFileref struct {
	engine *Engine
	name   string
	path   string
}

func (f *fakeFileref) Name() string { return f.name }

func (f *fakeFileref) OpenBinaryStream(mode iom.StreamMode) (iom.BinaryStream, error) {
	e := f.engine
	switch mode {
	case iom.StreamRead:
		e.mu.Lock()
		content, ok := e.Files[f.path]
		e.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("file %s does not exist", f.path)
		}
		return &fakeStream{engine: e, path: f.path, content: content}, nil
	case iom.StreamWrite:
		return &fakeStream{engine: e, path: f.path, write: true}, nil
	default:
		return nil, fmt.Errorf("unsupported stream mode: %d", mode)
	}
}

type fakeStream struct {
	engine  *Engine
	path    string
	content []byte
	offset  int
	write   bool
	buf     bytes.Buffer
	closed  bool
}

func (s *fakeStream) Read(n int) ([]byte, error) {
	if s.closed {
		return nil, iom.ErrStreamClosed
	}
	if s.write {
		return nil, fmt.Errorf("stream %s is opened for writing", s.path)
	}
	if s.offset >= len(s.content) {
		return nil, nil
	}
	end := s.offset + n
	if end > len(s.content) {
		end = len(s.content)
	}
	chunk := s.content[s.offset:end]
	s.offset = end
	return chunk, nil
}

func (s *fakeStream) Write(p []byte) error {
	if s.closed {
		return iom.ErrStreamClosed
	}
	if !s.write {
		return fmt.Errorf("stream %s is opened for reading", s.path)
	}
	s.buf.Write(p)
	return nil
}

func (s *fakeStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.write {
		s.engine.mu.Lock()
		s.engine.Files[s.path] = append([]byte(nil), s.buf.Bytes()...)
		s.engine.mu.Unlock()
	}
	return nil
}

// --- Connection ---

type fakeConnection struct {
	engine *Engine
	closed bool
}

func (c *fakeConnection) Execute(statement string) error {
	e := c.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Statements = append(e.Statements, statement)

	trimmed := strings.TrimSpace(statement)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "create table "):
		return e.executeCreate(trimmed)
	case strings.HasPrefix(lower, "insert into "):
		return e.executeInsert(trimmed)
	default:
		return fmt.Errorf("unsupported statement: %s", firstLine(trimmed))
	}
}

func (c *fakeConnection) OpenSchema(tablePath string) (iom.SchemaCursor, error) {
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}
	t, ok := c.engine.LookupTable(tablePath)
	if !ok {
		return &fakeSchemaCursor{}, nil
	}
	return &fakeSchemaCursor{columns: t.Columns}, nil
}

func (c *fakeConnection) OpenTable(tablePath string, opts iom.CursorOptions) (iom.RowCursor, error) {
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}
	t, ok := c.engine.LookupTable(tablePath)
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", tablePath)
	}
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return &fakeRowCursor{columns: names, rows: t.Rows}, nil
}

func (c *fakeConnection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.engine.mu.Lock()
	c.engine.Events = append(c.engine.Events, "connection.close")
	c.engine.mu.Unlock()
	return nil
}

type fakeSchemaCursor struct {
	columns []iom.ColumnInfo
	pos     int
}

func (c *fakeSchemaCursor) Next() (iom.ColumnInfo, bool, error) {
	if c.pos >= len(c.columns) {
		return iom.ColumnInfo{}, false, nil
	}
	info := c.columns[c.pos]
	c.pos++
	return info, true, nil
}

func (c *fakeSchemaCursor) Close() error { return nil }

type fakeRowCursor struct {
	columns []string
	rows    [][]any
	pos     int
}

func (c *fakeRowCursor) Columns() []string { return c.columns }

func (c *fakeRowCursor) Next() ([]any, bool, error) {
	if c.pos >= len(c.rows) {
		return nil, false, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row, true, nil
}

func (c *fakeRowCursor) Close() error { return nil }

// --- Разбор create/insert, генерируемых клиентом ---

var createRe = regexp.MustCompile(`(?is)^create\s+table\s+([\w.]+)\s*\((.*)\)\s*;?$`)
var insertRe = regexp.MustCompile(`(?is)^insert\s+into\s+([\w.]+)\s+(values.*?)\s*;?$`)
var columnDefRe = regexp.MustCompile(`(?i)^'([^']*)'n\s+(num|char)(?:\((\d+)\))?(.*)$`)

func (e *Engine) executeCreate(statement string) error {
	m := createRe.FindStringSubmatch(statement)
	if m == nil {
		return fmt.Errorf("cannot parse create table statement: %s", firstLine(statement))
	}
	path := strings.ToUpper(m[1])
	if _, exists := e.Tables[path]; exists {
		return fmt.Errorf("table %s already exists", path)
	}

	t := &Table{}
	for _, def := range splitTopLevel(m[2]) {
		cm := columnDefRe.FindStringSubmatch(strings.TrimSpace(def))
		if cm == nil {
			return fmt.Errorf("cannot parse column definition: %s", def)
		}
		info := iom.ColumnInfo{Name: cm[1]}
		if strings.Contains(strings.ToUpper(cm[4]), "E8601DT") {
			info.FormatName = "E8601DT"
			info.FormatLength = 26
			info.FormatDecimal = 6
		}
		t.Columns = append(t.Columns, info)
	}
	e.Tables[path] = t
	return nil
}

func (e *Engine) executeInsert(statement string) error {
	m := insertRe.FindStringSubmatch(statement)
	if m == nil {
		return fmt.Errorf("cannot parse insert statement: %s", firstLine(statement))
	}
	t, ok := e.Tables[strings.ToUpper(m[1])]
	if !ok {
		return fmt.Errorf("table %s does not exist", m[1])
	}

	for _, tuple := range splitValueTuples(m[2]) {
		literals := splitTopLevel(tuple)
		if len(literals) != len(t.Columns) {
			return fmt.Errorf("value tuple has %d literals, table has %d columns", len(literals), len(t.Columns))
		}
		row := make([]any, len(literals))
		for i, lit := range literals {
			v, err := parseLiteral(strings.TrimSpace(lit), t.Columns[i])
			if err != nil {
				return err
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return nil
}

// splitValueTuples разрезает "values(...) values(...)" на содержимое скобок.
func splitValueTuples(s string) []string {
	var tuples []string
	var depth int
	var inQuote bool
	var start int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				if depth == 0 {
					start = i + 1
				}
				depth++
			}
		case ')':
			if !inQuote {
				depth--
				if depth == 0 {
					tuples = append(tuples, s[start:i])
				}
			}
		}
	}
	return tuples
}

// splitTopLevel разрезает список по запятым вне кавычек и скобок.
func splitTopLevel(s string) []string {
	var parts []string
	var depth int
	var inQuote bool
	var start int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(s[start:]) != "" {
		parts = append(parts, s[start:])
	}
	return parts
}

// parseLiteral восстанавливает значение движка из SQL-литерала клиента.
// Датавремя хранится как секунды от эпохи - так же, как в настоящем движке.
func parseLiteral(lit string, col iom.ColumnInfo) (any, error) {
	if strings.EqualFold(lit, "NULL") {
		return nil, nil
	}
	if strings.HasPrefix(lit, "'") {
		if strings.HasSuffix(lit, "'DT") {
			raw := strings.TrimSuffix(strings.TrimPrefix(lit, "'"), "'DT")
			ts, err := time.Parse("2006-01-02T15:04:05.000000", raw)
			if err != nil {
				return nil, fmt.Errorf("cannot parse datetime literal %s: %w", lit, err)
			}
			return ts.Sub(epoch).Seconds(), nil
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(lit, "'"), "'")
		return strings.ReplaceAll(raw, "''", "'"), nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse numeric literal %s: %w", lit, err)
	}
	return f, nil
}

// renderCSV выгружает таблицу в CSV, применяя семейство формата колонки:
// даты и датавремя выводятся в ISO-8601, как делает движок под E8601-форматами.
func renderCSV(t *Table) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = col.Name
	}
	w.Write(header)

	for _, row := range t.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = renderCSVValue(v, t.Columns[i])
		}
		w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}

func renderCSVValue(v any, col iom.ColumnInfo) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok {
		if fakeDateFormats[col.FormatName] {
			return epoch.AddDate(0, 0, int(f)).Format("2006-01-02")
		}
		if fakeDatetimeFormats[col.FormatName] {
			return epoch.Add(time.Duration(f * float64(time.Second))).Format("2006-01-02T15:04:05.000000")
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// parseCSVTable загружает CSV в таблицу: числовые колонки распознаются
// по содержимому, остальное остается текстом. Форматы не назначаются -
// proc import их тоже не назначает.
func parseCSVTable(content []byte) (*Table, error) {
	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}

	t := &Table{}
	for _, name := range records[0] {
		t.Columns = append(t.Columns, iom.ColumnInfo{Name: name})
	}
	for _, record := range records[1:] {
		row := make([]any, len(record))
		for i, cell := range record {
			if cell == "" {
				row[i] = nil
				continue
			}
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				row[i] = f
			} else {
				row[i] = cell
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
