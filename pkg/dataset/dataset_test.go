package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruslano69/sasiom/pkg/iom"
	"github.com/ruslano69/sasiom/pkg/iom/iomtest"
	"github.com/ruslano69/sasiom/pkg/session"
)

func newTestSession(t *testing.T, engine *iomtest.Engine) *session.Session {
	t.Helper()
	s := session.New(session.DefaultConfig(), engine.Factory())
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

// salesTable возвращает таблицу с числовой, строковой, датной и
// датавременной колонками в "сыром" представлении движка.
func salesTable() *iomtest.Table {
	day := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2021, time.March, 14, 9, 26, 53, 0, time.UTC)
	return &iomtest.Table{
		Columns: []iom.ColumnInfo{
			{Name: "id"},
			{Name: "name", FormatName: "$CHAR", FormatLength: 8},
			{Name: "day", FormatName: "E8601DA", FormatLength: 10},
			{Name: "ts", FormatName: "DATETIME", FormatLength: 20},
		},
		Rows: [][]any{
			{1.0, "alpha", timeToDays(day), timeToSeconds(ts)},
			{2.0, "beta", nil, nil},
		},
	}
}

func TestBaseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"E8601DT26.6", "E8601DT"},
		{"date9.", "DATE"},
		{"DATETIME20.", "DATETIME"},
		{"MMDDYY10", "MMDDYY"},
		{"BEST12.", "BEST"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := baseFormat(tt.in); got != tt.want {
			t.Errorf("baseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatFamilies(t *testing.T) {
	if !IsDateFormat("YYMMDD10.") {
		t.Error("YYMMDD10. must be a date format")
	}
	if !IsDatetimeFormat("E8601DT26.6") {
		t.Error("E8601DT26.6 must be a datetime format")
	}
	if IsDateFormat("BEST12.") || IsDatetimeFormat("BEST12.") {
		t.Error("BEST12. is neither a date nor a datetime format")
	}
	// Форматы времени суток намеренно остаются числовыми
	if IsDateFormat("TIME8.") || IsDatetimeFormat("TIME8.") {
		t.Error("TIME8. must stay numeric")
	}
}

func TestColumnMetaConvert(t *testing.T) {
	date := ColumnMeta{Name: "d", Kind: KindDate}
	datetime := ColumnMeta{Name: "dt", Kind: KindDatetime}
	numeric := ColumnMeta{Name: "n", Kind: KindNumeric}

	wantDay := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	if got := date.Convert(timeToDays(wantDay)); !got.(time.Time).Equal(wantDay) {
		t.Errorf("date Convert = %v, want %v", got, wantDay)
	}

	wantTS := time.Date(2021, time.March, 14, 9, 26, 53, 0, time.UTC)
	if got := datetime.Convert(timeToSeconds(wantTS)); !got.(time.Time).Equal(wantTS) {
		t.Errorf("datetime Convert = %v, want %v", got, wantTS)
	}

	if got := numeric.Convert(12.5); got != 12.5 {
		t.Errorf("numeric Convert = %v, want 12.5", got)
	}
	if got := numeric.Convert(nil); got != nil {
		t.Errorf("Convert(nil) = %v, want nil", got)
	}
	if got := numeric.Convert("text"); got != "text" {
		t.Errorf("Convert of unexpected representation = %v, want passthrough", got)
	}
}

func TestOptionsRender(t *testing.T) {
	tests := []struct {
		name string
		opts *Options
		want string
	}{
		{"nil", nil, ""},
		{"empty", &Options{}, ""},
		{"where", &Options{Where: "amount > 100"}, "(where=(amount > 100))"},
		{"keep and obs", &Options{Keep: []string{"a", "b"}, Obs: 10}, "(keep=a b obs=10)"},
		{
			"all",
			&Options{Where: "x=1", Keep: []string{"x"}, Drop: []string{"y"}, Obs: 5, FirstObs: 2},
			"(where=(x=1) keep=x drop=y obs=5 firstobs=2)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.Render(); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionsFormatStatement(t *testing.T) {
	opts := &Options{Format: map[string]string{"b": "date9.", "a": "comma12.2"}}
	want := "format a comma12.2 b date9.;"
	if got := opts.FormatStatement(); got != want {
		t.Errorf("FormatStatement() = %q, want %q", got, want)
	}
	if got := (&Options{}).FormatStatement(); got != "" {
		t.Errorf("empty FormatStatement() = %q, want empty", got)
	}
}

func TestResolveSchema(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	conn, err := s.Connection()
	if err != nil {
		t.Fatalf("Connection() failed: %v", err)
	}

	meta, err := ResolveSchema(conn, "work.sales")
	if err != nil {
		t.Fatalf("ResolveSchema() failed: %v", err)
	}
	if len(meta) != 4 {
		t.Fatalf("schema has %d columns, want 4", len(meta))
	}
	wantKinds := []Kind{KindNumeric, KindChar, KindDate, KindDatetime}
	for i, want := range wantKinds {
		if meta[i].Kind != want {
			t.Errorf("column %s kind = %v, want %v", meta[i].Name, meta[i].Kind, want)
		}
	}
}

func TestExists(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	conn, _ := s.Connection()
	ok, err := Exists(conn, "work.sales")
	if err != nil || !ok {
		t.Errorf("Exists(work.sales) = %v, %v, want true, nil", ok, err)
	}
	ok, err = Exists(conn, "work.no_such_table")
	if err != nil || ok {
		t.Errorf("Exists(work.no_such_table) = %v, %v, want false, nil", ok, err)
	}
}

func TestReadCursor(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	result, err := Read(s, "work.sales", nil)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("Read() returned %d rows, want 2", len(result.Rows))
	}

	row := result.Rows[0]
	if row[0] != 1.0 || row[1] != "alpha" {
		t.Errorf("row[0] = %v", row)
	}
	wantDay := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	if got, ok := row[2].(time.Time); !ok || !got.Equal(wantDay) {
		t.Errorf("date column = %v, want %v", row[2], wantDay)
	}
	wantTS := time.Date(2021, time.March, 14, 9, 26, 53, 0, time.UTC)
	if got, ok := row[3].(time.Time); !ok || !got.Equal(wantTS) {
		t.Errorf("datetime column = %v, want %v", row[3], wantTS)
	}

	// Пропущенные значения остаются nil, а не нулевыми датами
	if result.Rows[1][2] != nil || result.Rows[1][3] != nil {
		t.Errorf("missing values = %v, want nil", result.Rows[1])
	}
}

func TestReadMissingTable(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine)

	_, err := Read(s, "work.no_such_table", nil)
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Read() of a missing table = %v, want ErrTableNotFound", err)
	}
}

func TestReadWithOptionsMaterializes(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	result, err := Read(s, "work.sales", &Options{Where: "id = 1"})
	if err != nil {
		t.Fatalf("Read() with options failed: %v", err)
	}
	if len(result.Rows) == 0 {
		t.Fatal("Read() with options returned no rows")
	}

	if _, ok := engine.LookupTable(tmpReadTable); !ok {
		t.Error("options were not applied through a materializing data step")
	}
	found := false
	for _, program := range engine.Submissions {
		if strings.Contains(program, "where=(id = 1)") {
			found = true
		}
	}
	if !found {
		t.Error("where clause was not passed to the engine")
	}
}

func TestWriteFrameReadRoundTrip(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine)

	ts := time.Date(2023, time.November, 7, 18, 45, 30, 0, time.UTC)
	frame := &Frame{
		Columns: []FrameColumn{
			{Name: "region", Kind: KindChar},
			{Name: "amount", Kind: KindNumeric},
			{Name: "loaded", Kind: KindDatetime},
		},
		Rows: [][]any{
			{"north", 1250.75, ts},
			{"o'hara", nil, nil},
		},
	}

	if err := WriteFrame(s, frame, "work.upload"); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}

	result, err := Read(s, "work.upload", nil)
	if err != nil {
		t.Fatalf("Read() after WriteFrame() failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("round trip returned %d rows, want 2", len(result.Rows))
	}

	row := result.Rows[0]
	if row[0] != "north" || row[1] != 1250.75 {
		t.Errorf("row[0] = %v", row)
	}
	got, ok := row[2].(time.Time)
	if !ok {
		t.Fatalf("datetime column = %T, want time.Time", row[2])
	}
	if diff := got.Sub(ts); diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("datetime round trip drifted by %v", diff)
	}

	// Экранирование кавычки и пропущенные значения
	if result.Rows[1][0] != "o'hara" {
		t.Errorf("quoted string = %v, want o'hara", result.Rows[1][0])
	}
	if result.Rows[1][1] != nil || result.Rows[1][2] != nil {
		t.Errorf("missing values = %v, want nil", result.Rows[1])
	}
}

func TestWriteFrameBatching(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine)

	frame := &Frame{Columns: []FrameColumn{{Name: "v", Kind: KindNumeric}}}
	for i := 0; i < 70; i++ {
		frame.Rows = append(frame.Rows, []any{float64(i)})
	}

	if err := WriteFrame(s, frame, "work.big"); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}

	// create + ceil(70/32) insert-ов
	if len(engine.Statements) != 4 {
		t.Errorf("statements = %d, want 4", len(engine.Statements))
	}
	table, _ := engine.LookupTable("work.big")
	if len(table.Rows) != 70 {
		t.Errorf("uploaded rows = %d, want 70", len(table.Rows))
	}
}

func TestWriteFrameExistingTable(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	frame := &Frame{Columns: []FrameColumn{{Name: "v", Kind: KindNumeric}}}
	if err := WriteFrame(s, frame, "work.sales"); err == nil {
		t.Fatal("WriteFrame() over an existing table should fail")
	}
}

func TestWriteFrameInvalid(t *testing.T) {
	frame := &Frame{
		Columns: []FrameColumn{{Name: "v", Kind: KindNumeric}},
		Rows:    [][]any{{"not a number"}},
	}
	if err := frame.Validate(); err == nil {
		t.Fatal("Validate() should reject a type mismatch")
	}

	ragged := &Frame{
		Columns: []FrameColumn{{Name: "a", Kind: KindNumeric}, {Name: "b", Kind: KindNumeric}},
		Rows:    [][]any{{1.0}},
	}
	if err := ragged.Validate(); err == nil {
		t.Fatal("Validate() should reject a ragged row")
	}
}

func TestRenderLiteral(t *testing.T) {
	ts := time.Date(2023, time.November, 7, 18, 45, 30, 500000000, time.UTC)
	tests := []struct {
		name string
		in   any
		kind Kind
		want string
	}{
		{"nil", nil, KindNumeric, "NULL"},
		{"float", 12.5, KindNumeric, "12.5"},
		{"int", 42, KindNumeric, "42"},
		{"string", "plain", KindChar, "'plain'"},
		{"quote escape", "o'hara", KindChar, "'o''hara'"},
		{"datetime", ts, KindDatetime, "'2023-11-07T18:45:30.500000'DT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderLiteral(tt.in, tt.kind)
			if err != nil {
				t.Fatalf("renderLiteral() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("renderLiteral() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExportImportCSVRoundTrip(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	if _, err := ExportCSV(s, "work.sales", "/data/sales.csv", nil); err != nil {
		t.Fatalf("ExportCSV() failed: %v", err)
	}
	if _, ok := engine.Files["/data/sales.csv"]; !ok {
		t.Fatal("export did not produce a file on the engine side")
	}

	if _, err := ImportCSV(s, "/data/sales.csv", "work.copy"); err != nil {
		t.Fatalf("ImportCSV() failed: %v", err)
	}

	table, ok := engine.LookupTable("work.copy")
	if !ok {
		t.Fatal("import did not create the target table")
	}
	if len(table.Rows) != 2 {
		t.Fatalf("imported rows = %d, want 2", len(table.Rows))
	}
	if table.Rows[0][0] != 1.0 || table.Rows[0][1] != "alpha" {
		t.Errorf("imported row = %v", table.Rows[0])
	}
}

func TestImportCSVMissingFile(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine)

	if _, err := ImportCSV(s, "/data/no_such.csv", "work.copy"); err == nil {
		t.Fatal("ImportCSV() of a missing file should fail")
	}
}

func TestReadCSV(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	result, err := ReadCSV(s, "work.sales", nil)
	if err != nil {
		t.Fatalf("ReadCSV() failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("ReadCSV() returned %d rows, want 2", len(result.Rows))
	}

	row := result.Rows[0]
	if row[0] != 1.0 || row[1] != "alpha" {
		t.Errorf("row[0] = %v", row)
	}
	wantDay := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	if got, ok := row[2].(time.Time); !ok || !got.Equal(wantDay) {
		t.Errorf("csv date column = %v, want %v", row[2], wantDay)
	}
	wantTS := time.Date(2021, time.March, 14, 9, 26, 53, 0, time.UTC)
	if got, ok := row[3].(time.Time); !ok || !got.Equal(wantTS) {
		t.Errorf("csv datetime column = %v, want %v", row[3], wantTS)
	}
	if result.Rows[1][2] != nil || result.Rows[1][3] != nil {
		t.Errorf("missing values = %v, want nil", result.Rows[1])
	}
}

func TestCodeGeneration(t *testing.T) {
	code := ExportCSVCode("work.sales", "/data/out.csv", &Options{Where: "id=1"})
	if !strings.Contains(code, `data=work.sales(where=(id=1))`) {
		t.Errorf("export code lacks table and options: %q", code)
	}
	if !strings.Contains(code, `outfile="/data/out.csv"`) {
		t.Errorf("export code lacks the target file: %q", code)
	}

	code = ImportCSVCode("/data/in.csv", "work.loaded")
	if !strings.Contains(code, `filename csv_file "/data/in.csv"`) {
		t.Errorf("import code lacks the fileref: %q", code)
	}
	if !strings.Contains(code, "out=work.loaded") {
		t.Errorf("import code lacks the target table: %q", code)
	}
}

func TestReadCSVFile(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", salesTable())
	s := newTestSession(t, engine)

	localPath := filepath.Join(t.TempDir(), "sales.csv")
	result, err := ReadCSVFile(s, "work.sales", localPath, nil)
	if err != nil {
		t.Fatalf("ReadCSVFile() failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("ReadCSVFile() returned %d rows, want 2", len(result.Rows))
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("persisted csv is missing: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "id,name,day,ts") {
		t.Errorf("csv header = %q", strings.SplitN(text, "\n", 2)[0])
	}
	if !strings.Contains(text, "2024-05-01") {
		t.Errorf("csv lacks the ISO date value: %q", text)
	}

	// Сохраненный файл - тот же payload, что и разобранный результат
	parsed, err := parseCSV(text, result.Columns)
	if err != nil {
		t.Fatalf("persisted csv does not parse: %v", err)
	}
	if len(parsed.Rows) != len(result.Rows) {
		t.Errorf("persisted csv has %d rows, parsed result has %d", len(parsed.Rows), len(result.Rows))
	}
}
