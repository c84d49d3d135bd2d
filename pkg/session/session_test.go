package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruslano69/sasiom/pkg/iom"
	"github.com/ruslano69/sasiom/pkg/iom/iomtest"
)

// scriptedPrompter выдает заранее заданные значения вместо терминала.
type scriptedPrompter struct {
	values   []string
	err      error
	messages []string
}

func (p *scriptedPrompter) Prompt(message string, hidden bool) (string, error) {
	p.messages = append(p.messages, message)
	if p.err != nil {
		return "", p.err
	}
	if len(p.values) == 0 {
		return "", nil
	}
	value := p.values[0]
	p.values = p.values[1:]
	return value, nil
}

func newTestSession(t *testing.T, engine *iomtest.Engine, cfg *Config) *Session {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := New(cfg, engine.Factory())
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestOpenIdempotent(t *testing.T) {
	engine := iomtest.NewEngine()
	s := New(DefaultConfig(), engine.Factory())

	id1, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	id2, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Open() is not idempotent: %q != %q", id1, id2)
	}
}

func TestOpenBrokerFailure(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.ConnectErr = errors.New("broker unavailable")

	s := New(DefaultConfig(), engine.Factory())
	if _, err := s.Open(context.Background()); err == nil {
		t.Fatal("Open() should fail when the broker is unavailable")
	}
}

func TestOpenRemoteValidation(t *testing.T) {
	engine := iomtest.NewEngine()
	cfg := DefaultConfig()
	cfg.Host = "analytics.example.com"
	// Порт и class_id не заданы - определение сервера неполное

	s := New(cfg, engine.Factory())
	if _, err := s.Open(context.Background()); err == nil {
		t.Fatal("Open() should reject an incomplete remote definition")
	}
}

func TestCloseOrderAndIdempotence(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}

	want := []string{"connection.close", "workspace.close"}
	if len(engine.Events) != len(want) {
		t.Fatalf("close events = %v, want %v", engine.Events, want)
	}
	for i, event := range want {
		if engine.Events[i] != event {
			t.Errorf("close event[%d] = %q, want %q", i, engine.Events[i], event)
		}
	}

	if _, err := s.Open(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Open() after Close() = %v, want ErrSessionClosed", err)
	}
}

func TestDrain(t *testing.T) {
	tests := []struct {
		name    string
		content string
		bufSize int
	}{
		{"empty stream", "", 8},
		{"single chunk", "short", 64},
		{"multiple chunks", strings.Repeat("0123456789", 100), 7},
		{"exact boundary", "abcdefgh", 4},
		{"default buffer size", "payload", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset := 0
			read := func(n int) ([]byte, error) {
				if offset >= len(tt.content) {
					return nil, nil
				}
				end := offset + n
				if end > len(tt.content) {
					end = len(tt.content)
				}
				chunk := []byte(tt.content[offset:end])
				offset = end
				return chunk, nil
			}

			got, err := Drain(read, tt.bufSize)
			if err != nil {
				t.Fatalf("Drain() failed: %v", err)
			}
			if string(got) != tt.content {
				t.Errorf("Drain() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestDrainPropagatesError(t *testing.T) {
	wantErr := errors.New("channel failure")
	_, err := Drain(func(n int) ([]byte, error) { return nil, wantErr }, 16)
	if !errors.Is(err, wantErr) {
		t.Errorf("Drain() error = %v, want %v", err, wantErr)
	}
}

func TestSubmitFraming(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine, nil)

	if _, err := s.Submit("data work.a; run;", nil); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if len(engine.Submissions) != 1 {
		t.Fatalf("submissions = %d, want 1", len(engine.Submissions))
	}
	program := engine.Submissions[0]
	if !strings.HasPrefix(program, resetSentinel) {
		t.Error("program is not prefixed with the reset sentinel")
	}
	if !strings.HasSuffix(strings.TrimRight(program, "\n"), resetSentinel) {
		t.Error("program is not suffixed with the reset sentinel")
	}
	if !strings.Contains(program, "data work.a; run;") {
		t.Error("program does not contain the user code")
	}
	if engine.Resets != 1 {
		t.Errorf("resets = %d, want 1 (unconditional reset after submit)", engine.Resets)
	}
}

func TestSubmitErrorThenRecover(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.FailOn = "dta work.bad"
	s := newTestSession(t, engine, nil)

	bad, err := s.Submit("dta work.bad; run;", nil)
	if err != nil {
		t.Fatalf("Submit() of invalid code failed: %v", err)
	}
	if !strings.Contains(bad.Log, "ERROR") {
		t.Errorf("log of invalid submission lacks diagnostics: %q", bad.Log)
	}

	good, err := s.Submit("data work.ok; run;", nil)
	if err != nil {
		t.Fatalf("Submit() after error failed: %v", err)
	}
	if strings.Contains(good.Log, "error state") {
		t.Errorf("parser was not reset between submissions: %q", good.Log)
	}
	if engine.ErrState() {
		t.Error("engine is still in error state after recovery")
	}
}

func TestSubmitHTMLCapture(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.NextListing = "The MEANS Procedure"

	cfg := DefaultConfig()
	s := newTestSession(t, engine, cfg)

	result, err := s.Submit("proc means data=work.a; run;", nil)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if !strings.Contains(result.Listing, "The MEANS Procedure") {
		t.Errorf("listing lacks captured output: %q", result.Listing)
	}
	if strings.Contains(result.Listing, "\x0c") {
		t.Error("form feed was not replaced in rich output")
	}
	if strings.Contains(result.Listing, `<body class="c body">`) {
		t.Error("body selector was not rewritten in rich output")
	}
	if strings.Contains(result.Listing, "font-size: x-small;") {
		t.Error("font size was not rewritten in rich output")
	}
}

func TestSubmitTextListing(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.NextListing = "plain listing"

	cfg := DefaultConfig()
	cfg.Output = "text"
	s := newTestSession(t, engine, cfg)

	result, err := s.Submit("proc print data=work.a; run;", nil)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if result.Listing != "plain listing" {
		t.Errorf("listing = %q, want %q", result.Listing, "plain listing")
	}
	if strings.Contains(engine.Submissions[0], "ods ") {
		t.Error("text output must not wrap the program in ods statements")
	}
}

func TestSubmitPrompts(t *testing.T) {
	engine := iomtest.NewEngine()
	prompter := &scriptedPrompter{values: []string{"", "alice", "s3cret"}}

	s := New(DefaultConfig(), engine.Factory(), WithPrompter(prompter))
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	prompts := []MacroPrompt{
		{Name: "user", Hidden: false},
		{Name: "pass", Hidden: true},
	}
	if _, err := s.Submit("%put &user &pass;", prompts); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	program := engine.Submissions[0]
	if !strings.Contains(program, "%let user = alice;") {
		t.Errorf("program lacks the user macro assignment: %q", program)
	}
	if !strings.Contains(program, "%let pass = s3cret;") {
		t.Errorf("program lacks the pass macro assignment: %q", program)
	}
	// Пустой ввод повторяет запрос: три обращения на два макроса
	if len(prompter.messages) != 3 {
		t.Errorf("prompt calls = %d, want 3 (empty input re-prompts)", len(prompter.messages))
	}

	letUser := strings.Index(program, "%let user")
	letPass := strings.Index(program, "%let pass")
	if letUser < 0 || letPass < 0 || letUser > letPass {
		t.Error("macro assignments are out of prompt order")
	}
}

func TestSubmitPromptCancelled(t *testing.T) {
	engine := iomtest.NewEngine()
	prompter := &scriptedPrompter{err: ErrPromptCancelled}

	s := New(DefaultConfig(), engine.Factory(), WithPrompter(prompter))
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	_, err := s.Submit("%put &x;", []MacroPrompt{{Name: "x"}})
	if !errors.Is(err, ErrPromptCancelled) {
		t.Fatalf("Submit() error = %v, want ErrPromptCancelled", err)
	}
	if len(engine.Submissions) != 0 {
		t.Error("cancelled prompt must abort the submission before it reaches the engine")
	}
}

func TestSessionLogAccumulates(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine, nil)

	if _, err := s.Submit("data work.a; run;", nil); err != nil {
		t.Fatalf("first Submit() failed: %v", err)
	}
	first := len(s.Log())
	if first == 0 {
		t.Fatal("session log is empty after a submission")
	}

	if _, err := s.Submit("data work.b; run;", nil); err != nil {
		t.Fatalf("second Submit() failed: %v", err)
	}
	if len(s.Log()) <= first {
		t.Error("session log did not grow after the second submission")
	}
}

func TestReadWriteFile(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine, nil)

	payload := []byte(strings.Repeat("binary payload ", 500))
	if err := s.WriteFile("/tmp/data.bin", payload, ""); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	got, err := s.ReadFile("/tmp/data.bin")
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("ReadFile() returned %d bytes, want %d", len(got), len(payload))
	}
}

func TestReadFileMissing(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine, nil)

	if _, err := s.ReadFile("/tmp/no_such_file"); err == nil {
		t.Fatal("ReadFile() of a missing file should fail")
	}
}

func TestOperationsRequireOpenSession(t *testing.T) {
	s := New(DefaultConfig(), iomtest.NewEngine().Factory())

	if _, err := s.Submit("data a; run;", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Submit() on unopened session = %v, want ErrNotConnected", err)
	}
	if _, err := s.FlushLog(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("FlushLog() on unopened session = %v, want ErrNotConnected", err)
	}
	if _, err := s.ReadFile("/tmp/x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadFile() on unopened session = %v, want ErrNotConnected", err)
	}
	if _, err := s.Connection(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connection() on unopened session = %v, want ErrNotConnected", err)
	}
}

func TestSaveLogRoundTrip(t *testing.T) {
	engine := iomtest.NewEngine()
	s := newTestSession(t, engine, nil)

	if _, err := s.Submit("data work.a; run;", nil); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	dir := t.TempDir()
	for _, name := range []string{"session.log", "session.log.zst"} {
		path := filepath.Join(dir, name)
		if err := s.SaveLog(path); err != nil {
			t.Fatalf("SaveLog(%s) failed: %v", name, err)
		}
		got, err := LoadArchivedLog(path)
		if err != nil {
			t.Fatalf("LoadArchivedLog(%s) failed: %v", name, err)
		}
		if got != s.Log() {
			t.Errorf("archived log %s does not match the session log", name)
		}
	}
}

func TestDecodeBytes(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		input    []byte
		want     string
		wantErr  bool
	}{
		{"utf-8 passthrough", "utf-8", []byte("привет"), "привет", false},
		{"empty encoding", "", []byte("plain"), "plain", false},
		{"latin1", "iso-8859-1", []byte{0x63, 0x61, 0x66, 0xe9}, "café", false},
		{"unknown encoding", "no-such-charset", []byte("x"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBytes(tt.input, tt.encoding)
			if tt.wantErr {
				if err == nil {
					t.Fatal("decodeBytes() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeBytes() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeBytes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	encoded, err := encodeString("café", "iso-8859-1")
	if err != nil {
		t.Fatalf("encodeString() failed: %v", err)
	}
	decoded, err := decodeBytes(encoded, "iso-8859-1")
	if err != nil {
		t.Fatalf("decodeBytes() failed: %v", err)
	}
	if decoded != "café" {
		t.Errorf("round trip = %q, want %q", decoded, "café")
	}
}

func TestCursorOptionsFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenRows = 500
	cfg.PageSize = 128
	cfg.CacheSize = 10

	engine := iomtest.NewEngine()
	s := newTestSession(t, engine, cfg)

	opts := s.CursorOptions()
	want := iom.CursorOptions{MaxOpenRows: 500, PageSize: 128, CacheSize: 10}
	if opts != want {
		t.Errorf("CursorOptions() = %+v, want %+v", opts, want)
	}
}
