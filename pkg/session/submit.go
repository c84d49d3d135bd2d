package session

import (
	"fmt"
	"strings"
)

// resetSentinel закрывает незакрытые кавычки, комментарии и шаги
// предыдущей программы. Обрамляет каждую отправку с обеих сторон.
const resetSentinel = `;*';*";*/;quit;run;`

// Result - результат одной отправки: журнал и листинг. Журнал
// возвращается и при ошибочной программе - диагностика в нем.
type Result struct {
	Log     string
	Listing string
}

// Submit выполняет программу с обрамлением sentinel-строками, подстановкой
// запрошенных макропеременных и захватом rich-вывода. После выполнения
// парсер языкового сервиса безусловно сбрасывается, поэтому следующая
// отправка начинается с чистого состояния даже после синтаксической ошибки.
func (s *Session) Submit(code string, prompts []MacroPrompt) (*Result, error) {
	return s.SubmitFormat(code, s.cfg.Output, prompts)
}

// SubmitFormat выполняет программу с переопределением назначения вывода
// для одной отправки, не трогая конфигурацию сессии.
func (s *Session) SubmitFormat(code, output string, prompts []MacroPrompt) (*Result, error) {
	if s.ws == nil {
		return nil, ErrNotConnected
	}

	preamble, err := s.renderPrompts(prompts)
	if err != nil {
		return nil, err
	}

	htmlCapture := strings.HasPrefix(output, "html")

	var program strings.Builder
	program.WriteString(resetSentinel)
	program.WriteString("\n")
	program.WriteString(preamble)
	if htmlCapture {
		program.WriteString(s.odsOpen(output))
	}
	program.WriteString(code)
	if htmlCapture {
		program.WriteString(s.odsClose(output))
	}
	program.WriteString("\n")
	program.WriteString(resetSentinel)
	program.WriteString("\n")

	ls := s.ws.LanguageService()
	defer func() {
		if err := ls.Reset(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to reset language service")
		}
	}()

	if err := ls.Submit(program.String()); err != nil {
		return nil, fmt.Errorf("failed to submit program: %w", err)
	}

	log, err := s.FlushLog()
	if err != nil {
		return nil, err
	}

	listing := ""
	if htmlCapture {
		listing = s.readCapture()
	} else {
		listing, err = s.FlushList()
		if err != nil {
			return nil, err
		}
	}

	return &Result{Log: log, Listing: listing}, nil
}

// renderPrompts запрашивает значения макропеременных в заданном порядке
// и строит преамбулу из операторов %let. Отмена любого запроса отменяет
// отправку целиком.
func (s *Session) renderPrompts(prompts []MacroPrompt) (string, error) {
	if len(prompts) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, p := range prompts {
		value, err := promptValue(s.prompter, p.Name, p.Hidden)
		if err != nil {
			return "", fmt.Errorf("prompt for %s failed: %w", p.Name, err)
		}
		fmt.Fprintf(&b, "%%let %s = %s;\n", p.Name, value)
	}
	return b.String(), nil
}

// odsOpen открывает захват rich-вывода в capture-файл рабочего каталога.
func (s *Session) odsOpen(output string) string {
	return fmt.Sprintf(
		"ods listing close;ods %s (id=sasiom) file=\"%s\" options(bitmap_mode='inline') device=svg style=%s; ods graphics on / outputfmt=png;\n",
		output, s.HTMLResultPath(), s.cfg.Style)
}

// odsClose завершает захват и возвращает листинговое назначение.
func (s *Session) odsClose(output string) string {
	return fmt.Sprintf("\nods %s (id=sasiom) close;ods listing;\n", output)
}

// readCapture читает capture-файл rich-вывода и применяет настроенные
// правки. Отсутствие файла не фатально: ошибочная программа могла не
// произвести вывод, диагностика остается в журнале.
func (s *Session) readCapture() string {
	text, err := s.ReadFileText(s.HTMLResultPath())
	if err != nil {
		s.logger.Debug().Err(err).Msg("no rich output captured")
		return ""
	}
	return applyFixups(text, s.cfg.Fixups)
}

// applyFixups последовательно применяет правила подстановки к rich-выводу.
func applyFixups(text string, fixups []Fixup) string {
	for _, f := range fixups {
		text = strings.ReplaceAll(text, f.Old, f.New)
	}
	return text
}
