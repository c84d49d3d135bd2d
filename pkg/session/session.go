// Package session реализует жизненный цикл сессии движка и отправку
// программ через объектный брокер: open → ready → (error ⇄ ready) → closed,
// прокачку журналов и листингов ограниченными буферами и безусловный
// сброс парсера после каждой отправки.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ruslano69/sasiom/pkg/iom"
)

// Sentinel errors уровня сессии.
var (
	// ErrNotConnected - операция требует открытой сессии
	ErrNotConnected = errors.New("session is not open")

	// ErrSessionClosed - сессия закрыта и не может быть открыта повторно
	ErrSessionClosed = errors.New("session is closed")
)

// Имена fileref для файловых операций.
const (
	filerefOut = "outfile"
	filerefIn  = "infile"
)

// Имя capture-файла rich-вывода в рабочем каталоге движка.
const htmlResultFile = "sasiom_results.html"

// Session владеет дескрипторами workspace и connection одной сессии движка.
// Все операции последовательны и блокирующие: одна отправка или передача
// за раз. Накопительный журнал пополняется при каждой прокачке лога и
// доступен после любой отправки, успешной или нет.
type Session struct {
	cfg      *Config
	factory  iom.Factory
	logger   zerolog.Logger
	prompter Prompter

	ws   iom.Workspace
	conn iom.Connection

	sessionLog strings.Builder
	closed     bool
}

// Option настраивает сессию при создании.
type Option func(*Session)

// WithLogger задает структурный логгер сессии.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
		s.cfg.SetLogger(logger)
	}
}

// WithPrompter задает источник интерактивного ввода для макропеременных
// и паролей.
func WithPrompter(p Prompter) Option {
	return func(s *Session) { s.prompter = p }
}

// New создает сессию поверх фабрики брокера. Сессия не открыта:
// подключение выполняет Open.
func New(cfg *Config, factory iom.Factory, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		factory:  factory,
		logger:   zerolog.Nop(),
		prompter: TerminalPrompter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config возвращает конфигурацию сессии.
func (s *Session) Config() *Config { return s.cfg }

// Open устанавливает workspace и соединение. Повторный вызов на живой
// сессии - no-op, возвращающий существующий идентификатор. Отказ брокера
// фатален для вызова: повторных попыток нет.
func (s *Session) Open(ctx context.Context) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.ws != nil {
		return s.ws.UniqueIdentifier(), nil
	}

	def := iom.ServerDef{}
	if s.cfg.Host == "" {
		// Локальный loopback-брокер без учетных данных
		def.Host = ""
		def.Protocol = iom.ProtocolCOM
	} else {
		password, err := s.cfg.ResolvePassword(s.prompter)
		if err != nil {
			return "", err
		}
		def = iom.ServerDef{
			Host:     s.cfg.Host,
			Port:     s.cfg.Port,
			Protocol: iom.ProtocolIOM,
			ClassID:  s.cfg.ClassID,
			User:     s.cfg.User,
			Password: password,
		}
	}

	ws, err := s.factory.CreateWorkspace(ctx, def)
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	conn, err := s.factory.OpenConnection(ctx, s.cfg.Provider, ws.UniqueIdentifier())
	if err != nil {
		ws.Close()
		return "", fmt.Errorf("failed to open connection: %w", err)
	}

	s.ws = ws
	s.conn = conn
	s.logger.Info().
		Str("workspace", ws.UniqueIdentifier()).
		Str("host", s.cfg.Host).
		Msg("session opened")
	return ws.UniqueIdentifier(), nil
}

// Close завершает сессию: сначала соединение, затем workspace - иначе
// движок удерживает дескриптор. Повторный вызов безопасен.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close connection")
		}
		s.conn = nil
	}
	if s.ws != nil {
		if err := s.ws.Close(); err != nil {
			s.ws = nil
			return fmt.Errorf("failed to close workspace: %w", err)
		}
		s.ws = nil
	}
	s.logger.Info().Msg("session closed")
	return nil
}

// Connection возвращает соединение поставщика данных открытой сессии.
func (s *Session) Connection() (iom.Connection, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// CursorOptions возвращает настройки серверного кэширования из конфигурации.
func (s *Session) CursorOptions() iom.CursorOptions {
	return iom.CursorOptions{
		MaxOpenRows: s.cfg.MaxOpenRows,
		PageSize:    s.cfg.PageSize,
		CacheSize:   s.cfg.CacheSize,
	}
}

// LanguageSubmit передает программу движку без обрамления и прокачки
// журналов. Быстрый путь для служебных программ, которым не нужен
// ни лог, ни листинг.
func (s *Session) LanguageSubmit(code string) error {
	if s.ws == nil {
		return ErrNotConnected
	}
	return s.ws.LanguageService().Submit(code)
}

// Reset сбрасывает состояние сканера токенов языкового сервиса.
func (s *Session) Reset() error {
	if s.ws == nil {
		return ErrNotConnected
	}
	return s.ws.LanguageService().Reset()
}

// FlushLog выкачивает накопившийся журнал и дописывает его в
// накопительный журнал сессии.
func (s *Session) FlushLog() (string, error) {
	if s.ws == nil {
		return "", ErrNotConnected
	}
	ls := s.ws.LanguageService()
	data, err := Drain(func(n int) ([]byte, error) {
		chunk, err := ls.FlushLog(n)
		if err != nil {
			return nil, err
		}
		return []byte(chunk), nil
	}, s.cfg.BufferSize)
	if err != nil {
		return "", fmt.Errorf("failed to drain log: %w", err)
	}

	s.sessionLog.Write(data)
	return string(data), nil
}

// FlushList выкачивает накопившийся текстовый листинг.
func (s *Session) FlushList() (string, error) {
	if s.ws == nil {
		return "", ErrNotConnected
	}
	ls := s.ws.LanguageService()
	data, err := Drain(func(n int) ([]byte, error) {
		chunk, err := ls.FlushList(n)
		if err != nil {
			return nil, err
		}
		return []byte(chunk), nil
	}, s.cfg.BufferSize)
	if err != nil {
		return "", fmt.Errorf("failed to drain listing: %w", err)
	}
	return string(data), nil
}

// ReadFile скачивает файл движка бинарным потоком через прокачку.
func (s *Session) ReadFile(path string) ([]byte, error) {
	if s.ws == nil {
		return nil, ErrNotConnected
	}
	fs := s.ws.FileService()

	fileref, err := fs.AssignFileref(filerefOut, "DISK", path, "")
	if err != nil {
		return nil, fmt.Errorf("failed to assign fileref for %s: %w", path, err)
	}
	defer fs.DeassignFileref(fileref.Name())

	stream, err := fileref.OpenBinaryStream(iom.StreamRead)
	if err != nil {
		return nil, fmt.Errorf("failed to open read stream for %s: %w", path, err)
	}
	defer stream.Close()

	data, err := Drain(stream.Read, s.cfg.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("failed to drain file %s: %w", path, err)
	}
	return data, nil
}

// ReadFileText скачивает файл движка и декодирует его согласно
// настроенной кодировке.
func (s *Session) ReadFileText(path string) (string, error) {
	data, err := s.ReadFile(path)
	if err != nil {
		return "", err
	}
	return decodeBytes(data, s.cfg.Encoding)
}

// WriteFile загружает содержимое в файл движка одной записью.
// options - строка опций оператора filename (например PERMISSION='...').
func (s *Session) WriteFile(path string, data []byte, options string) error {
	if s.ws == nil {
		return ErrNotConnected
	}
	fs := s.ws.FileService()

	fileref, err := fs.AssignFileref(filerefIn, "DISK", path, options)
	if err != nil {
		return fmt.Errorf("failed to assign fileref for %s: %w", path, err)
	}
	defer fs.DeassignFileref(fileref.Name())

	stream, err := fileref.OpenBinaryStream(iom.StreamWrite)
	if err != nil {
		return fmt.Errorf("failed to open write stream for %s: %w", path, err)
	}

	if err := stream.Write(data); err != nil {
		stream.Close()
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close write stream for %s: %w", path, err)
	}
	return nil
}

// Log возвращает накопительный журнал сессии.
func (s *Session) Log() string {
	return s.sessionLog.String()
}

// HTMLResultPath возвращает путь capture-файла rich-вывода в рабочем
// каталоге движка.
func (s *Session) HTMLResultPath() string {
	return s.cfg.WorkPath + htmlResultFile
}
