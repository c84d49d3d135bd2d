package iom

import (
	"context"
	"errors"
	"fmt"
)

// Protocol определяет транспорт объектного брокера SAS Integration Technologies.
type Protocol int

// Значения SASObjectManager.Protocols
const (
	ProtocolCOM Protocol = 0 // Локальный COM (host не задан)
	ProtocolIOM Protocol = 2 // Удаленный IOM bridge
)

// StreamMode определяет режим открытия бинарного потока FileService.
type StreamMode int

// Значения FileService StreamOpenMode
const (
	StreamRead  StreamMode = 1
	StreamWrite StreamMode = 2
)

// Sentinel errors брокерного уровня.
var (
	// ErrUnsupportedPlatform - COM-реализация доступна только на Windows
	ErrUnsupportedPlatform = errors.New("IOM COM broker is only supported on Windows platforms")

	// ErrStreamClosed - операция над закрытым бинарным потоком
	ErrStreamClosed = errors.New("binary stream is closed")
)

// ServerDef описывает сервер SAS, к которому подключается брокер.
// Host пустой = локальный loopback без учетных данных (ProtocolCOM).
type ServerDef struct {
	Host     string
	Port     int
	Protocol Protocol
	ClassID  string // Идентификатор класса workspace-сервера (обязателен для IOM)
	User     string
	Password string
}

// Validate проверяет полноту определения сервера для удаленного режима.
func (d ServerDef) Validate() error {
	if d.Protocol != ProtocolIOM {
		return nil
	}
	if d.Host == "" {
		return fmt.Errorf("host is required for IOM protocol")
	}
	if d.Port <= 0 {
		return fmt.Errorf("port is required for IOM protocol (got %d)", d.Port)
	}
	if d.ClassID == "" {
		return fmt.Errorf("class_id is required for IOM protocol")
	}
	return nil
}

// Factory создает удаленные объекты движка. Единая точка входа брокера:
// workspace для вычислений и ADO-соединение поверх его идентификатора.
type Factory interface {
	// CreateWorkspace создает и регистрирует workspace на сервере.
	// Любая ошибка брокера фатальна для вызова - повторных попыток нет.
	CreateWorkspace(ctx context.Context, def ServerDef) (Workspace, error)

	// OpenConnection открывает соединение поставщика данных поверх
	// живого workspace (Data Source=iom-id://<identifier>).
	OpenConnection(ctx context.Context, provider, workspaceID string) (Connection, error)
}

// Workspace - дескриптор одной живой вычислительной сессии движка.
type Workspace interface {
	// UniqueIdentifier возвращает идентификатор workspace на сервере.
	UniqueIdentifier() string

	LanguageService() LanguageService
	FileService() FileService

	// Close снимает workspace с регистрации и освобождает дескриптор.
	// Повторный вызов безопасен.
	Close() error
}

// LanguageService - канал отправки программ и выкачивания журналов.
type LanguageService interface {
	// Submit передает текст программы движку. Локальной валидации нет.
	Submit(code string) error

	// FlushLog читает очередной фрагмент журнала, не более n байт.
	// Пустой результат означает конец потока.
	FlushLog(n int) (string, error)

	// FlushList читает очередной фрагмент текстового листинга, не более n байт.
	FlushList(n int) (string, error)

	// Reset сбрасывает состояние сканера токенов. Единственный способ
	// вывести парсер из error state после незавершенного ввода.
	Reset() error
}

// FileService - доступ к файловой системе на стороне движка.
type FileService interface {
	// AssignFileref назначает fileref на путь. options - строка опций
	// оператора filename (например PERMISSION='...').
	AssignFileref(name, device, path, options string) (Fileref, error)

	// DeassignFileref снимает назначение fileref.
	DeassignFileref(name string) error
}

// Fileref - назначенная файловая ссылка движка.
type Fileref interface {
	Name() string

	// OpenBinaryStream открывает бинарный поток чтения или записи.
	// Бинарный интерфейс не ограничивает длину строки, что позволяет
	// передавать произвольно широкие таблицы и нетекстовые файлы.
	OpenBinaryStream(mode StreamMode) (BinaryStream, error)
}

// BinaryStream - поток с ручной прокачкой ограниченными буферами.
type BinaryStream interface {
	// Read читает до n байт. Пустой срез означает конец потока.
	Read(n int) ([]byte, error)

	// Write записывает весь буфер за один вызов.
	Write(p []byte) error

	Close() error
}

// Connection - соединение поставщика данных поверх workspace.
type Connection interface {
	// Execute выполняет SQL-оператор (create table / insert).
	Execute(statement string) error

	// OpenSchema открывает курсор метаданных колонок для полного пути таблицы.
	OpenSchema(tablePath string) (SchemaCursor, error)

	// OpenTable открывает forward-only read-only курсор по таблице.
	OpenTable(tablePath string, opts CursorOptions) (RowCursor, error)

	Close() error
}

// CursorOptions управляет серверным кэшированием при обходе таблицы.
type CursorOptions struct {
	MaxOpenRows int // Серверный кэш строк (Maximum Open Rows)
	PageSize    int // Буфер скачивания (SAS Page Size)
	CacheSize   int // Клиентский кэш записей (CacheSize)
}

// ColumnInfo - одна строка ответа на запрос метаданных колонок.
type ColumnInfo struct {
	Name          string
	FormatName    string
	FormatLength  int
	FormatDecimal int
}

// SchemaCursor - курсор по метаданным колонок таблицы.
type SchemaCursor interface {
	// Next возвращает следующую колонку. ok=false - конец набора.
	Next() (info ColumnInfo, ok bool, err error)
	Close() error
}

// RowCursor - серверный курсор по строкам таблицы.
type RowCursor interface {
	// Columns возвращает имена колонок в порядке набора.
	Columns() []string

	// Next возвращает следующую строку. ok=false - конец набора.
	// Числовые значения движка приходят как float64, пропуски как nil.
	Next() (row []any, ok bool, err error)

	Close() error
}
