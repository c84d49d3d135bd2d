package session

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Значения по умолчанию для параметров подключения и обмена.
const (
	DefaultEncoding    = "utf-8"
	DefaultMaxOpenRows = 100  // Серверный кэш строк курсора
	DefaultPageSize    = 55   // Буфер скачивания страниц
	DefaultCacheSize   = 1    // Клиентский кэш записей
	DefaultBufferSize  = 2048 // Размер буфера прокачки потоков
	DefaultOutput      = "html5"
	DefaultStyle       = "HTMLBlue"
	DefaultProvider    = "sas.iomprovider"
	DefaultHostSep     = "/"
)

// Fixup - одно правило подстановки, применяемое к rich-выводу после
// чтения capture-файла. Правила конфигурируемы, чтобы поддерживать
// альтернативные рендереры без правки кода.
type Fixup struct {
	Old string `yaml:"old"`
	New string `yaml:"new"`
}

// DefaultFixups возвращает исторический набор правок HTML-вывода:
// form feed превращается в перевод строки, селектор body меняется
// на листинговый, базовый размер шрифта увеличивается.
func DefaultFixups() []Fixup {
	return []Fixup{
		{Old: "\x0c", New: "\n"},
		{Old: `<body class="c body">`, New: `<body class="l body">`},
		{Old: "font-size: x-small;", New: "font-size: normal;"},
	}
}

// ResultLogConfig определяет публикацию результатов отправок в Redis.
// Пустой Type отключает публикацию.
type ResultLogConfig struct {
	Type     string `yaml:"type"`     // Тип: redis (пустое = отключено)
	Address  string `yaml:"address"`  // Адрес Redis, например "127.0.0.1:6379"
	Name     string `yaml:"name"`     // Имя сессии (ключ/канал)
	Password string `yaml:"password"` // Пароль Redis (опционально)
	DB       int    `yaml:"db"`       // Индекс базы данных Redis
	TTL      int    `yaml:"ttl"`      // TTL ключа состояния в секундах
}

// Config - неизменяемый снимок параметров подключения и обмена.
// Host пустой = локальный loopback-брокер без учетных данных.
type Config struct {
	Host     string `yaml:"host"`     // Хост IOM-сервера (пустое = локальный режим)
	Port     int    `yaml:"port"`     // Порт IOM-сервера
	User     string `yaml:"user"`     // Пользователь (опционально)
	Password string `yaml:"password"` // Пароль (опционально, см. ResolvePassword)
	ClassID  string `yaml:"class_id"` // Идентификатор класса workspace-сервера
	Provider string `yaml:"provider"` // Имя поставщика данных для соединения

	Encoding    string `yaml:"encoding"`      // Кодировка текстовых потоков движка
	MaxOpenRows int    `yaml:"max_open_rows"` // Серверный кэш строк курсора
	PageSize    int    `yaml:"pagesize"`      // Буфер скачивания страниц
	CacheSize   int    `yaml:"cachesize"`     // Клиентский кэш записей
	BufferSize  int    `yaml:"buffer_size"`   // Размер буфера прокачки потоков

	Output   string `yaml:"output"`   // ODS-назначение rich-вывода
	Style    string `yaml:"style"`    // Стиль rich-вывода
	WorkPath string `yaml:"workpath"` // Рабочий каталог движка (с завершающим разделителем)
	HostSep  string `yaml:"hostsep"`  // Разделитель путей на стороне движка

	// LockDown запрещает переопределение параметров после загрузки
	// конфигурации: Override предупреждает и игнорирует значение.
	LockDown bool `yaml:"lock_down"`

	Fixups    []Fixup         `yaml:"fixups"`     // Правки rich-вывода (пустое = DefaultFixups)
	ResultLog ResultLogConfig `yaml:"result_log"` // Публикация результатов отправок

	logger zerolog.Logger
}

// DefaultConfig возвращает конфигурацию локального режима со значениями
// по умолчанию.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig загружает YAML-конфигурацию из файла и дополняет значения
// по умолчанию.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults дополняет незаполненные поля значениями по умолчанию.
func (c *Config) applyDefaults() {
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.MaxOpenRows <= 0 {
		c.MaxOpenRows = DefaultMaxOpenRows
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Style == "" {
		c.Style = DefaultStyle
	}
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.HostSep == "" {
		c.HostSep = DefaultHostSep
	}
	if len(c.Fixups) == 0 {
		c.Fixups = DefaultFixups()
	}
	c.logger = zerolog.Nop()
}

// Validate проверяет согласованность параметров удаленного режима.
func (c *Config) Validate() error {
	if c.Host == "" {
		return nil // Локальный режим: порт и class_id не требуются
	}
	if c.Port <= 0 {
		return fmt.Errorf("port is required when host is set (got %d)", c.Port)
	}
	if c.ClassID == "" {
		return fmt.Errorf("class_id is required when host is set")
	}
	return nil
}

// SetLogger задает логгер для предупреждений политики переопределения.
func (c *Config) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Override пытается переопределить поле конфигурации по имени.
// При включенном LockDown значение игнорируется с предупреждением -
// это намеренная политика безопасности, а не ошибка. Возвращает true,
// если значение применено.
func (c *Config) Override(field string, value any) (bool, error) {
	if c.LockDown {
		c.logger.Warn().
			Str("field", field).
			Msg("override ignored due to configuration lock")
		fmt.Fprintf(os.Stderr, "Param '%s' was ignored due to configuration restriction\n", field)
		return false, nil
	}

	switch field {
	case "host":
		return true, assign(&c.Host, field, value)
	case "port":
		return true, assignInt(&c.Port, field, value)
	case "user":
		return true, assign(&c.User, field, value)
	case "password":
		return true, assign(&c.Password, field, value)
	case "class_id":
		return true, assign(&c.ClassID, field, value)
	case "provider":
		return true, assign(&c.Provider, field, value)
	case "encoding":
		return true, assign(&c.Encoding, field, value)
	case "max_open_rows":
		return true, assignInt(&c.MaxOpenRows, field, value)
	case "pagesize":
		return true, assignInt(&c.PageSize, field, value)
	case "cachesize":
		return true, assignInt(&c.CacheSize, field, value)
	case "buffer_size":
		return true, assignInt(&c.BufferSize, field, value)
	case "output":
		return true, assign(&c.Output, field, value)
	case "style":
		return true, assign(&c.Style, field, value)
	case "workpath":
		return true, assign(&c.WorkPath, field, value)
	case "hostsep":
		return true, assign(&c.HostSep, field, value)
	default:
		return false, fmt.Errorf("unknown configuration field: %s", field)
	}
}

func assign(dst *string, field string, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %s expects a string, got %T", field, value)
	}
	*dst = s
	return nil
}

func assignInt(dst *int, field string, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case int64:
		*dst = int(v)
	case float64:
		*dst = int(v)
	default:
		return fmt.Errorf("field %s expects an integer, got %T", field, value)
	}
	return nil
}
