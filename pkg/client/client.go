// Package client - фасад над сессией движка: выполнение программ,
// обмен таблицами и файлами, экспорт результатов. Объединяет пакеты
// session, dataset и transfer в один рабочий интерфейс и публикует
// итоги отправок во внешнее хранилище, если оно настроено.
package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/sasiom/pkg/dataset"
	"github.com/ruslano69/sasiom/pkg/iom"
	"github.com/ruslano69/sasiom/pkg/resultlog"
	"github.com/ruslano69/sasiom/pkg/session"
	"github.com/ruslano69/sasiom/pkg/transfer"
	"github.com/ruslano69/sasiom/pkg/xlsx"
)

// Client владеет одной сессией движка и опциональным публикатором
// итогов отправок.
type Client struct {
	session     *session.Session
	publisher   *resultlog.RedisPublisher
	logger      zerolog.Logger
	workspaceID string
}

// New создает клиента поверх фабрики брокера. Публикатор итогов
// включается конфигурацией result_log.
func New(cfg *session.Config, factory iom.Factory, opts ...session.Option) *Client {
	c := &Client{
		session: session.New(cfg, factory, opts...),
		logger:  zerolog.Nop(),
	}
	if cfg.ResultLog.Type == "redis" {
		c.publisher = resultlog.NewRedisPublisher(cfg.ResultLog)
	}
	return c
}

// SetLogger задает структурный логгер клиента.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Session возвращает сессию для операций, не покрытых фасадом.
func (c *Client) Session() *session.Session {
	return c.session
}

// Connect открывает сессию и возвращает идентификатор workspace.
func (c *Client) Connect(ctx context.Context) (string, error) {
	id, err := c.session.Open(ctx)
	if err != nil {
		return "", err
	}
	c.workspaceID = id
	return id, nil
}

// Close завершает сессию и публикатор.
func (c *Client) Close() error {
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close result publisher")
		}
	}
	return c.session.Close()
}

// Submit выполняет программу и, если настроено, публикует итог отправки.
func (c *Client) Submit(ctx context.Context, code string, prompts []session.MacroPrompt) (*session.Result, error) {
	submittedAt := time.Now()
	result, err := c.session.Submit(code, prompts)
	finishedAt := time.Now()

	if c.publisher != nil {
		if pubErr := c.publisher.Publish(ctx, c.workspaceID, submittedAt, finishedAt, result, err); pubErr != nil {
			c.logger.Warn().Err(pubErr).Msg("failed to publish submission result")
		}
	}
	return result, err
}

// Exist проверяет наличие таблицы на движке.
func (c *Client) Exist(tablePath string) (bool, error) {
	conn, err := c.session.Connection()
	if err != nil {
		return false, err
	}
	return dataset.Exists(conn, tablePath)
}

// Read выгружает таблицу курсором с конверсией типов.
func (c *Client) Read(tablePath string, opts *dataset.Options) (*dataset.TableResult, error) {
	return dataset.Read(c.session, tablePath, opts)
}

// ReadCSV выгружает таблицу через CSV-путь.
func (c *Client) ReadCSV(tablePath string, opts *dataset.Options) (*dataset.TableResult, error) {
	return dataset.ReadCSV(c.session, tablePath, opts)
}

// Write создает таблицу по схеме кадра и загружает его строки.
func (c *Client) Write(frame *dataset.Frame, tablePath string) error {
	return dataset.WriteFrame(c.session, frame, tablePath)
}

// ExportCSV выгружает таблицу в CSV-файл на стороне движка.
func (c *Client) ExportCSV(tablePath, remotePath string, opts *dataset.Options) (*session.Result, error) {
	return dataset.ExportCSV(c.session, tablePath, remotePath, opts)
}

// ImportCSV загружает CSV-файл движка в таблицу.
func (c *Client) ImportCSV(remotePath, tablePath string) (*session.Result, error) {
	return dataset.ImportCSV(c.session, remotePath, tablePath)
}

// Upload загружает локальный файл на движок.
func (c *Client) Upload(localPath, remotePath string, opts *transfer.Options) (*transfer.Result, error) {
	return transfer.Upload(c.session, localPath, remotePath, opts)
}

// Download скачивает файл движка в локальный путь.
func (c *Client) Download(remotePath, localPath string, opts *transfer.Options) (*transfer.Result, error) {
	return transfer.Download(c.session, remotePath, localPath, opts)
}

// SessionLog возвращает накопительный журнал сессии.
func (c *Client) SessionLog() string {
	return c.session.Log()
}

// SaveLog сохраняет накопительный журнал в локальный файл.
func (c *Client) SaveLog(path string) error {
	return c.session.SaveLog(path)
}

// ToXLSX выгружает таблицу и сохраняет её Excel-файлом.
func (c *Client) ToXLSX(tablePath, filePath, sheetName string, opts *dataset.Options) error {
	result, err := dataset.Read(c.session, tablePath, opts)
	if err != nil {
		return err
	}
	return xlsx.ToXLSX(result, filePath, sheetName)
}

// FromXLSX читает Excel-файл и загружает его таблицей на движок.
func (c *Client) FromXLSX(filePath, sheetName, tablePath string) error {
	frame, err := xlsx.FromXLSX(filePath, sheetName)
	if err != nil {
		return err
	}
	return dataset.WriteFrame(c.session, frame, tablePath)
}
