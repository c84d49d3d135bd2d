// Package transfer реализует обмен файлами с движком поверх бинарных
// потоков файлового сервиса. Ожидаемые отказы файловой системы
// (отсутствующий файл, недоступный каталог) - не ошибки канала:
// они возвращаются структурным результатом с диагностикой.
package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/ruslano69/sasiom/pkg/session"
)

// Result - итог передачи файла. Success=false означает ожидаемый отказ
// (описание в Log); ошибки канала возвращаются отдельно.
type Result struct {
	Success  bool
	Log      string
	Checksum string // xxh3 содержимого, для сверки сторон
}

// RemoteStater отвечает на вопросы о файловой системе движка: существует
// ли путь и является ли он каталогом. Реализация внешняя по отношению к
// каналу: например, проба через макрофункции движка или знание раскладки
// файловой системы.
type RemoteStater interface {
	IsDir(path string) (bool, error)
	Exists(path string) (bool, error)
}

// Options - настройки передачи.
type Options struct {
	// Permission - выражение прав доступа для создаваемого файла движка,
	// подставляется опцией PERMISSION оператора filename.
	Permission string

	// Overwrite разрешает замену существующего файла движка. Без него
	// загрузка поверх существующего файла - ожидаемый отказ.
	Overwrite bool

	// Stater - опциональный определитель путей на стороне движка.
	// Без него каталогом считается только путь с завершающим
	// разделителем, а проверка существования невозможна.
	Stater RemoteStater
}

// Upload загружает локальный файл на движок. Путь, оканчивающийся
// разделителем движка, трактуется как каталог: имя файла дописывается.
// Существующий файл движка без разрешения Overwrite не заменяется -
// это ожидаемый отказ, проверка существования делегируется Stater-у.
func Upload(s *session.Session, localPath, remotePath string, opts *Options) (*Result, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return failure(fmt.Sprintf("ERROR: Unable to read local file %s: %v.", localPath, err)), nil
	}

	hostSep := s.Config().HostSep
	switch {
	case strings.HasSuffix(remotePath, hostSep):
		remotePath += filepath.Base(localPath)
	case opts != nil && opts.Stater != nil:
		isDir, err := opts.Stater.IsDir(remotePath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat remote path %s: %w", remotePath, err)
		}
		if isDir {
			remotePath += hostSep + filepath.Base(localPath)
		}
	}

	if opts != nil && opts.Stater != nil && !opts.Overwrite {
		exists, err := opts.Stater.Exists(remotePath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat remote path %s: %w", remotePath, err)
		}
		if exists {
			return failure(fmt.Sprintf(
				"ERROR: File %s exists and overwrite was set to false. Upload was stopped.", remotePath)), nil
		}
	}

	var fileOpts string
	if opts != nil && opts.Permission != "" {
		fileOpts = fmt.Sprintf("PERMISSION='%s'", opts.Permission)
	}

	if err := s.WriteFile(remotePath, data, fileOpts); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return nil, err
		}
		return failure(fmt.Sprintf("ERROR: Upload to %s failed: %v.", remotePath, err)), nil
	}

	checksum := fmt.Sprintf("%016x", xxh3.Hash(data))
	return &Result{
		Success:  true,
		Log:      fmt.Sprintf("NOTE: Uploaded %d bytes to %s.", len(data), remotePath),
		Checksum: checksum,
	}, nil
}

// Download скачивает файл движка в локальный путь. Локальный каталог
// трактуется как назначение: имя файла движка дописывается. Каталог на
// стороне движка скачать нельзя - это ожидаемый отказ, не ошибка канала.
func Download(s *session.Session, remotePath, localPath string, opts *Options) (*Result, error) {
	if opts != nil && opts.Stater != nil {
		isDir, err := opts.Stater.IsDir(remotePath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat remote path %s: %w", remotePath, err)
		}
		if isDir {
			return failure(fmt.Sprintf("ERROR: %s is a directory on the engine side.", remotePath)), nil
		}
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, remoteBase(remotePath, s.Config().HostSep))
	}

	data, err := s.ReadFile(remotePath)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return nil, err
		}
		return failure(fmt.Sprintf("ERROR: Download of %s failed: %v.", remotePath, err)), nil
	}

	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return failure(fmt.Sprintf("ERROR: Unable to write local file %s: %v.", localPath, err)), nil
	}

	checksum := fmt.Sprintf("%016x", xxh3.Hash(data))
	return &Result{
		Success:  true,
		Log:      fmt.Sprintf("NOTE: Downloaded %d bytes from %s to %s.", len(data), remotePath, localPath),
		Checksum: checksum,
	}, nil
}

// remoteBase возвращает последний компонент пути на стороне движка.
func remoteBase(path, sep string) string {
	trimmed := strings.TrimRight(path, sep)
	if i := strings.LastIndex(trimmed, sep); i >= 0 {
		return trimmed[i+len(sep):]
	}
	return trimmed
}

func failure(message string) *Result {
	return &Result{Success: false, Log: message}
}
