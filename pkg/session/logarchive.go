package session

import (
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// SaveLog сохраняет накопительный журнал сессии в локальный файл.
// Расширение .zst включает сжатие zstd - журналы длинных сессий
// сжимаются на порядок.
func (s *Session) SaveLog(path string) error {
	data := []byte(s.sessionLog.String())

	if strings.HasSuffix(path, ".zst") {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		data = encoder.EncodeAll(data, nil)
		encoder.Close()
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write log file: %w", err)
	}

	s.logger.Info().Str("path", path).Int("bytes", len(data)).Msg("session log saved")
	return nil
}

// LoadArchivedLog читает сохраненный журнал, распаковывая .zst при
// необходимости.
func LoadArchivedLog(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read log file: %w", err)
	}

	if strings.HasSuffix(path, ".zst") {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return "", fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer decoder.Close()

		decoded, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return "", fmt.Errorf("failed to decompress log file: %w", err)
		}
		data = decoded
	}
	return string(data), nil
}
