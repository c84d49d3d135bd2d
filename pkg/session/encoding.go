package session

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// decodeBytes декодирует байты движка в UTF-8 согласно именованной
// кодировке IANA. Для utf-8 декодирование не требуется.
func decodeBytes(data []byte, name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" || normalized == "utf-8" || normalized == "utf8" {
		return string(data), nil
	}

	enc, err := ianaindex.IANA.Encoding(normalized)
	if err != nil || enc == nil {
		return "", fmt.Errorf("unknown encoding %q: %w", name, err)
	}

	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s data: %w", name, err)
	}
	return string(decoded), nil
}

// encodeString кодирует строку UTF-8 в байты именованной кодировки IANA.
func encodeString(text string, name string) ([]byte, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" || normalized == "utf-8" || normalized == "utf8" {
		return []byte(text), nil
	}

	enc, err := ianaindex.IANA.Encoding(normalized)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}

	encoded, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s data: %w", name, err)
	}
	return encoded, nil
}
