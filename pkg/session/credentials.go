package session

import (
	"fmt"

	"github.com/99designs/keyring"
)

// Имя сервиса в системном хранилище учетных данных.
const keyringService = "sasiom"

// ResolvePassword возвращает пароль для подключения в порядке приоритета:
// явное значение конфигурации, системное хранилище учетных данных,
// интерактивный запрос со скрытым вводом.
func (c *Config) ResolvePassword(prompter Prompter) (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	if c.User == "" {
		return "", nil
	}

	if password, err := keychainPassword(c.User); err == nil && password != "" {
		return password, nil
	}

	if prompter == nil {
		return "", nil
	}
	password, err := prompter.Prompt(fmt.Sprintf("Enter password for user %s", c.User), true)
	if err != nil {
		return "", err
	}
	return password, nil
}

// keychainPassword ищет пароль пользователя в системном хранилище.
func keychainPassword(user string) (string, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := ring.Get(user)
	if err != nil {
		return "", fmt.Errorf("failed to read keyring entry for %s: %w", user, err)
	}
	return string(item.Data), nil
}

// StorePassword сохраняет пароль пользователя в системном хранилище.
func StorePassword(user, password string) error {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
	})
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	if err := ring.Set(keyring.Item{Key: user, Data: []byte(password)}); err != nil {
		return fmt.Errorf("failed to store keyring entry for %s: %w", user, err)
	}
	return nil
}
