package session

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
)

// ErrPromptCancelled - пользователь отменил ввод. Отмена любого запроса
// прерывает всю отправку целиком.
var ErrPromptCancelled = errors.New("prompt cancelled by user")

// MacroPrompt описывает один запрашиваемый макрос: имя переменной и
// признак скрытого ввода. Порядок запросов сохраняется.
type MacroPrompt struct {
	Name   string
	Hidden bool
}

// Prompter запрашивает значение у пользователя. Пустая строка означает
// невалидный ввод (вызывающая сторона повторяет запрос), ошибка - отмену.
type Prompter interface {
	Prompt(message string, hidden bool) (string, error)
}

// TerminalPrompter - интерактивный Prompter на pterm с маскированием
// скрытого ввода.
type TerminalPrompter struct{}

// Prompt запрашивает значение в терминале.
func (TerminalPrompter) Prompt(message string, hidden bool) (string, error) {
	input := pterm.DefaultInteractiveTextInput
	if hidden {
		input = *input.WithMask("*")
	}
	value, err := input.Show(message)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPromptCancelled, err.Error())
	}
	return value, nil
}

// promptValue запрашивает значение макропеременной, повторяя запрос
// до непустого ввода.
func promptValue(p Prompter, key string, hidden bool) (string, error) {
	for {
		value, err := p.Prompt(fmt.Sprintf("Enter value for macro variable %s", key), hidden)
		if err != nil {
			return "", err
		}
		if value != "" {
			return value, nil
		}
		pterm.Println("Input not valid.")
	}
}
