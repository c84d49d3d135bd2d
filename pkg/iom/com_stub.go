//go:build !windows
// +build !windows

package iom

import "context"

// COMFactory заглушка для не-Windows платформ.
type COMFactory struct{}

// NewFactory создает COM-фабрику (заглушка для не-Windows).
func NewFactory() (Factory, error) {
	return nil, ErrUnsupportedPlatform
}

// CreateWorkspace заглушка.
func (f *COMFactory) CreateWorkspace(ctx context.Context, def ServerDef) (Workspace, error) {
	return nil, ErrUnsupportedPlatform
}

// OpenConnection заглушка.
func (f *COMFactory) OpenConnection(ctx context.Context, provider, workspaceID string) (Connection, error) {
	return nil, ErrUnsupportedPlatform
}

// Close заглушка.
func (f *COMFactory) Close() error {
	return ErrUnsupportedPlatform
}
