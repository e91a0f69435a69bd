package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "GraphLink"

	// KeyringUsernameItem is the key for the database username
	KeyringUsernameItem = "db-username"

	// KeyringPasswordItem is the key for the database password
	KeyringPasswordItem = "db-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SavePassword stores the database password securely in the OS keychain
// This uses OS-level encryption:
// - macOS: Keychain Access.app → "GraphLink" → "db-password"
// - Windows: Credential Manager → "GraphLink"
// - Linux: Secret Service (requires libsecret)
func (km *KeyringManager) SavePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	err := keyring.Set(KeyringService, KeyringPasswordItem, password)
	if err != nil {
		km.logger.Error("failed to save password to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("password saved to keychain", "service", KeyringService)
	return nil
}

// GetPassword retrieves the database password from the OS keychain
func (km *KeyringManager) GetPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringPasswordItem)
	if err == keyring.ErrNotFound {
		// Not an error - just not set yet
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get password from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("password retrieved from keychain")
	return password, nil
}

// DeletePassword removes the database password from the OS keychain
func (km *KeyringManager) DeletePassword() error {
	err := keyring.Delete(KeyringService, KeyringPasswordItem)
	if err == keyring.ErrNotFound {
		// Already deleted, not an error
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete password from keychain", "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("password deleted from keychain")
	return nil
}

// SaveUsername stores the database username in the OS keychain
func (km *KeyringManager) SaveUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringUsernameItem, username); err != nil {
		km.logger.Error("failed to save username to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	return nil
}

// GetUsername retrieves the database username from the OS keychain
func (km *KeyringManager) GetUsername() (string, error) {
	username, err := keyring.Get(KeyringService, KeyringUsernameItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return username, nil
}

// DeleteUsername removes the database username from the OS keychain
func (km *KeyringManager) DeleteUsername() error {
	err := keyring.Delete(KeyringService, KeyringUsernameItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}

// IsAvailable checks whether the OS keychain can be used. Headless Linux
// without a Secret Service provider is the common unavailable case.
func (km *KeyringManager) IsAvailable() bool {
	if os.Getenv("GRAPHLINK_NO_KEYRING") != "" {
		return false
	}

	probe := "graphlink-keyring-probe"
	if err := keyring.Set(KeyringService, probe, "ok"); err != nil {
		return false
	}
	keyring.Delete(KeyringService, probe)
	return true
}
