package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/transport"
)

// CredentialManager handles credential retrieval with priority chain
// Priority: Environment Variables → Keychain → Config File → Interactive Prompt
type CredentialManager struct {
	mode       DeploymentMode
	keyring    *KeyringManager
	configPath string
}

// StoredCredentials is the config-file shape for database credentials
type StoredCredentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager() *CredentialManager {
	mode := DetectMode()
	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".config", "graphlink", "credentials.yaml")

	return &CredentialManager{
		mode:       mode,
		keyring:    NewKeyringManager(),
		configPath: configPath,
	}
}

// GetCredentials retrieves the database credentials using the priority chain
func (cm *CredentialManager) GetCredentials() (transport.Credentials, error) {
	username, err := cm.getUsername()
	if err != nil {
		return transport.Credentials{}, err
	}
	password, err := cm.getPassword()
	if err != nil {
		return transport.Credentials{}, err
	}
	return transport.Credentials{Username: username, Password: password}, nil
}

func (cm *CredentialManager) getUsername() (string, error) {
	// 1. Environment variable (highest priority)
	if user := os.Getenv("GRAPHLINK_USERNAME"); user != "" {
		return user, nil
	}

	// 2. Keychain (macOS/Linux)
	if cm.keyring.IsAvailable() {
		if user, err := cm.keyring.GetUsername(); err == nil && user != "" {
			return user, nil
		}
	}

	// 3. Config file
	if creds, err := cm.loadConfigFile(); err == nil && creds.Username != "" {
		return creds.Username, nil
	}

	// 4. Interactive prompt (only in packaged mode, not in CI)
	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Print("Enter database username: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		user := strings.TrimSpace(line)
		if user != "" {
			if cm.keyring.IsAvailable() {
				cm.keyring.SaveUsername(user)
			}
			return user, nil
		}
	}

	return "", errors.ConfigErrorf(
		"database username not found. Set it via:\n"+
			"  1. Environment variable: export GRAPHLINK_USERNAME=...\n"+
			"  2. Run: graphlink configure (to set up keychain)\n"+
			"  3. Config file: %s", cm.configPath)
}

func (cm *CredentialManager) getPassword() (string, error) {
	// 1. Environment variable (highest priority)
	if pw := os.Getenv("GRAPHLINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	// 2. Keychain (macOS/Linux)
	if cm.keyring.IsAvailable() {
		if pw, err := cm.keyring.GetPassword(); err == nil && pw != "" {
			return pw, nil
		}
	}

	// 3. Config file
	if creds, err := cm.loadConfigFile(); err == nil && creds.Password != "" {
		return creds.Password, nil
	}

	// 4. Interactive prompt (only in packaged mode, not in CI)
	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Print("Enter database password: ")
		pw, err := cm.readSecurely()
		if err != nil {
			return "", err
		}
		if pw != "" {
			if cm.keyring.IsAvailable() {
				if err := cm.keyring.SavePassword(pw); err == nil {
					fmt.Println("✓ Saved to keychain")
				}
			}
			return pw, nil
		}
	}

	return "", errors.ConfigErrorf(
		"database password not found. Set it via:\n"+
			"  1. Environment variable: export GRAPHLINK_PASSWORD=...\n"+
			"  2. Run: graphlink configure (to set up keychain)\n"+
			"  3. Config file: %s", cm.configPath)
}

// SaveCredentials saves credentials to keychain (preferred) or config file (fallback)
func (cm *CredentialManager) SaveCredentials(creds StoredCredentials) error {
	// Try keychain first (macOS/Linux)
	if cm.keyring.IsAvailable() {
		if creds.Username != "" {
			if err := cm.keyring.SaveUsername(creds.Username); err != nil {
				return errors.Wrap(err, errors.KindConfig, errors.SeverityHigh,
					"failed to save username to keychain")
			}
		}
		if creds.Password != "" {
			if err := cm.keyring.SavePassword(creds.Password); err != nil {
				return errors.Wrap(err, errors.KindConfig, errors.SeverityHigh,
					"failed to save password to keychain")
			}
		}
		return nil
	}

	// Fallback: Save to config file
	return cm.saveConfigFile(creds)
}

// loadConfigFile loads credentials from config file
func (cm *CredentialManager) loadConfigFile() (*StoredCredentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds StoredCredentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

// saveConfigFile saves credentials to config file
func (cm *CredentialManager) saveConfigFile(creds StoredCredentials) error {
	// Ensure directory exists
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	// Write file with restrictive permissions (user-only read/write)
	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return err
	}

	return nil
}

// readSecurely reads a password from stdin without echoing
func (cm *CredentialManager) readSecurely() (string, error) {
	// Try to read from terminal (supports password masking)
	if term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // New line after password input
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	// Fallback: Read from stdin (piped input)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped)
func isInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// GetMode returns the current deployment mode
func (cm *CredentialManager) GetMode() DeploymentMode {
	return cm.mode
}

// GetConfigPath returns the path to the config file
func (cm *CredentialManager) GetConfigPath() string {
	return cm.configPath
}

// HasCredentials checks if credentials are configured
func (cm *CredentialManager) HasCredentials() bool {
	// Check environment
	if os.Getenv("GRAPHLINK_USERNAME") != "" && os.Getenv("GRAPHLINK_PASSWORD") != "" {
		return true
	}

	// Check keychain
	if cm.keyring.IsAvailable() {
		if pw, err := cm.keyring.GetPassword(); err == nil && pw != "" {
			return true
		}
	}

	// Check config file
	if creds, err := cm.loadConfigFile(); err == nil && creds.Password != "" {
		return true
	}

	return false
}
