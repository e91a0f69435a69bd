package config

import (
	"os"
	"strings"
)

// DeploymentMode represents the deployment context
type DeploymentMode string

const (
	// ModeDevelopment represents local development (git clone + make dev)
	// - Uses .env file for configuration
	// - Database passwords from .env are acceptable (local containers only)
	ModeDevelopment DeploymentMode = "development"

	// ModePackaged represents packaged installation (brew install, releases)
	// - Single binary distribution (no .env file)
	// - Credentials via: env vars, keychain, config file, or interactive prompt
	ModePackaged DeploymentMode = "packaged"

	// ModeCI represents CI/CD pipeline execution
	// - All credentials from environment variables
	// - No interactive prompts allowed
	ModeCI DeploymentMode = "ci"
)

// DetectMode determines the deployment context based on environment
func DetectMode() DeploymentMode {
	// Explicit mode override (highest priority)
	if mode := os.Getenv("GRAPHLINK_MODE"); mode != "" {
		switch strings.ToLower(mode) {
		case "development", "dev":
			return ModeDevelopment
		case "packaged", "pkg", "production", "prod":
			return ModePackaged
		case "ci", "cicd":
			return ModeCI
		}
	}

	if isCI() {
		return ModeCI
	}

	// Development mode indicators
	if _, err := os.Stat(".env"); err == nil {
		return ModeDevelopment
	}
	if _, err := os.Stat("go.mod"); err == nil {
		return ModeDevelopment
	}
	if _, err := os.Stat("Makefile"); err == nil {
		return ModeDevelopment
	}

	// Otherwise: packaged installation (brew, direct binary)
	return ModePackaged
}

// isCI detects if running in a CI/CD environment
func isCI() bool {
	ciEnvVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"CIRCLECI",
		"JENKINS_URL",
		"BUILDKITE",
	}

	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}

	return false
}

// String returns the string representation of the mode
func (m DeploymentMode) String() string {
	return string(m)
}

// AllowsInteractivePrompts returns true if interactive prompts are allowed
func (m DeploymentMode) AllowsInteractivePrompts() bool {
	return m == ModePackaged
}

// RequiresStrictValidation returns true if mode requires strict validation
func (m DeploymentMode) RequiresStrictValidation() bool {
	return m == ModeCI
}

// ConfigSource returns where credentials should come from
func (m DeploymentMode) ConfigSource() string {
	switch m {
	case ModeDevelopment:
		return ".env file"
	case ModePackaged:
		return "environment variables, keychain, or interactive config"
	case ModeCI:
		return "environment variables only"
	default:
		return "unknown"
	}
}
