package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codegraph/graphlink/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard (with OS keychain support)",
	Long: `Walk through GraphLink configuration step-by-step with secure
credential storage.

This will configure:
1. Server endpoints and logical space
2. Database credentials (stored in OS keychain by default)
3. Pool and dispatch sizing`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("🔧 GraphLink Configuration Wizard")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	// Load existing config if it exists
	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".graphlink", "config.yaml")
	loadedCfg, err := config.Load(configPath)
	if err != nil {
		loadedCfg = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("⚠️  OS keychain not available (headless system or Linux without libsecret)")
		fmt.Println("   Credentials will be stored in the config file instead.")
		fmt.Println()
	}

	// Step 1: Endpoints
	fmt.Println("Step 1/3: Server endpoints")
	fmt.Printf("  Current: %s\n", strings.Join(loadedCfg.Endpoints, ", "))
	fmt.Print("  Enter endpoints (comma-separated host:port, Enter to keep): ")
	line, _ := reader.ReadString('\n')
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		endpoints := []string{}
		for _, part := range strings.Split(trimmed, ",") {
			if ep := strings.TrimSpace(part); ep != "" {
				endpoints = append(endpoints, ep)
			}
		}
		loadedCfg.Endpoints = endpoints
	}

	fmt.Printf("  Current space: %s\n", loadedCfg.Space)
	fmt.Print("  Enter space name (Enter to keep): ")
	line, _ = reader.ReadString('\n')
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		loadedCfg.Space = trimmed
	}
	fmt.Println()

	// Step 2: Credentials
	fmt.Println("Step 2/3: Database credentials")
	fmt.Print("  Username: ")
	line, _ = reader.ReadString('\n')
	username := strings.TrimSpace(line)

	fmt.Print("  Password: ")
	password, err := readPassword()
	if err != nil {
		return err
	}

	if username != "" || password != "" {
		cm := config.NewCredentialManager()
		if err := cm.SaveCredentials(config.StoredCredentials{
			Username: username,
			Password: password,
		}); err != nil {
			return err
		}
		if keychainAvailable {
			fmt.Println("  ✓ Saved to OS keychain")
		} else {
			fmt.Printf("  ✓ Saved to %s\n", cm.GetConfigPath())
		}
	}
	fmt.Println()

	// Step 3: Validate and save
	fmt.Println("Step 3/3: Save configuration")
	if err := loadedCfg.Validate(); err != nil {
		return err
	}
	if err := loadedCfg.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("✓ Configuration written to %s\n", configPath)
	fmt.Println()
	fmt.Println("Run 'graphlink ping' to verify connectivity.")
	return nil
}
