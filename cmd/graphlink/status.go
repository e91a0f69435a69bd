package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codegraph/graphlink/internal/client"
	"github.com/codegraph/graphlink/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and live pool, queue, and circuit state",
	Long:  `Display the active configuration, connect to the endpoints, and report pool, queue, and circuit health.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fmt.Printf("🔍 GraphLink Status\n")
	fmt.Printf("%s\n", strings.Repeat("═", 50))

	// Configuration info
	fmt.Printf("\n📋 Configuration:\n")
	fmt.Printf("  Space: %s\n", cfg.Space)
	fmt.Printf("  Endpoints: %s\n", strings.Join(cfg.Endpoints, ", "))
	fmt.Printf("  Pool size: %d per endpoint\n", cfg.Pool.Size)
	fmt.Printf("  Buffer size: %d\n", cfg.Dispatch.BufferSize)
	fmt.Printf("  Breaker strategy: %s\n", cfg.Breaker.Strategy)

	cm := config.NewCredentialManager()
	fmt.Printf("\n🔐 Credentials:\n")
	fmt.Printf("  Mode: %s\n", cm.GetMode())
	fmt.Printf("  Source: %s\n", cm.GetMode().ConfigSource())
	if !cm.HasCredentials() {
		fmt.Printf("  Status: ❌ Not configured (run 'graphlink configure')\n")
		return nil
	}
	fmt.Printf("  Status: ✅ Configured\n")

	creds, err := cm.GetCredentials()
	if err != nil {
		return err
	}

	c, err := client.New(cfg, creds)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	fmt.Printf("\n🔌 Pool:\n")
	if err := c.Connect(ctx); err != nil {
		fmt.Printf("  Status: ❌ %v\n", err)
		return nil
	}
	if err := c.WaitReady(ctx, 10*time.Second); err != nil {
		fmt.Printf("  Status: ❌ no connection became ready\n")
		return nil
	}

	stats := c.Stats()
	fmt.Printf("  Status: ✅ Connected\n")
	fmt.Printf("  Connections: %d total, %d ready, %d busy\n", stats.Pool.Total, stats.Pool.Ready, stats.Pool.Busy)
	fmt.Printf("  Queued tasks: %d\n", stats.Queued)

	if len(stats.Circuits) > 0 {
		fmt.Printf("\n⚡ Circuits:\n")
		for _, circuit := range stats.Circuits {
			fmt.Printf("  %s: %s (failures: %d)\n", circuit.Key, circuit.State, circuit.ConsecutiveFailures)
		}
	}
	return nil
}
