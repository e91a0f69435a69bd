package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codegraph/graphlink/internal/client"
	"github.com/codegraph/graphlink/internal/config"
)

var pingTimeout time.Duration

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect to the configured endpoints and report pool health",
	Long: `Establish the connection pool against the configured endpoints,
wait for at least one connection to become ready, and print a health
summary. Exits non-zero when nothing becomes ready within the timeout.`,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 15*time.Second, "how long to wait for a ready connection")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	creds, err := config.NewCredentialManager().GetCredentials()
	if err != nil {
		return err
	}

	c, err := client.New(cfg, creds)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	start := time.Now()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.WaitReady(ctx, pingTimeout); err != nil {
		return err
	}

	stats := c.Stats()
	fmt.Printf("✅ Connected in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Endpoints: %d\n", len(cfg.Endpoints))
	fmt.Printf("  Connections: %d/%d ready\n", stats.Pool.Ready, stats.Pool.Total)
	return nil
}
