package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codegraph/graphlink/internal/client"
	"github.com/codegraph/graphlink/internal/config"
)

var (
	execParams string
	execJSON   bool
)

var execCmd = &cobra.Command{
	Use:   "exec <statement>",
	Short: "Run a single statement against the graph",
	Long: `Run one statement through the full client path: connection pool,
dispatcher, retry strategy, and circuit breaker. Parameters are passed
as a JSON object via --params.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execParams, "params", "", "statement parameters as a JSON object")
	execCmd.Flags().BoolVar(&execJSON, "json", false, "print rows as JSON")
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var params map[string]any
	if execParams != "" {
		if err := json.Unmarshal([]byte(execParams), &params); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
	}

	creds, err := config.NewCredentialManager().GetCredentials()
	if err != nil {
		return err
	}

	c, err := client.New(cfg, creds)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.WaitReady(ctx, 15*time.Second); err != nil {
		return err
	}

	result, err := c.Execute(ctx, args[0], params)
	if err != nil {
		return err
	}

	if execJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Rows)
	}

	fmt.Printf("%d row(s) in %s\n", len(result.Rows), result.Latency.Round(time.Millisecond))
	for i, row := range result.Rows {
		fmt.Printf("  [%d] ", i)
		for _, col := range result.Columns {
			fmt.Printf("%s=%v ", col, row[col])
		}
		fmt.Println()
	}
	return nil
}
