package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codegraph/graphlink/internal/batch"
	"github.com/codegraph/graphlink/internal/client"
	"github.com/codegraph/graphlink/internal/config"
	"github.com/codegraph/graphlink/internal/query"
)

// insertFile is the JSON input shape: nodes and relationships in one document.
type insertFile struct {
	Nodes []struct {
		Label      string         `json:"label"`
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	} `json:"nodes"`
	Relationships []struct {
		Type       string         `json:"type"`
		SourceID   string         `json:"source"`
		TargetID   string         `json:"target"`
		Properties map[string]any `json:"properties"`
	} `json:"relationships"`
}

var insertCmd = &cobra.Command{
	Use:   "insert <file.json>",
	Short: "Batch-insert nodes and relationships from a JSON file",
	Long: `Read a JSON document of nodes and relationships and insert them in
batches, grouped by label and type. Groups fail independently; the exit
status is non-zero when any group failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runInsert,
}

func runInsert(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var in insertFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("invalid input file: %w", err)
	}
	if len(in.Nodes) == 0 && len(in.Relationships) == 0 {
		return fmt.Errorf("input file has no nodes or relationships")
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

	failed := 0
	if len(in.Nodes) > 0 {
		nodes := make([]query.GraphNode, len(in.Nodes))
		for i, n := range in.Nodes {
			nodes[i] = query.GraphNode{Label: n.Label, ID: n.ID, Properties: n.Properties}
		}
		result, err := c.InsertNodes(ctx, nodes)
		if err != nil {
			return err
		}
		printBatchResult("Nodes", result)
		failed += result.Failed
	}

	if len(in.Relationships) > 0 {
		rels := make([]query.GraphRelationship, len(in.Relationships))
		for i, r := range in.Relationships {
			rels[i] = query.GraphRelationship{Type: r.Type, SourceID: r.SourceID, TargetID: r.TargetID, Properties: r.Properties}
		}
		result, err := c.InsertRelationships(ctx, rels)
		if err != nil {
			return err
		}
		printBatchResult("Relationships", result)
		failed += result.Failed
	}

	if failed > 0 {
		return fmt.Errorf("%d entities failed to insert", failed)
	}
	return nil
}

func printBatchResult(title string, result *batch.Result) {
	fmt.Printf("%s: %d submitted, %d failed in %s\n", title, result.Submitted, result.Failed, result.Elapsed.Round(time.Millisecond))
	for _, g := range result.Groups {
		if g.Err != nil {
			fmt.Printf("  ❌ %s (%d): %v\n", g.Key, g.Count, g.Err)
		} else {
			fmt.Printf("  ✅ %s (%d)\n", g.Key, g.Count)
		}
	}
}
