package batch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codegraph/graphlink/internal/dispatch"
	"github.com/codegraph/graphlink/internal/query"
)

// Config configures the batch service.
type Config struct {
	// Space is the logical namespace stamped onto every entity that does not
	// already carry one.
	Space string

	// MaxConcurrent bounds how many group statements run at once.
	MaxConcurrent int
}

// DefaultConfig returns the baseline batch policy.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 4}
}

// GroupResult is the outcome for one label or type group within a batch.
type GroupResult struct {
	// Key is the node label or relationship type of the group.
	Key string

	// Count is the number of entities submitted for the group.
	Count int

	// Err is the group's failure, nil on success.
	Err error
}

// Result summarizes one batch submission. Groups fail independently; a batch
// with failures still delivers its healthy groups.
type Result struct {
	Groups    []GroupResult
	Submitted int
	Failed    int
	Elapsed   time.Duration
}

// Service turns entity slices into grouped batch statements and runs them
// through the dispatcher.
type Service struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewService creates a batch service backed by the dispatcher.
func NewService(config Config, d *dispatch.Dispatcher) *Service {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	return &Service{
		config:     config,
		dispatcher: d,
		logger:     slog.Default().With("component", "batch"),
	}
}

// InsertNodes groups nodes by label and submits one statement per group.
func (s *Service) InsertNodes(ctx context.Context, nodes []query.GraphNode) (*Result, error) {
	groups := groupNodes(nodes)
	keys := sortedKeys(groups)

	stmts := make(map[string]query.Statement, len(groups))
	result := &Result{}
	for _, label := range keys {
		members := s.stampNodes(groups[label])
		stmt, err := query.InsertNodesBatch(label, members)
		if err != nil {
			result.Groups = append(result.Groups, GroupResult{Key: label, Count: len(members), Err: err})
			result.Failed += len(members)
			continue
		}
		stmts[label] = stmt
	}

	s.runGroups(ctx, stmts, lenByLabel(groups), result)
	return result, nil
}

// InsertRelationships groups relationships by type and submits one statement
// per group.
func (s *Service) InsertRelationships(ctx context.Context, rels []query.GraphRelationship) (*Result, error) {
	groups := groupRelationships(rels)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stmts := make(map[string]query.Statement, len(groups))
	counts := make(map[string]int, len(groups))
	result := &Result{}
	for _, relType := range keys {
		members := s.stampRelationships(groups[relType])
		counts[relType] = len(members)
		stmt, err := query.InsertRelationshipsBatch(relType, members)
		if err != nil {
			result.Groups = append(result.Groups, GroupResult{Key: relType, Count: len(members), Err: err})
			result.Failed += len(members)
			continue
		}
		stmts[relType] = stmt
	}

	s.runGroups(ctx, stmts, counts, result)
	return result, nil
}

// runGroups executes the per-group statements concurrently. A failed group
// records its error and count; siblings are unaffected.
func (s *Service) runGroups(ctx context.Context, stmts map[string]query.Statement, counts map[string]int, result *Result) {
	start := time.Now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)

	for _, key := range sortedStmtKeys(stmts) {
		key := key
		stmt := stmts[key]
		g.Go(func() error {
			_, err := s.dispatcher.Run(gctx, stmt.Text, stmt.Params)
			mu.Lock()
			defer mu.Unlock()
			result.Groups = append(result.Groups, GroupResult{Key: key, Count: counts[key], Err: err})
			if err != nil {
				result.Failed += counts[key]
				s.logger.Warn("batch group failed",
					"group", key,
					"count", counts[key],
					"error", err)
			} else {
				result.Submitted += counts[key]
			}
			return nil // partial failure does not abort the batch
		})
	}
	g.Wait()

	sort.Slice(result.Groups, func(i, j int) bool { return result.Groups[i].Key < result.Groups[j].Key })
	result.Elapsed = time.Since(start)

	s.logger.Info("batch complete",
		"groups", len(result.Groups),
		"submitted", result.Submitted,
		"failed", result.Failed,
		"elapsed", result.Elapsed)
}

// stampNodes ensures every node carries the service's space property without
// overwriting an explicit one.
func (s *Service) stampNodes(nodes []query.GraphNode) []query.GraphNode {
	if s.config.Space == "" {
		return nodes
	}
	out := make([]query.GraphNode, len(nodes))
	for i, n := range nodes {
		out[i] = n
		out[i].Properties = stampSpace(n.Properties, s.config.Space)
	}
	return out
}

func (s *Service) stampRelationships(rels []query.GraphRelationship) []query.GraphRelationship {
	if s.config.Space == "" {
		return rels
	}
	out := make([]query.GraphRelationship, len(rels))
	for i, r := range rels {
		out[i] = r
		out[i].Properties = stampSpace(r.Properties, s.config.Space)
	}
	return out
}

func stampSpace(props map[string]any, space string) map[string]any {
	if _, ok := props["space"]; ok {
		return props
	}
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["space"] = space
	return out
}

func groupNodes(nodes []query.GraphNode) map[string][]query.GraphNode {
	groups := make(map[string][]query.GraphNode)
	for _, n := range nodes {
		groups[n.Label] = append(groups[n.Label], n)
	}
	return groups
}

func groupRelationships(rels []query.GraphRelationship) map[string][]query.GraphRelationship {
	groups := make(map[string][]query.GraphRelationship)
	for _, r := range rels {
		groups[r.Type] = append(groups[r.Type], r)
	}
	return groups
}

func sortedKeys(groups map[string][]query.GraphNode) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStmtKeys(stmts map[string]query.Statement) []string {
	keys := make([]string, 0, len(stmts))
	for k := range stmts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lenByLabel(groups map[string][]query.GraphNode) map[string]int {
	counts := make(map[string]int, len(groups))
	for k, v := range groups {
		counts[k] = len(v)
	}
	return counts
}
