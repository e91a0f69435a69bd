package batch

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codegraph/graphlink/internal/dispatch"
	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/pool"
	"github.com/codegraph/graphlink/internal/query"
	"github.com/codegraph/graphlink/internal/retry"
	"github.com/codegraph/graphlink/internal/session"
	"github.com/codegraph/graphlink/internal/transport"
)

func newTestService(t *testing.T) (*Service, *transport.MockDriver) {
	t.Helper()

	driver := transport.NewMockDriver()
	sessions := session.NewManager(session.Config{
		Space:       "testspace",
		Credentials: transport.Credentials{Username: "neo4j", Password: "secret"},
	})
	p := pool.New(pool.Config{
		Endpoints:    []transport.Endpoint{{Host: "localhost", Port: 7687}},
		PoolSize:     2,
		PingInterval: time.Hour,
	}, driver, sessions, retry.New(retry.Config{
		MaxAttempts:   1,
		BaseDelay:     time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	}), nil)
	d := dispatch.New(dispatch.DefaultConfig(), p, sessions)
	require.NoError(t, p.Initialize(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Close(ctx)
		p.Close(ctx)
		sessions.Stop()
	})
	return NewService(Config{Space: "testspace"}, d), driver
}

func allExecuted(driver *transport.MockDriver) []string {
	var stmts []string
	for _, mc := range driver.Conns() {
		stmts = append(stmts, mc.Executed()...)
	}
	sort.Strings(stmts)
	return stmts
}

func TestInsertNodesGroupsByLabel(t *testing.T) {
	s, driver := newTestService(t)

	nodes := []query.GraphNode{
		{Label: "File", ID: "f1"},
		{Label: "Function", ID: "fn1"},
		{Label: "File", ID: "f2"},
		{Label: "Function", ID: "fn2"},
		{Label: "File", ID: "f3"},
	}

	result, err := s.InsertNodes(context.Background(), nodes)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Submitted)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Groups, 2)
	assert.Equal(t, "File", result.Groups[0].Key)
	assert.Equal(t, 3, result.Groups[0].Count)
	assert.Equal(t, "Function", result.Groups[1].Key)
	assert.Equal(t, 2, result.Groups[1].Count)

	// One statement per group, each in UNWIND form.
	stmts := allExecuted(driver)
	require.Len(t, stmts, 2)
	for _, stmt := range stmts {
		assert.True(t, strings.HasPrefix(stmt, "UNWIND $nodes AS node"))
	}
}

func TestInsertNodesStampsSpace(t *testing.T) {
	s, _ := newTestService(t)

	stamped := s.stampNodes([]query.GraphNode{
		{Label: "File", ID: "f1", Properties: map[string]any{"path": "a.go"}},
		{Label: "File", ID: "f2", Properties: map[string]any{"space": "custom"}},
	})

	assert.Equal(t, "testspace", stamped[0].Properties["space"])
	assert.Equal(t, "custom", stamped[1].Properties["space"], "explicit space wins")
}

func TestInsertNodesPartialFailure(t *testing.T) {
	s, driver := newTestService(t)

	// The Bad group never builds a statement; the File group still runs.
	nodes := []query.GraphNode{
		{Label: "File", ID: "f1"},
		{Label: "Bad", ID: "", Properties: nil}, // missing id fails the group
		{Label: "File", ID: "f2"},
	}

	result, err := s.InsertNodes(context.Background(), nodes)
	require.NoError(t, err, "partial failure is reported in the result, not as an error")

	assert.Equal(t, 2, result.Submitted)
	assert.Equal(t, 1, result.Failed)

	var badGroup, fileGroup *GroupResult
	for i := range result.Groups {
		switch result.Groups[i].Key {
		case "Bad":
			badGroup = &result.Groups[i]
		case "File":
			fileGroup = &result.Groups[i]
		}
	}
	require.NotNil(t, badGroup)
	require.NotNil(t, fileGroup)
	assert.Error(t, badGroup.Err)
	assert.NoError(t, fileGroup.Err)

	assert.Len(t, allExecuted(driver), 1)
}

func TestInsertNodesDispatchFailureDoesNotAbortSiblings(t *testing.T) {
	s, driver := newTestService(t)
	for _, mc := range driver.Conns() {
		mc.SetExecuteErr(errors.QueryError(nil, "constraint violated"))
	}

	nodes := []query.GraphNode{
		{Label: "File", ID: "f1"},
		{Label: "Function", ID: "fn1"},
	}
	result, err := s.InsertNodes(context.Background(), nodes)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Submitted)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Groups, 2)
	for _, g := range result.Groups {
		assert.Error(t, g.Err)
	}
}

func TestInsertRelationshipsGroupsByType(t *testing.T) {
	s, driver := newTestService(t)

	rels := []query.GraphRelationship{
		{Type: "CALLS", SourceID: "a", TargetID: "b"},
		{Type: "IMPORTS", SourceID: "a", TargetID: "c"},
		{Type: "CALLS", SourceID: "b", TargetID: "c"},
	}

	result, err := s.InsertRelationships(context.Background(), rels)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Submitted)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Groups, 2)
	assert.Equal(t, "CALLS", result.Groups[0].Key)
	assert.Equal(t, 2, result.Groups[0].Count)
	assert.Equal(t, "IMPORTS", result.Groups[1].Key)

	stmts := allExecuted(driver)
	require.Len(t, stmts, 2)
	for _, stmt := range stmts {
		assert.True(t, strings.HasPrefix(stmt, "UNWIND $rels AS rel"))
	}
}

func TestEmptyBatch(t *testing.T) {
	s, driver := newTestService(t)

	result, err := s.InsertNodes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Groups)
	assert.Zero(t, result.Submitted)
	assert.Empty(t, allExecuted(driver))
}
