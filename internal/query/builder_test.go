package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeValue(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, "NULL"},
		{"plain string", "hello", `"hello"`},
		{"string with quotes", `say "hi"`, `"say \"hi\""`},
		{"string with backslash", `c:\temp`, `"c:\\temp"`},
		{"string with newline", "line1\nline2", `"line1\nline2"`},
		{"string with tab", "a\tb", `"a\tb"`},
		{"injection attempt", `"}) DETACH DELETE n //`, `"\"}) DETACH DELETE n //"`},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"int", 42, "42"},
		{"negative int64", int64(-7), "-7"},
		{"float", 3.5, "3.5"},
		{"string slice", []string{"a", "b"}, `["a", "b"]`},
		{"any slice", []any{1, "x", nil}, `[1, "x", NULL]`},
		{"map sorted keys", map[string]any{"b": 2, "a": 1}, `{a: 1, b: 2}`},
		{"nested map key with space", map[string]any{"a b": 1}, "{`a b`: 1}"},
		{"nested map key injection", map[string]any{`x"}) DETACH DELETE n //`: 1}, "{`x\"}) DETACH DELETE n //`: 1}"},
		{"nested map key with backtick", map[string]any{"a`b": 1}, "{`a``b`: 1}"},
		{"nested object value", map[string]any{"meta": map[string]any{"a b": "v"}}, "{meta: {`a b`: \"v\"}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeValue(tt.input))
		})
	}
}

func TestInsertNode(t *testing.T) {
	stmt, err := InsertNode(GraphNode{
		Label: "Function",
		ID:    "fn-1",
		Properties: map[string]any{
			"name":  "main",
			"lines": 12,
		},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`MERGE (n:Function {id: "fn-1"}) SET n.lines = 12, n.name = "main"`,
		stmt.Text)
	assert.Empty(t, stmt.Params)
}

func TestInsertNodeValidation(t *testing.T) {
	tests := []struct {
		name string
		node GraphNode
	}{
		{"empty label", GraphNode{ID: "x"}},
		{"label with space", GraphNode{Label: "Bad Label", ID: "x"}},
		{"label injection", GraphNode{Label: "X) DETACH DELETE n //", ID: "x"}},
		{"missing id", GraphNode{Label: "Node"}},
		{"bad property key", GraphNode{Label: "Node", ID: "x", Properties: map[string]any{"a b": 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InsertNode(tt.node)
			assert.Error(t, err)
		})
	}
}

func TestInsertNodeNestedObjectValue(t *testing.T) {
	// Top-level keys are validated; keys inside nested object values only pass
	// through escaping, so they must come out quoted rather than spliced raw.
	stmt, err := InsertNode(GraphNode{
		Label: "Config",
		ID:    "c1",
		Properties: map[string]any{
			"extras": map[string]any{"retry count": 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "MERGE (n:Config {id: \"c1\"}) SET n.extras = {`retry count`: 3}", stmt.Text)
}

func TestUpdateNodeRequiresProperties(t *testing.T) {
	_, err := UpdateNode(GraphNode{Label: "Node", ID: "x"})
	assert.Error(t, err)

	stmt, err := UpdateNode(GraphNode{Label: "Node", ID: "x", Properties: map[string]any{"seen": true}})
	require.NoError(t, err)
	assert.Equal(t, `MATCH (n:Node {id: "x"}) SET n.seen = true`, stmt.Text)
}

func TestDeleteNode(t *testing.T) {
	stmt, err := DeleteNode("Node", `weird"id`)
	require.NoError(t, err)
	assert.Equal(t, `MATCH (n:Node {id: "weird\"id"}) DETACH DELETE n`, stmt.Text)
}

func TestInsertRelationship(t *testing.T) {
	stmt, err := InsertRelationship(GraphRelationship{
		Type:     "CALLS",
		SourceID: "a",
		TargetID: "b",
		Properties: map[string]any{
			"count": 3,
		},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`MATCH (a {id: "a"}) MATCH (b {id: "b"}) MERGE (a)-[r:CALLS]->(b) SET r.count = 3`,
		stmt.Text)
}

func TestRelatedNodes(t *testing.T) {
	stmt, err := RelatedNodes("start-1", 3, []string{"CALLS", "IMPORTS"})
	require.NoError(t, err)
	assert.Equal(t,
		`MATCH (start {id: "start-1"})-[:CALLS|IMPORTS*1..3]-(related) RETURN DISTINCT related`,
		stmt.Text)

	// Empty type list matches any relationship.
	stmt, err = RelatedNodes("start-1", 1, nil)
	require.NoError(t, err)
	assert.Contains(t, stmt.Text, "-[*1..1]-")

	_, err = RelatedNodes("start-1", 0, nil)
	assert.Error(t, err)

	_, err = RelatedNodes("start-1", 2, []string{"BAD TYPE"})
	assert.Error(t, err)
}

func TestShortestPath(t *testing.T) {
	stmt, err := ShortestPath("a", "b", 5)
	require.NoError(t, err)
	assert.Equal(t,
		`MATCH (a {id: "a"}), (b {id: "b"}), p = shortestPath((a)-[*..5]-(b)) RETURN p`,
		stmt.Text)
}

func TestInsertNodesBatch(t *testing.T) {
	nodes := []GraphNode{
		{Label: "File", ID: "f1", Properties: map[string]any{"path": "a.go"}},
		{Label: "File", ID: "f2", Properties: map[string]any{"path": "b.go"}},
	}
	stmt, err := InsertNodesBatch("File", nodes)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stmt.Text, "UNWIND $nodes AS node"))
	rows, ok := stmt.Params["nodes"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "f1", rows[0]["id"])
	assert.Equal(t, map[string]any{"path": "b.go"}, rows[1]["props"])
}

func TestInsertNodesBatchRejectsMixedLabels(t *testing.T) {
	nodes := []GraphNode{
		{Label: "File", ID: "f1"},
		{Label: "Function", ID: "fn1"},
	}
	_, err := InsertNodesBatch("File", nodes)
	assert.Error(t, err)

	_, err = InsertNodesBatch("File", nil)
	assert.Error(t, err)
}

func TestInsertRelationshipsBatch(t *testing.T) {
	rels := []GraphRelationship{
		{Type: "CALLS", SourceID: "a", TargetID: "b"},
		{Type: "CALLS", SourceID: "b", TargetID: "c"},
	}
	stmt, err := InsertRelationshipsBatch("CALLS", rels)
	require.NoError(t, err)

	assert.Contains(t, stmt.Text, "UNWIND $rels AS rel")
	assert.Contains(t, stmt.Text, "MERGE (a)-[r:CALLS]->(b)")
	rows, ok := stmt.Params["rels"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["source"])

	_, err = InsertRelationshipsBatch("CALLS", []GraphRelationship{{Type: "IMPORTS", SourceID: "a", TargetID: "b"}})
	assert.Error(t, err)
}

func TestEnsureSpace(t *testing.T) {
	stmt, err := EnsureSpace("coderepo")
	require.NoError(t, err)
	assert.Equal(t, "CREATE DATABASE coderepo IF NOT EXISTS", stmt.Text)

	_, err = EnsureSpace("bad name")
	assert.Error(t, err)
}
